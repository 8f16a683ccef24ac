package engine

import "github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"

// mysqlTool drives mysqldump and the mysql client.
type mysqlTool struct{}

func (mysqlTool) dumpCmd(user, db string) []string {
	return []string{"mysqldump", "-u", user, "--single-transaction", "--routines", "--triggers", "--no-tablespaces", db}
}

// importCmd keeps going after a failed statement; the exit code still
// reports the failure.
func (mysqlTool) importCmd(user, db string) []string {
	return []string{"mysql", "--force", "-u", user, db}
}

func (mysqlTool) importError(res *container.ExecResult) error {
	return res.ExitError("mysql")
}
