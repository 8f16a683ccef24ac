package engine

import (
	"fmt"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
)

// pgTool drives pg_dump and psql.
type pgTool struct{}

func (pgTool) dumpCmd(user, db string) []string {
	return []string{"pg_dump", "--no-password", "-U", user, "-d", db}
}

// importCmd does not stop on errors; failed statements are reported on stderr.
func (pgTool) importCmd(user, db string) []string {
	return []string{"psql", "-X", "-q", "--no-password", "-U", user, "-d", db}
}

func (pgTool) importError(res *container.ExecResult) error {
	if err := res.ExitError("psql"); err != nil {
		return err
	}
	var errs []string
	for _, line := range strings.Split(res.Stderr, "\n") {
		if strings.Contains(line, "ERROR:") {
			errs = append(errs, strings.TrimSpace(line))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("psql reported %d error(s), first: %s", len(errs), errs[0])
}
