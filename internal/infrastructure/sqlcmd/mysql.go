package sqlcmd

import (
	"fmt"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// MySQL is the MySQL and MariaDB dialect.
type MySQL struct{}

// userHosts are the account hosts created for every service user: the
// networked wildcard and the local socket account.
var userHosts = []string{"%", "localhost"}

func (MySQL) Kind() migration.EngineKind { return migration.EngineMySQL }
func (MySQL) MaintenanceDB() string      { return "" }
func (MySQL) Superuser() string          { return "root" }

func (MySQL) TerminateSessions(string) (Statement, bool) {
	return Statement{}, false
}

func (MySQL) DropDatabase(db string) Statement {
	return Statement{SQL: "DROP DATABASE IF EXISTS " + quoteIdent(db)}
}

func (MySQL) CreateDatabase(db, _ string) Statement {
	return Statement{SQL: "CREATE DATABASE " + quoteIdent(db)}
}

// EnsureUser creates both accounts of user when absent. Existing accounts
// keep their password.
func (MySQL) EnsureUser(user, password string) []Statement {
	pass := quoteLiteral(password)
	var stmts []Statement
	for _, host := range userHosts {
		account := quoteLiteral(user) + "@" + quoteLiteral(host)
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY %s", account, pass), secret: pass})
	}
	return stmts
}

func (MySQL) GrantAll(db, user string) []Statement {
	var stmts []Statement
	for _, host := range userHosts {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO %s@%s", quoteIdent(db), quoteLiteral(user), quoteLiteral(host))})
	}
	return append(stmts, Statement{SQL: "FLUSH PRIVILEGES"})
}

func (MySQL) CountTables(db string) Statement {
	return Statement{SQL: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = " + quoteLiteral(db) + " AND table_type = 'BASE TABLE'"}
}

func (MySQL) Ping() Statement {
	return Statement{SQL: "SELECT 1"}
}

func (MySQL) scriptCmd(user, db string) []string {
	cmd := []string{"mysql", "--batch", "-u", user}
	if db != "" {
		cmd = append(cmd, db)
	}
	return cmd
}

func (MySQL) queryCmd(user, db, sql string) []string {
	cmd := []string{"mysql", "--batch", "--skip-column-names", "-u", user, "-e", sql}
	if db != "" {
		cmd = append(cmd, db)
	}
	return cmd
}

func (MySQL) PasswordEnv(password string) []string {
	if password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + password}
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
)

func quoteLiteral(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}
