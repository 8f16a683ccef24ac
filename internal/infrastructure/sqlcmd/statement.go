// Package sqlcmd builds the SQL statements run against the consolidated
// target and executes them either inside the target container or over a
// direct network connection.
package sqlcmd

import (
	"fmt"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

const redacted = "'********'"

// Statement is one SQL statement. Statements are only produced by the
// constructors of a Dialect so identifiers and literals are always quoted.
type Statement struct {
	SQL string
	// Database is the database the statement runs in. Empty selects the
	// dialect's maintenance database.
	Database string

	secret string
}

// Redacted returns the statement text with any password literal masked.
func (s Statement) Redacted() string {
	if s.secret == "" {
		return s.SQL
	}
	return strings.ReplaceAll(s.SQL, s.secret, redacted)
}

func (s Statement) String() string {
	return s.Redacted()
}

// Dialect constructs statements for one relational engine.
type Dialect interface {
	Kind() migration.EngineKind
	// MaintenanceDB is the database used for statements without one.
	MaintenanceDB() string
	// Superuser is the default administrative account.
	Superuser() string

	TerminateSessions(db string) (Statement, bool)
	DropDatabase(db string) Statement
	CreateDatabase(db, owner string) Statement
	EnsureUser(user, password string) []Statement
	GrantAll(db, user string) []Statement
	CountTables(db string) Statement
	Ping() Statement

	// PasswordEnv returns the client environment carrying password.
	PasswordEnv(password string) []string

	scriptCmd(user, db string) []string
	queryCmd(user, db, sql string) []string
}

// ForEngine returns the dialect of a relational engine.
func ForEngine(kind migration.EngineKind) (Dialect, error) {
	switch kind {
	case migration.EnginePostgres:
		return Postgres{}, nil
	case migration.EngineMySQL:
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("no SQL dialect for engine %q", kind)
	}
}

// CheckUser rejects a service user that is the dialect's superuser or one
// of admins.
func CheckUser(d Dialect, user string, admins ...string) error {
	if user == d.Superuser() {
		return fmt.Errorf("%w: %s", migration.ErrPrivilegedUser, user)
	}
	for _, a := range admins {
		if a != "" && user == a {
			return fmt.Errorf("%w: %s", migration.ErrPrivilegedUser, user)
		}
	}
	return nil
}

// Provision returns the idempotent statement sequence that recreates db
// owned by user with full privileges on db only.
func Provision(d Dialect, db, user, password string) []Statement {
	var stmts []Statement
	if s, ok := d.TerminateSessions(db); ok {
		stmts = append(stmts, s)
	}
	stmts = append(stmts, d.DropDatabase(db))
	stmts = append(stmts, d.EnsureUser(user, password)...)
	stmts = append(stmts, d.CreateDatabase(db, user))
	stmts = append(stmts, d.GrantAll(db, user)...)
	return stmts
}

// Script renders statements as a redacted script, one statement per line.
func Script(stmts []Statement) string {
	var b strings.Builder
	current := ""
	for _, s := range stmts {
		if s.Database != current {
			current = s.Database
			fmt.Fprintf(&b, "-- database: %s\n", current)
		}
		b.WriteString(s.Redacted())
		b.WriteString(";\n")
	}
	return b.String()
}
