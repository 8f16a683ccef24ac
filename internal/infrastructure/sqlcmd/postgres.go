package sqlcmd

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

func (Postgres) Kind() migration.EngineKind { return migration.EnginePostgres }
func (Postgres) MaintenanceDB() string      { return "postgres" }
func (Postgres) Superuser() string          { return "postgres" }

func (Postgres) TerminateSessions(db string) (Statement, bool) {
	return Statement{SQL: fmt.Sprintf(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = %s AND pid <> pg_backend_pid()",
		pq.QuoteLiteral(db))}, true
}

func (Postgres) DropDatabase(db string) Statement {
	return Statement{SQL: "DROP DATABASE IF EXISTS " + pq.QuoteIdentifier(db)}
}

func (Postgres) CreateDatabase(db, owner string) Statement {
	return Statement{SQL: fmt.Sprintf("CREATE DATABASE %s OWNER %s", pq.QuoteIdentifier(db), pq.QuoteIdentifier(owner))}
}

// EnsureUser creates the login role when it does not exist. An existing
// role is left untouched.
func (Postgres) EnsureUser(user, password string) []Statement {
	pass := pq.QuoteLiteral(password)
	body := fmt.Sprintf(`
BEGIN
  IF NOT EXISTS (SELECT FROM pg_catalog.pg_roles WHERE rolname = %s) THEN
    CREATE ROLE %s LOGIN PASSWORD %s;
  END IF;
END
`, pq.QuoteLiteral(user), pq.QuoteIdentifier(user), pass)
	tag := dollarTag(body)
	return []Statement{{SQL: "DO " + tag + body + tag, secret: pass}}
}

func (Postgres) GrantAll(db, user string) []Statement {
	return []Statement{{SQL: fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", pq.QuoteIdentifier(db), pq.QuoteIdentifier(user))}}
}

// CountTables counts the base tables of all user schemas; it runs inside db.
func (Postgres) CountTables(db string) Statement {
	return Statement{
		SQL:      "SELECT count(*) FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema NOT IN ('pg_catalog', 'information_schema')",
		Database: db,
	}
}

func (Postgres) Ping() Statement {
	return Statement{SQL: "SELECT 1"}
}

func (p Postgres) scriptCmd(user, db string) []string {
	if db == "" {
		db = p.MaintenanceDB()
	}
	return []string{"psql", "-X", "-q", "-v", "ON_ERROR_STOP=1", "-U", user, "-d", db}
}

func (p Postgres) queryCmd(user, db, sql string) []string {
	if db == "" {
		db = p.MaintenanceDB()
	}
	return []string{"psql", "-X", "-q", "-A", "-t", "-U", user, "-d", db, "-c", sql}
}

func (Postgres) PasswordEnv(password string) []string {
	if password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + password}
}

// dollarTag returns a dollar-quote tag that does not occur in body.
func dollarTag(body string) string {
	tag := "$dbmigrate$"
	for i := 1; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$dbmigrate%d$", i)
	}
	return tag
}
