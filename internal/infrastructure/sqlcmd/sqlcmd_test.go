package sqlcmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container/containertest"
)

func TestForEngine(t *testing.T) {
	tests := []struct {
		kind    migration.EngineKind
		wantErr bool
	}{
		{migration.EnginePostgres, false},
		{migration.EngineMySQL, false},
		{migration.EngineRedis, true},
	}
	for _, tt := range tests {
		d, err := ForEngine(tt.kind)
		if (err != nil) != tt.wantErr {
			t.Errorf("ForEngine(%s) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			continue
		}
		if err == nil && d.Kind() != tt.kind {
			t.Errorf("ForEngine(%s).Kind() = %s", tt.kind, d.Kind())
		}
	}
}

func TestPostgres_QuotesIdentifiersAndLiterals(t *testing.T) {
	d := Postgres{}

	drop := d.DropDatabase(`app"; DROP TABLE x; --`)
	if drop.SQL != `DROP DATABASE IF EXISTS "app""; DROP TABLE x; --"` {
		t.Errorf("unexpected drop statement: %s", drop.SQL)
	}

	create := d.CreateDatabase("app", "appuser")
	if create.SQL != `CREATE DATABASE "app" OWNER "appuser"` {
		t.Errorf("unexpected create statement: %s", create.SQL)
	}

	grant := d.GrantAll("app", "appuser")
	if len(grant) != 1 || grant[0].SQL != `GRANT ALL PRIVILEGES ON DATABASE "app" TO "appuser"` {
		t.Errorf("unexpected grant: %v", grant)
	}
	if strings.Contains(grant[0].SQL, "ALL DATABASES") || strings.Contains(grant[0].SQL, "SUPERUSER") {
		t.Error("grant must be scoped to the database")
	}

	count := d.CountTables("app")
	if count.Database != "app" {
		t.Errorf("expected count to run in app, got %q", count.Database)
	}
}

func TestPostgres_EnsureUserRedactsPassword(t *testing.T) {
	stmts := Postgres{}.EnsureUser("appuser", "s3cr'et")
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	s := stmts[0]
	if !strings.Contains(s.SQL, `'s3cr''et'`) {
		t.Errorf("expected quoted password in SQL: %s", s.SQL)
	}
	if strings.Contains(s.Redacted(), "s3cr") {
		t.Errorf("password leaked in redacted form: %s", s.Redacted())
	}
	if !strings.HasPrefix(s.SQL, "DO $dbmigrate$") || !strings.HasSuffix(s.SQL, "$dbmigrate$") {
		t.Errorf("expected dollar-quoted DO block: %s", s.SQL)
	}
	if strings.Contains(s.SQL, "ALTER ROLE") {
		t.Errorf("existing roles must keep their password: %s", s.SQL)
	}
}

func TestPostgres_DollarTagAvoidsCollision(t *testing.T) {
	s := Postgres{}.EnsureUser("u", "x$dbmigrate$y")[0]
	if !strings.HasPrefix(s.SQL, "DO $dbmigrate1$") {
		t.Errorf("expected alternative tag, got %s", s.SQL[:20])
	}
}

func TestMySQL_CoversBothAccountHosts(t *testing.T) {
	d := MySQL{}
	users := d.EnsureUser("wp", "pw")
	if len(users) != 2 {
		t.Fatalf("expected 2 user statements, got %d", len(users))
	}
	joined := Script(users)
	for _, want := range []string{`CREATE USER IF NOT EXISTS 'wp'@'%'`, `CREATE USER IF NOT EXISTS 'wp'@'localhost'`} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in %s", want, joined)
		}
	}
	if strings.Contains(joined, "ALTER USER") {
		t.Errorf("existing accounts must keep their password: %s", joined)
	}
	if strings.Contains(joined, "'pw'") {
		t.Error("password leaked in script")
	}

	grants := d.GrantAll("wp", "wp")
	if grants[0].SQL != "GRANT ALL PRIVILEGES ON `wp`.* TO 'wp'@'%'" {
		t.Errorf("unexpected grant: %s", grants[0].SQL)
	}
	if grants[len(grants)-1].SQL != "FLUSH PRIVILEGES" {
		t.Error("expected FLUSH PRIVILEGES last")
	}
}

func TestMySQL_Quoting(t *testing.T) {
	if got := quoteIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("quoteIdent = %s", got)
	}
	if got := quoteLiteral(`a'b\c`); got != `'a\'b\\c'` {
		t.Errorf("quoteLiteral = %s", got)
	}
}

func TestCheckUser(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		user    string
		admins  []string
		wantErr bool
	}{
		{"mysql root", MySQL{}, "root", nil, true},
		{"postgres superuser", Postgres{}, "postgres", nil, true},
		{"configured admin", Postgres{}, "admin", []string{"admin"}, true},
		{"empty admin ignored", MySQL{}, "wiki", []string{""}, false},
		{"service user", MySQL{}, "wiki", []string{"root"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUser(tt.dialect, tt.user, tt.admins...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckUser(%q) error = %v, wantErr %v", tt.user, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, migration.ErrPrivilegedUser) {
				t.Errorf("expected ErrPrivilegedUser, got %v", err)
			}
		})
	}
}

func TestProvision_Order(t *testing.T) {
	stmts := Provision(Postgres{}, "app", "appuser", "pw")
	var kinds []string
	for _, s := range stmts {
		kinds = append(kinds, strings.Fields(s.SQL)[0])
	}
	got := strings.Join(kinds, " ")
	want := "SELECT DROP DO CREATE GRANT"
	if got != want {
		t.Errorf("Provision order = %q, want %q", got, want)
	}

	mysqlStmts := Provision(MySQL{}, "wp", "wp", "pw")
	if strings.Fields(mysqlStmts[0].SQL)[0] != "DROP" {
		t.Errorf("mysql provisioning should start with DROP, got %s", mysqlStmts[0].SQL)
	}
}

func TestExecRunner_GroupsByDatabase(t *testing.T) {
	ex := containertest.New()
	var scripts []string
	ex.Handle("target", func(req container.ExecRequest, stdin []byte) (*container.ExecResult, error) {
		scripts = append(scripts, strings.Join(req.Cmd, " ")+"|"+string(stdin))
		return containertest.Reply(""), nil
	})

	r := NewExecRunner(ex, "target", Postgres{}, "", "rootpw")
	err := r.Exec(context.Background(),
		Statement{SQL: "SELECT 1"},
		Statement{SQL: "SELECT 2"},
		Statement{SQL: "SELECT 3", Database: "app"},
	)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 client invocations, got %d", len(scripts))
	}
	if !strings.Contains(scripts[0], "-U postgres -d postgres|SELECT 1;\nSELECT 2;\n") {
		t.Errorf("unexpected first script: %q", scripts[0])
	}
	if !strings.Contains(scripts[1], "-d app|SELECT 3;\n") {
		t.Errorf("unexpected second script: %q", scripts[1])
	}

	calls := ex.CallsTo("target")
	if len(calls[0].Env) != 1 || calls[0].Env[0] != "PGPASSWORD=rootpw" {
		t.Errorf("expected password in env, got %v", calls[0].Env)
	}
	for _, arg := range calls[0].Cmd {
		if strings.Contains(arg, "rootpw") {
			t.Error("password must not appear on the command line")
		}
	}
}

func TestExecRunner_Failure(t *testing.T) {
	ex := containertest.New()
	ex.Handle("target", func(req container.ExecRequest, stdin []byte) (*container.ExecResult, error) {
		return containertest.Fail(1, "ERROR 1045: Access denied"), nil
	})

	r := NewExecRunner(ex, "target", MySQL{}, "root", "")
	err := r.Exec(context.Background(), Statement{SQL: "FLUSH PRIVILEGES"})
	if err == nil || !strings.Contains(err.Error(), "Access denied") {
		t.Errorf("expected access denied error, got %v", err)
	}
	if env := ex.CallsTo("target")[0].Env; len(env) != 0 {
		t.Errorf("expected no password env, got %v", env)
	}
}

func TestExecRunner_QueryInt(t *testing.T) {
	ex := containertest.New()
	ex.Handle("target", func(req container.ExecRequest, stdin []byte) (*container.ExecResult, error) {
		return containertest.Reply("  7\n"), nil
	})

	r := NewExecRunner(ex, "target", MySQL{}, "", "pw")
	n, err := r.QueryInt(context.Background(), MySQL{}.CountTables("wp"))
	if err != nil {
		t.Fatalf("QueryInt() error = %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
	cmd := ex.CallsTo("target")[0].Cmd
	if cmd[0] != "mysql" || cmd[len(cmd)-2] != "-e" {
		t.Errorf("unexpected command: %v", cmd)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"3", 3, false},
		{"count\n12", 12, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseInt(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseInt(%q) = %d, %v", tt.in, got, err)
		}
	}
}
