package sqlcmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// DirectRunner executes statements over a network connection to the target.
// One connection pool is kept per database.
type DirectRunner struct {
	dialect  Dialect
	addr     string
	user     string
	password string

	open func(driver, dsn string) (*sql.DB, error)

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDirectRunner creates a runner connecting to addr (host:port).
func NewDirectRunner(dialect Dialect, addr, user, password string) *DirectRunner {
	if user == "" {
		user = dialect.Superuser()
	}
	return &DirectRunner{
		dialect:  dialect,
		addr:     addr,
		user:     user,
		password: password,
		open:     sql.Open,
		pools:    make(map[string]*sql.DB),
	}
}

func (r *DirectRunner) Exec(ctx context.Context, stmts ...Statement) error {
	for _, s := range stmts {
		db, err := r.pool(s.Database)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, s.SQL); err != nil {
			return fmt.Errorf("failed to execute %q: %w", truncate(s.Redacted()), err)
		}
	}
	return nil
}

func (r *DirectRunner) QueryInt(ctx context.Context, stmt Statement) (int64, error) {
	db, err := r.pool(stmt.Database)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, stmt.SQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query %q: %w", truncate(stmt.Redacted()), err)
	}
	return n, nil
}

func (r *DirectRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result *multierror.Error
	for name, db := range r.pools {
		if err := db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(r.pools, name)
	}
	return result.ErrorOrNil()
}

func (r *DirectRunner) pool(database string) (*sql.DB, error) {
	if database == "" {
		database = r.dialect.MaintenanceDB()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.pools[database]; ok {
		return db, nil
	}
	driver, dsn, err := r.dsn(database)
	if err != nil {
		return nil, err
	}
	db, err := r.open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", r.dialect.Kind(), err)
	}
	db.SetMaxOpenConns(2)
	r.pools[database] = db
	return db, nil
}

// dsn returns the driver name and connection string for database.
func (r *DirectRunner) dsn(database string) (string, string, error) {
	switch r.dialect.Kind() {
	case migration.EnginePostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(r.user, r.password),
			Host:     r.addr,
			Path:     "/" + database,
			RawQuery: "sslmode=disable",
		}
		return "pgx", u.String(), nil
	case migration.EngineMySQL:
		cfg := mysql.NewConfig()
		cfg.User = r.user
		cfg.Passwd = r.password
		cfg.Net = "tcp"
		cfg.Addr = r.addr
		cfg.DBName = database
		return "mysql", cfg.FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("no driver for engine %q", r.dialect.Kind())
	}
}

func truncate(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
