package astropix

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// RunRecord is one converted run in the catalog.
type RunRecord struct {
	RunID      string `db:"run_id"`
	Source     string `db:"source"`
	Output     string `db:"output"`
	Format     string `db:"format"`
	SchemaUID  uint32 `db:"schema_uid"`
	SchemaName string `db:"schema_name"`
	Readouts   int    `db:"readouts"`
	Hits       int    `db:"hits"`
	CreatedAt  string `db:"created_at"`
}

// Catalog keeps track of the files produced by the decoder.
type Catalog struct {
	DB     *sqlx.DB
	Driver string
}

func ConnectToDatabase(driver string, source string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return sqlx.Connect(driver, source)
}

// MySQLSource builds a DSN in the usual user:pass@(host:port)/dbname form.
func MySQLSource(user string, pass string, host string, dbname string) string {
	port := "3306"
	return fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
}

// OpenCatalog connects to the configured database and brings its schema
// up to date.
func OpenCatalog(config Configuration) (*Catalog, error) {
	source := config.DBSource
	if config.DBDriver == "mysql" && !strings.Contains(source, "@") {
		source = MySQLSource(config.User, config.Passwd, config.Host, config.DBName)
	}
	db, err := ConnectToDatabase(config.DBDriver, source)
	if err != nil {
		errMessage := fmt.Errorf("error connecting to %s catalog: %w", config.DBDriver, err)
		logger.Error(errMessage.Error())
		return nil, errMessage
	}
	catalog := &Catalog{DB: db, Driver: config.DBDriver}
	if err := catalog.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+c.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	var m *migrate.Migrate
	switch c.Driver {
	case "sqlite":
		driver, err := migratesqlite.WithInstance(c.DB.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrate instance: %w", err)
		}
	case "mysql":
		driver, err := migratemysql.WithInstance(c.DB.DB, &migratemysql.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "mysql", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrate instance: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	return m, nil
}

// Migrate runs all pending migrations.
func (c *Catalog) Migrate() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the catalog connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// RegisterRun inserts or replaces a run. A missing creation time is set
// to now.
func (c *Catalog) RegisterRun(ctx context.Context, run RunRecord) error {
	if run.CreatedAt == "" {
		run.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	query := `REPLACE INTO runs (run_id, source, output, format, schema_uid, schema_name, readouts, hits, created_at)
		VALUES (:run_id, :source, :output, :format, :schema_uid, :schema_name, :readouts, :hits, :created_at)`
	if _, err := c.DB.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("error registering run %s: %w", run.RunID, err)
	}
	return nil
}

func (c *Catalog) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var run RunRecord
	query := c.DB.Rebind("SELECT * FROM runs WHERE run_id = ?")
	err := c.DB.GetContext(ctx, &run, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("run %s not found: %w", runID, err)
	}
	return run, err
}

// ListRuns returns every run, oldest first.
func (c *Catalog) ListRuns(ctx context.Context) ([]RunRecord, error) {
	var runs []RunRecord
	if err := c.DB.SelectContext(ctx, &runs, "SELECT * FROM runs"); err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	slices.SortFunc(runs, func(a, b RunRecord) int {
		if n := strings.Compare(a.CreatedAt, b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	return runs, nil
}

func (c *Catalog) Close() error {
	return c.DB.Close()
}
