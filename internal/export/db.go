package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/logging"
)

// ErrUnknownDriver is returned by OpenStore for unsupported driver names.
var ErrUnknownDriver = errors.New("unknown database driver")

// DefaultBatchSize is the number of rows written per insert statement.
const DefaultBatchSize = 1000

// DefaultImportIDColumn receives the import id when DBOptions.ImportID is set.
const DefaultImportIDColumn = "import_id"

// Store writes row batches into a table. Rows are positional and match columns.
type Store interface {
	Copy(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Close()
}

// DBOptions configures a database export.
type DBOptions struct {
	Driver string // postgres, sqlite, mysql or sqlserver
	DSN    string
	Table  string // optionally schema qualified

	// ImportID, when not zero, is written to ImportIDColumn on every row.
	ImportID       uuid.UUID
	ImportIDColumn string

	BatchSize int
}

// NormalizeDriver maps driver aliases to their canonical name.
func NormalizeDriver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return "postgres", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "mysql", "mariadb":
		return "mysql", nil
	case "sqlserver", "mssql":
		return "sqlserver", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, name)
}

// OpenStore connects to the database and verifies the connection.
func OpenStore(ctx context.Context, driver, dsn string) (Store, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}

	if name == "postgres" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return NewPostgresStore(pool), nil
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLStore(name, db)
}

// ----------------------------------------------------------------------------
// Postgres
// ----------------------------------------------------------------------------

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore writes through COPY FROM on an existing pool.
// Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Copy(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := s.pool.CopyFrom(ctx, splitTable(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

func (s *pgStore) Close() { s.pool.Close() }

// splitTable turns "schema.table" into a pgx identifier.
func splitTable(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

// ----------------------------------------------------------------------------
// database/sql drivers through goqu
// ----------------------------------------------------------------------------

// dialects maps a driver name to its goqu dialect and bind parameter limit.
var dialects = map[string]struct {
	name      string
	maxParams int
}{
	"sqlite":    {name: "sqlite3", maxParams: 32766},
	"mysql":     {name: "mysql", maxParams: 65535},
	"sqlserver": {name: "sqlserver", maxParams: 2100},
}

type sqlStore struct {
	db        *sql.DB
	qb        *goqu.Database
	maxParams int
}

// NewSQLStore wraps an open database/sql handle for driver (sqlite, mysql or
// sqlserver). Close closes db.
func NewSQLStore(driver string, db *sql.DB) (Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return &sqlStore{db: db, qb: goqu.New(d.name, db), maxParams: d.maxParams}, nil
}

// Copy inserts rows in one transaction, split so that no statement exceeds
// the dialect's bind parameter limit.
func (s *sqlStore) Copy(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return 0, nil
	}

	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}
	per := max(1, (s.maxParams-1)/len(columns))

	var total int64
	err := s.qb.WithTx(func(tx *goqu.TxDatabase) error {
		for start := 0; start < len(rows); start += per {
			end := min(start+per, len(rows))
			res, err := tx.Insert(goqu.I(table)).
				Cols(cols...).
				Vals(rows[start:end]...).
				Prepared(true).
				Executor().
				ExecContext(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return total, nil
}

func (s *sqlStore) Close() { s.db.Close() }

// ----------------------------------------------------------------------------
// Export
// ----------------------------------------------------------------------------

// DB opens the configured database, writes records and closes it.
func DB(ctx context.Context, records []core.Record, opts DBOptions) (int64, error) {
	store, err := OpenStore(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return WriteDB(ctx, store, records, opts)
}

// WriteDB writes records to opts.Table in batches of opts.BatchSize. Columns
// are the union of record keys; missing fields are written as NULL. Returns
// the number of rows written.
func WriteDB(ctx context.Context, store Store, records []core.Record, opts DBOptions) (int64, error) {
	if opts.Table == "" {
		return 0, errors.New("no target table configured")
	}
	if len(records) == 0 {
		return 0, nil
	}

	columns := Columns(records)
	withID := opts.ImportID != uuid.Nil
	if withID {
		idCol := opts.ImportIDColumn
		if idCol == "" {
			idCol = DefaultImportIDColumn
		}
		columns = append([]string{idCol}, columns...)
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, 0, len(columns))
		keys := columns
		if withID {
			row = append(row, opts.ImportID.String())
			keys = columns[1:]
		}
		for _, key := range keys {
			v, _ := rec.Get(key)
			s, err := scalar(v)
			if err != nil {
				return 0, fmt.Errorf("column %s: %w", key, err)
			}
			row = append(row, s)
		}
		rows = append(rows, row)
	}

	n, err := loadBatches(ctx, opts.Table, columns, rows, opts.BatchSize, store.Copy)
	if err != nil {
		return n, err
	}

	logging.FromContext(ctx).Debug("records written to database",
		"table", opts.Table,
		"rows", n,
	)
	return n, nil
}

type copyFn func(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

// loadBatches sends rows to write in slices of batchSize, stopping at the
// first error or when ctx ends.
func loadBatches(ctx context.Context, table string, columns []string, rows [][]any, batchSize int, write copyFn) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+batchSize, len(rows))
		n, err := write(ctx, table, columns, rows[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
