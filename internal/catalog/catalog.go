package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	_ "github.com/go-sql-driver/mysql"
)

const describeConcurrency = 4

// Catalog answers the schema questions a replication session needs
type Catalog interface {
	Database() string
	// ChecksumVerification reports whether the server verifies binlog checksums
	ChecksumVerification(ctx context.Context) (bool, error)
	ListTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) ([]ColumnDescriptor, error)
}

// MySQL is a Catalog backed by a regular client connection
type MySQL struct {
	db       *sqlx.DB
	database string
}

// Open connects to the server and selects database
func Open(ctx context.Context, host string, port int, user, password, database string) (*MySQL, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host, port, database)
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog connection: %w", err)
	}
	db.SetMaxOpenConns(describeConcurrency)
	db.SetMaxIdleConns(describeConcurrency)
	return NewMySQL(db, database), nil
}

// NewMySQL wraps an existing connection. Unmatched result columns are ignored.
func NewMySQL(db *sqlx.DB, database string) *MySQL {
	return &MySQL{db: db.Unsafe(), database: database}
}

// Close releases the connection
func (m *MySQL) Close() error {
	return m.db.Close()
}

func (m *MySQL) Database() string {
	return m.database
}

func (m *MySQL) ChecksumVerification(ctx context.Context) (bool, error) {
	var values []string
	err := m.db.SelectContext(ctx, &values,
		"SELECT VARIABLE_VALUE FROM information_schema.GLOBAL_VARIABLES WHERE VARIABLE_NAME LIKE 'MASTER_VERIFY_CHECKSUM'")
	if err != nil {
		return false, fmt.Errorf("failed to query checksum verification: %w", err)
	}
	for _, v := range values {
		if strings.EqualFold(v, "ON") {
			return true, nil
		}
	}
	return false, nil
}

func (m *MySQL) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	if err := m.db.SelectContext(ctx, &tables, "SHOW TABLES"); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

func (m *MySQL) Describe(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	var rows []describeRow
	if err := m.db.SelectContext(ctx, &rows, "DESC "+QuoteIdentifier(table)); err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	columns := make([]ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		col, err := ParseColumn(row)
		if err != nil {
			return nil, fmt.Errorf("failed to describe %s: %w", table, err)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// QuoteIdentifier wraps name in backticks, doubling any embedded backtick
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Snapshot maps "database.table" to the table's columns in server order
type Snapshot map[string][]ColumnDescriptor

// Key builds the snapshot key for a table
func Key(database, table string) string {
	return database + "." + table
}

// Lookup returns the columns of database.table
func (s Snapshot) Lookup(database, table string) ([]ColumnDescriptor, bool) {
	cols, ok := s[Key(database, table)]
	return cols, ok
}

// Load describes every table of the catalog's database. Any failure aborts the load.
func Load(ctx context.Context, c Catalog, logger *logrus.Logger) (Snapshot, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		snapshot = make(Snapshot, len(tables))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(describeConcurrency)
	for _, table := range tables {
		table := table
		group.Go(func() error {
			columns, err := c.Describe(groupCtx, table)
			if err != nil {
				return err
			}
			mu.Lock()
			snapshot[Key(c.Database(), table)] = columns
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	logger.Infof("Loaded column layout for %d tables in %s", len(snapshot), c.Database())
	return snapshot, nil
}
