package kmcal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// SequenceAllocator mints strictly increasing values per counter name.
// Every successful call consumes exactly one value; a failed call consumes
// none. Implementations must serialize concurrent callers so no value is
// ever returned twice.
type SequenceAllocator interface {
	NextValue(ctx context.Context, name string) (int64, error)
}

const (
	counterTableName        = "global_counters"
	counterOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresCounter persists counters in a single (name, value) table and
// increments inside one transaction: upsert the row at zero, then
// UPDATE ... RETURNING. The row lock taken by the UPDATE serializes
// concurrent callers; a rollback leaves no partial increment visible.
type PostgresCounter struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresCounter(dsn string) (*PostgresCounter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: counter dsn", ErrMissingConfig)
	}
	return &PostgresCounter{
		dsn:       dsn,
		tableName: counterTableName,
		openDB:    sql.Open,
	}, nil
}

func (c *PostgresCounter) NextValue(ctx context.Context, name string) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: counter is nil", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: counter name is required", ErrInvalidInput)
	}
	if err := c.ensureReady(); err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (name, value)
		VALUES ($1, 0)
		ON CONFLICT (name) DO NOTHING`, quoteIdentifier(c.tableName))
	if _, err := tx.ExecContext(ctx, insertQuery, name); err != nil {
		return 0, err
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s
		SET value = value + 1
		WHERE name = $1
		RETURNING value`, quoteIdentifier(c.tableName))
	var value int64
	if err := tx.QueryRowContext(ctx, updateQuery, name).Scan(&value); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return value, nil
}

func (c *PostgresCounter) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PostgresCounter) ensureReady() error {
	if c == nil {
		return fmt.Errorf("%w: counter is nil", ErrInvalidInput)
	}
	c.initOnce.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), counterOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				value BIGINT NOT NULL
			)`, quoteIdentifier(c.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

// InMemoryCounter keeps counters in a mutex-guarded map. It backs tests
// and the memory:// DSN; values do not survive a restart.
type InMemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{values: map[string]int64{}}
}

func (c *InMemoryCounter) NextValue(ctx context.Context, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: counter name is required", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name]++
	return c.values[name], nil
}

// BuildCounterFromDSN selects an allocator implementation by DSN scheme:
// memory:// for the in-process counter, postgres:// for the durable one.
func BuildCounterFromDSN(dsn string) (SequenceAllocator, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: counter dsn", ErrMissingConfig)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryCounter(), nil
	case "postgres", "postgresql":
		return NewPostgresCounter(dsn)
	default:
		return nil, fmt.Errorf("unsupported counter scheme: %s", scheme)
	}
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
