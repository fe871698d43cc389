// Package store implements the compressed columnar file underneath a run:
// a single DuckDB database holding the named event tables plus their
// attribute dictionaries. It is strictly single-writer; readers open the
// file only after the writer has closed it.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/marcboeker/go-duckdb"

	"github.com/pixelstream/evstore/internal/config"
	everrors "github.com/pixelstream/evstore/internal/errors"
)

const (
	// TableData is the per-pixel event table.
	TableData = "data"

	// TableMonitor is the per-module telemetry table.
	TableMonitor = "monitor"

	// attrsTable holds one JSON attribute dictionary per table.
	attrsTable = "table_attrs"
)

// Mode selects how a store file is opened.
type Mode int

const (
	// ModeWrite creates a fresh file, removing any previous one at the path.
	ModeWrite Mode = iota
	// ModeRead opens an existing file read-only.
	ModeRead
)

// Store is the columnar file abstraction. All mutation goes through the
// appender-based AppendBatch; attribute dictionaries are written once per
// table via SetMetadata with last-write-wins semantics.
type Store struct {
	mu        sync.Mutex
	path      string
	mode      Mode
	connector *duckdb.Connector
	db        *sql.DB
	closed    bool

	// tables caches the evolving schema of every table created through
	// this store, in column order.
	tables map[string]Schema
}

// Open creates (ModeWrite) or opens (ModeRead) a columnar store file.
func Open(path string, mode Mode, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	dsn := path
	switch mode {
	case ModeWrite:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		// A run always starts from an empty file.
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove existing file: %w", err)
			}
			_ = os.Remove(path + ".wal")
		}
	case ModeRead:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		dsn = path + "?access_mode=read_only"
	}

	connector, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Store.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Store.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	s := &Store{
		path:      path,
		mode:      mode,
		connector: connector,
		db:        db,
		tables:    make(map[string]Schema),
	}

	if mode == ModeWrite {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (tbl VARCHAR PRIMARY KEY, attrs VARCHAR)", attrsTable)
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create attrs table: %w", err)
		}
	}

	return s, nil
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying database for read-side queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendBatch appends homogeneous rows to the named table, creating it on
// first use. Later batches may introduce columns earlier ones lacked; the
// new columns are added to the table and earlier rows take the declared
// default.
func (s *Store) AppendBatch(ctx context.Context, table string, schema Schema, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return everrors.ErrStoreClosed
	}

	full, err := s.ensureSchema(ctx, table, schema)
	if err != nil {
		return err
	}

	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect for append: %w", err)
	}
	defer conn.Close()

	appender, err := duckdb.NewAppenderFromConn(conn, "", table)
	if err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	values := make([]driver.Value, len(full))
	for i, row := range rows {
		for j, col := range full {
			v, ok := row[col.Name]
			if !ok {
				v = col.Default
			}
			cv, err := coerceValue(col.Type, v)
			if err != nil {
				_ = appender.Close()
				return fmt.Errorf("table %s row %d column %s: %w", table, i, col.Name, err)
			}
			values[j] = cv
		}
		if err := appender.AppendRow(values...); err != nil {
			_ = appender.Close()
			return fmt.Errorf("append row %d: %w", i, err)
		}
	}

	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush appender: %w", err)
	}
	return nil
}

// ensureSchema creates the table on first append and grows it when a batch
// introduces new columns. It returns the full column set in table order.
func (s *Store) ensureSchema(ctx context.Context, table string, schema Schema) (Schema, error) {
	existing, ok := s.tables[table]
	if !ok {
		if _, err := s.db.ExecContext(ctx, createTableSQL(table, schema)); err != nil {
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}
		s.tables[table] = append(Schema(nil), schema...)
		return s.tables[table], nil
	}

	for _, col := range schema {
		if _, found := existing.Column(col.Name); found {
			continue
		}
		if _, err := s.db.ExecContext(ctx, addColumnSQL(table, col)); err != nil {
			return nil, fmt.Errorf("add column %s.%s: %w", table, col.Name, err)
		}
		existing = append(existing, col)
	}
	s.tables[table] = existing
	return existing, nil
}

// SetMetadata replaces the attribute dictionary of a table. Last write
// wins; callers merge beforehand if they need accumulation.
func (s *Store) SetMetadata(ctx context.Context, table string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return everrors.ErrStoreClosed
	}

	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attrs: %w", err)
	}

	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (tbl, attrs) VALUES (?, ?)", attrsTable)
	if _, err := s.db.ExecContext(ctx, stmt, table, string(encoded)); err != nil {
		return fmt.Errorf("write attrs for %s: %w", table, err)
	}
	return nil
}

// Metadata returns the attribute dictionary of a table. A table that never
// had metadata written yields an empty map.
func (s *Store) Metadata(ctx context.Context, table string) (map[string]any, error) {
	stmt := fmt.Sprintf("SELECT attrs FROM %s WHERE tbl = ?", attrsTable)

	var encoded string
	err := s.db.QueryRowContext(ctx, stmt, table).Scan(&encoded)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attrs for %s: %w", table, err)
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(encoded), &attrs); err != nil {
		return nil, fmt.Errorf("decode attrs for %s: %w", table, err)
	}
	return attrs, nil
}

// HasTable reports whether the named table exists in the file.
func (s *Store) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close duckdb: %w", err)
	}
	return nil
}

