package logsink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// SQLite stores records in a log_records table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path. ":memory:" is accepted.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS log_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance TEXT NOT NULL,
		source TEXT NOT NULL,
		level INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		time_ns INTEGER NOT NULL,
		remote_time_ns INTEGER,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_records_stream ON log_records(instance, source, seq);
	`)
	return err
}

func (s *SQLite) Write(ctx context.Context, batch []logs.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_records (instance, source, level, seq, time_ns, remote_time_ns, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		var remote sql.NullInt64
		if !r.RemoteTime.IsZero() {
			remote = sql.NullInt64{Int64: r.RemoteTime.UnixNano(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.Instance, string(r.Source), int(r.Level), r.Seq, r.Time.UnixNano(), remote, r.Message); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns one instance's records in emission order. An empty source
// returns both sources, each still in its own order.
func (s *SQLite) Query(ctx context.Context, instance string, source logs.Source) ([]logs.Record, error) {
	query := `SELECT instance, source, level, seq, time_ns, remote_time_ns, message
		FROM log_records WHERE instance = ?`
	args := []any{instance}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY source, seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []logs.Record
	for rows.Next() {
		var (
			r        logs.Record
			src      string
			level    int
			timeNS   int64
			remoteNS sql.NullInt64
		)
		if err := rows.Scan(&r.Instance, &src, &level, &r.Seq, &timeNS, &remoteNS, &r.Message); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Source = logs.Source(src)
		r.Level = logs.Level(level)
		r.Time = time.Unix(0, timeNS)
		if remoteNS.Valid {
			r.RemoteTime = time.Unix(0, remoteNS.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
