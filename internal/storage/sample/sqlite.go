package sample

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists rows and coverage in a single SQLite database.
// Safe for concurrent use; SQLite serialises writers.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database pinned to one connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		collector TEXT NOT NULL,
		keyword TEXT NOT NULL,
		ts INTEGER NOT NULL,
		id TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		fields TEXT,
		PRIMARY KEY (collector, keyword, ts, id)
	);

	CREATE TABLE IF NOT EXISTS coverage (
		collector TEXT NOT NULL,
		keyword TEXT NOT NULL,
		grid INTEGER NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		PRIMARY KEY (collector, keyword, grid, start_ts)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func storeErr(op string, err error) error {
	return core.WrapError(core.ErrStoreFailed, fmt.Errorf("%s: %w", op, err))
}

// Load returns rows within iv ordered by time then id.
func (s *SQLiteStore) Load(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) ([]core.SampleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, id, value, partial, fields FROM samples
		WHERE collector = ? AND keyword = ? AND ts >= ? AND ts < ?
		ORDER BY ts, id
	`, key.Collector, key.Keyword, iv.Start.UnixNano(), iv.End.UnixNano())
	if err != nil {
		return nil, storeErr("load rows", err)
	}
	defer rows.Close()

	var result []core.SampleRow
	for rows.Next() {
		var (
			ts      int64
			row     core.SampleRow
			partial int
			fields  sql.NullString
		)
		if err := rows.Scan(&ts, &row.ID, &row.Value, &partial, &fields); err != nil {
			return nil, storeErr("scan row", err)
		}
		row.Keyword = key.Keyword
		row.Time = time.Unix(0, ts).UTC()
		row.Partial = partial != 0
		if fields.Valid {
			decoded, err := decodeFields([]byte(fields.String))
			if err != nil {
				return nil, storeErr("decode fields", err)
			}
			row.Fields = decoded
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate rows", err)
	}
	return result, nil
}

// Delete removes rows within iv.
func (s *SQLiteStore) Delete(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM samples WHERE collector = ? AND keyword = ? AND ts >= ? AND ts < ?
	`, key.Collector, key.Keyword, iv.Start.UnixNano(), iv.End.UnixNano())
	if err != nil {
		return storeErr("delete rows", err)
	}
	return nil
}

// Append upserts rows in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, key core.SeriesKey, rows []core.SampleRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (collector, keyword, ts, id, value, partial, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collector, keyword, ts, id) DO UPDATE SET
			value = excluded.value,
			partial = excluded.partial,
			fields = excluded.fields
	`)
	if err != nil {
		return storeErr("prepare insert", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var fields any
		b, err := encodeFields(row.Fields)
		if err != nil {
			return storeErr("encode fields", err)
		}
		if b != nil {
			fields = string(b)
		}
		partial := 0
		if row.Partial {
			partial = 1
		}
		if _, err := stmt.ExecContext(ctx, key.Collector, key.Keyword,
			row.Time.UnixNano(), row.ID, row.Value, partial, fields); err != nil {
			return storeErr("insert row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// LoadCoverage returns stored intervals ordered by start.
func (s *SQLiteStore) LoadCoverage(ctx context.Context, key core.CoverageKey) ([]core.TimeInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ts, end_ts FROM coverage
		WHERE collector = ? AND keyword = ? AND grid = ?
		ORDER BY start_ts
	`, key.Collector, key.Keyword, int64(key.Grid))
	if err != nil {
		return nil, storeErr("load coverage", err)
	}
	defer rows.Close()

	var result []core.TimeInterval
	for rows.Next() {
		var start, end int64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, storeErr("scan coverage", err)
		}
		result = append(result, core.TimeInterval{
			Start: time.Unix(0, start).UTC(),
			End:   time.Unix(0, end).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate coverage", err)
	}
	return result, nil
}

// ReplaceCoverage deletes and re-inserts coverage for key in one transaction.
func (s *SQLiteStore) ReplaceCoverage(ctx context.Context, key core.CoverageKey, intervals []core.TimeInterval) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM coverage WHERE collector = ? AND keyword = ? AND grid = ?
	`, key.Collector, key.Keyword, int64(key.Grid)); err != nil {
		return storeErr("clear coverage", err)
	}

	for _, iv := range intervals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO coverage (collector, keyword, grid, start_ts, end_ts)
			VALUES (?, ?, ?, ?, ?)
		`, key.Collector, key.Keyword, int64(key.Grid), iv.Start.UnixNano(), iv.End.UnixNano()); err != nil {
			return storeErr("insert coverage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}
