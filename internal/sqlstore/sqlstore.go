// Package sqlstore provides a database/sql metadata repository backed by
// either SQLite or PostgreSQL. Records live in the file_metadata table,
// one row per file name.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/alexjbarnes/bucket-sync/internal/errors"
	"github.com/alexjbarnes/bucket-sync/internal/models"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS file_metadata (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name          TEXT    NOT NULL UNIQUE,
	file_path          TEXT    NOT NULL DEFAULT '',
	file_size          INTEGER NOT NULL DEFAULT 0,
	last_modified_date INTEGER,
	checksum           TEXT    NOT NULL DEFAULT '',
	version            TEXT    NOT NULL DEFAULT '1',
	bucket             TEXT    NOT NULL DEFAULT '',
	kind               TEXT    NOT NULL DEFAULT 'File'
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS file_metadata (
	id                 BIGSERIAL PRIMARY KEY,
	file_name          TEXT   NOT NULL UNIQUE,
	file_path          TEXT   NOT NULL DEFAULT '',
	file_size          BIGINT NOT NULL DEFAULT 0,
	last_modified_date BIGINT,
	checksum           TEXT   NOT NULL DEFAULT '',
	version            TEXT   NOT NULL DEFAULT '1',
	bucket             TEXT   NOT NULL DEFAULT '',
	kind               TEXT   NOT NULL DEFAULT 'File'
)`

const selectColumns = `file_name, file_path, file_size, last_modified_date, checksum, version, bucket, kind`

const upsertQuery = `
INSERT INTO file_metadata (file_name, file_path, file_size, last_modified_date, checksum, version, bucket, kind)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (file_name) DO UPDATE SET
	file_path          = excluded.file_path,
	file_size          = excluded.file_size,
	last_modified_date = excluded.last_modified_date,
	checksum           = excluded.checksum,
	version            = excluded.version,
	bucket             = excluded.bucket,
	kind               = excluded.kind`

// Store is a SQL-backed metadata repository.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(string(SQLite), path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	return open(db, SQLite)
}

// OpenPostgres connects to the PostgreSQL database at databaseURL.
func OpenPostgres(databaseURL string) (*Store, error) {
	db, err := sql.Open(string(Postgres), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return open(db, Postgres)
}

func open(db *sql.DB, d Dialect) (*Store, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema := sqliteSchema
	if d == Postgres {
		schema = postgresSchema
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByName returns the record stored under name, or nil if none.
func (s *Store) FindByName(ctx context.Context, name string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+selectColumns+` FROM file_metadata WHERE file_name = ?`), name)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, &apperrors.RepositoryError{Op: "find", Name: name, Err: err}
	}

	return rec, nil
}

// Exists reports whether a row exists for name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(1) FROM file_metadata WHERE file_name = ?`), name).Scan(&n)
	if err != nil {
		return false, &apperrors.RepositoryError{Op: "exists", Name: name, Err: err}
	}

	return n > 0, nil
}

// SaveOrUpdate upserts rec, replacing every metadata column of an
// existing row.
func (s *Store) SaveOrUpdate(ctx context.Context, rec models.FileRecord) error {
	rec = models.Normalize(rec)

	if err := s.upsert(ctx, s.db, rec); err != nil {
		return &apperrors.RepositoryError{Op: "save", Name: rec.Name, Err: err}
	}

	return nil
}

// SaveOrUpdateFiles upserts every record inside one transaction. A
// failure rolls back the whole batch.
func (s *Store) SaveOrUpdateFiles(ctx context.Context, recs []models.FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &apperrors.RepositoryError{Op: "save batch", Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	for _, rec := range recs {
		rec = models.Normalize(rec)
		if err := s.upsert(ctx, tx, rec); err != nil {
			return &apperrors.RepositoryError{Op: "save batch", Name: rec.Name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &apperrors.RepositoryError{Op: "save batch", Err: fmt.Errorf("commit: %w", err)}
	}

	return nil
}

// Delete removes the row for name. Deleting a missing name is not an
// error.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM file_metadata WHERE file_name = ?`), name)
	if err != nil {
		return &apperrors.RepositoryError{Op: "delete", Name: name, Err: err}
	}

	return nil
}

// FindAll returns every row ordered by name.
func (s *Store) FindAll(ctx context.Context) ([]models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM file_metadata ORDER BY file_name`)
	if err != nil {
		return nil, &apperrors.RepositoryError{Op: "find all", Err: err}
	}
	defer rows.Close()

	var recs []models.FileRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &apperrors.RepositoryError{Op: "find all", Err: err}
		}

		recs = append(recs, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, &apperrors.RepositoryError{Op: "find all", Err: err}
	}

	return recs, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, ex execer, rec models.FileRecord) error {
	if rec.Name == "" {
		return apperrors.ErrEmptyName
	}

	_, err := ex.ExecContext(ctx, s.rebind(upsertQuery),
		rec.Name,
		rec.Path,
		rec.Size,
		toMillis(rec.ModifiedAt),
		rec.Checksum,
		rec.Version,
		rec.ContainerName,
		rec.Kind,
	)

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*models.FileRecord, error) {
	var (
		rec    models.FileRecord
		millis sql.NullInt64
	)

	err := sc.Scan(&rec.Name, &rec.Path, &rec.Size, &millis, &rec.Checksum, &rec.Version, &rec.ContainerName, &rec.Kind)
	if err != nil {
		return nil, err
	}

	if millis.Valid {
		rec.ModifiedAt = time.UnixMilli(millis.Int64).UTC()
	}

	return &rec, nil
}

// toMillis stores a zero time as NULL.
func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
