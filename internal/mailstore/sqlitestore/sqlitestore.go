// Package sqlitestore provides a SQLite implementation of mailstore.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
)

var tracer = otel.Tracer("github.com/linnemanlabs/courier/internal/mailstore/sqlitestore")

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id          TEXT PRIMARY KEY,
	sender      TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	ts          TEXT NOT NULL,
	is_read     INTEGER NOT NULL DEFAULT 0,
	folder      TEXT NOT NULL,
	attachments TEXT NOT NULL DEFAULT '[]',
	raw         BLOB
);
CREATE INDEX IF NOT EXISTS emails_folder_read ON emails (folder, is_read);
`

const columns = `id, sender, recipient, subject, body, ts, is_read, folder, attachments, raw`

// Store persists mailbox records in a SQLite file.
type Store struct {
	db *sql.DB
}

var _ mailstore.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema. The
// path ":memory:" keeps everything in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection serialises writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := addRawColumn(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// addRawColumn upgrades databases created before the raw column existed.
func addRawColumn(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('emails') WHERE name = 'raw'`).Scan(&n); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE emails ADD COLUMN raw BLOB`); err != nil {
		return fmt.Errorf("add raw column: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, r email.Record) (err error) {
	ctx, span := startSpan(ctx, "sqlitestore.Insert", "INSERT")
	defer func() { endSpan(span, err) }()

	attachments, err := json.Marshal(nonNil(r.Attachments))
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Sender, r.Recipient, r.Subject, r.Body, r.Timestamp, r.IsRead, string(r.Folder), string(attachments), rawParam(r.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrExists, r.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (_ email.Record, err error) {
	ctx, span := startSpan(ctx, "sqlitestore.Get", "SELECT")
	defer func() { endSpan(span, err) }()

	r, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return email.Record{}, fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return r, err
}

func (s *Store) List(ctx context.Context, f mailstore.Filter) (_ []email.Record, err error) {
	ctx, span := startSpan(ctx, "sqlitestore.List", "SELECT")
	defer func() { endSpan(span, err) }()

	query := `SELECT ` + columns + ` FROM emails WHERE 1=1`
	var args []any
	if f.Folder != "" {
		query += ` AND folder = ?`
		args = append(args, string(f.Folder))
	}
	if f.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	out := []email.Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return out, nil
}

func (s *Store) SetRead(ctx context.Context, id string, read bool) (err error) {
	ctx, span := startSpan(ctx, "sqlitestore.SetRead", "UPDATE")
	defer func() { endSpan(span, err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE emails SET is_read = ? WHERE id = ?`, read, id)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "sqlitestore.Delete", "DELETE")
	defer func() { endSpan(span, err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (n int, err error) {
	ctx, span := startSpan(ctx, "sqlitestore.Count", "SELECT")
	defer func() { endSpan(span, err) }()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (email.Record, error) {
	var (
		r           email.Record
		folder      string
		attachments string
		raw         []byte
	)
	if err := row.Scan(&r.ID, &r.Sender, &r.Recipient, &r.Subject, &r.Body, &r.Timestamp, &r.IsRead, &folder, &attachments, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return email.Record{}, err
		}
		return email.Record{}, fmt.Errorf("scan email: %w", err)
	}
	r.Folder = email.Folder(folder)
	if err := json.Unmarshal([]byte(attachments), &r.Attachments); err != nil {
		return email.Record{}, fmt.Errorf("unmarshal attachments for %s: %w", r.ID, err)
	}
	r.Attachments = nonNil(r.Attachments)
	if len(raw) > 0 {
		r.Raw = raw
	}
	return r, nil
}

// rawParam stores a missing message source as NULL.
func rawParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, mailstore.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
