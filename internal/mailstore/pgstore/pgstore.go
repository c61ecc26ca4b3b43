// Package pgstore provides a PostgreSQL implementation of mailstore.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
)

var tracer = otel.Tracer("github.com/linnemanlabs/courier/internal/mailstore/pgstore")

//go:embed schema.sql
var schema string

const columns = `id, sender, recipient, subject, body, ts, is_read, folder, attachments, raw`

// Store persists mailbox records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ mailstore.Store = (*Store)(nil)

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Insert adds a record. An existing id yields mailstore.ErrExists.
func (s *Store) Insert(ctx context.Context, r email.Record) (err error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer func() { endSpan(span, err) }()

	attachments, err := json.Marshal(nonNil(r.Attachments))
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO emails (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Sender, r.Recipient, r.Subject, r.Body, r.Timestamp, r.IsRead, string(r.Folder), attachments, rawParam(r.Raw),
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrExists, r.ID)
	}
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (_ email.Record, err error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer func() { endSpan(span, err) }()

	r, err := scan(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM emails WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return email.Record{}, fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return r, err
}

// List returns matching records in insertion order.
func (s *Store) List(ctx context.Context, f mailstore.Filter) (_ []email.Record, err error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer func() { endSpan(span, err) }()

	query := `SELECT ` + columns + ` FROM emails WHERE ($1 = '' OR folder = $1) AND (NOT $2 OR NOT is_read) ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, string(f.Folder), f.UnreadOnly)
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
	ctx, span := startSpan(ctx, "pgstore.SetRead", "UPDATE")
	defer func() { endSpan(span, err) }()

	tag, err := s.pool.Exec(ctx, `UPDATE emails SET is_read = $2 WHERE id = $1`, id, read)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer func() { endSpan(span, err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (n int, err error) {
	ctx, span := startSpan(ctx, "pgstore.Count", "SELECT")
	defer func() { endSpan(span, err) }()

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// scan reads one row. pgx.ErrNoRows is returned unwrapped.
func scan(row pgx.Row) (email.Record, error) {
	var (
		r           email.Record
		folder      string
		attachments []byte
		raw         []byte
	)
	if err := row.Scan(&r.ID, &r.Sender, &r.Recipient, &r.Subject, &r.Body, &r.Timestamp, &r.IsRead, &folder, &attachments, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return email.Record{}, err
		}
		return email.Record{}, fmt.Errorf("scan: %w", err)
	}
	r.Folder = email.Folder(folder)
	if err := json.Unmarshal(attachments, &r.Attachments); err != nil {
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
		attribute.String("db.system", "postgresql"),
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
