package repo

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type simpleRows struct {
	rows []func(dest ...any) error
	idx  int
}

func (r *simpleRows) Close()                                       {}
func (r *simpleRows) Err() error                                   { return nil }
func (r *simpleRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *simpleRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *simpleRows) Values() ([]any, error)                       { return nil, nil }
func (r *simpleRows) RawValues() [][]byte                          { return nil }
func (r *simpleRows) Conn() *pgx.Conn                              { return nil }

func (r *simpleRows) Next() bool {
	return r.idx < len(r.rows)
}

func (r *simpleRows) Scan(dest ...any) error {
	scan := r.rows[r.idx]
	r.idx++
	return scan(dest...)
}

type call struct {
	query string
	args  []any
}

// fakeDB satisfies db.DBTX and records every call.
type fakeDB struct {
	calls []call

	execTag  pgconn.CommandTag
	execErr  error
	queryRow func(query string, args []any) pgx.Row
	query    func(query string, args []any) (pgx.Rows, error)
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{query: query, args: args})
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, call{query: query, args: args})
	if f.query == nil {
		return &simpleRows{}, nil
	}
	return f.query(query, args)
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{query: query, args: args})
	if f.queryRow == nil {
		return simpleRow{}
	}
	return f.queryRow(query, args)
}

func (f *fakeDB) lastCall() call {
	return f.calls[len(f.calls)-1]
}

func queryContains(query, fragment string) bool {
	return strings.Contains(strings.Join(strings.Fields(query), " "), fragment)
}
