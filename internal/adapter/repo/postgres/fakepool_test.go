package postgres

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// assignComplex handles the scan destinations scanInto's fast path
// doesn't: time.Time/*time.Time and named string/int/float/bool types
// (domain.CompilationOutcome, domain.Priority, etc.) via reflection.
func assignComplex(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errors.New("scanInto: dest must be a non-nil pointer")
	}
	elem := dv.Elem()

	if t, ok := dest.(*time.Time); ok {
		switch s := src.(type) {
		case time.Time:
			*t = s
		case nil:
		default:
			return errors.New("scanInto: expected time.Time")
		}
		return nil
	}
	if t, ok := dest.(**time.Time); ok {
		switch s := src.(type) {
		case *time.Time:
			*t = s
		case time.Time:
			v := s
			*t = &v
		case nil:
			*t = nil
		default:
			return errors.New("scanInto: expected *time.Time")
		}
		return nil
	}

	sv := reflect.ValueOf(src)
	if !sv.IsValid() {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}

	switch elem.Kind() {
	case reflect.String:
		if sv.Kind() != reflect.String {
			return errors.New("scanInto: expected a string-kinded value")
		}
		elem.SetString(sv.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		if sv.Kind() < reflect.Int || sv.Kind() > reflect.Int64 {
			return errors.New("scanInto: expected an int-kinded value")
		}
		elem.SetInt(sv.Int())
	case reflect.Float64, reflect.Float32:
		if sv.Kind() != reflect.Float64 && sv.Kind() != reflect.Float32 {
			return errors.New("scanInto: expected a float-kinded value")
		}
		elem.SetFloat(sv.Float())
	case reflect.Bool:
		if sv.Kind() != reflect.Bool {
			return errors.New("scanInto: expected a bool-kinded value")
		}
		elem.SetBool(sv.Bool())
	case reflect.Slice, reflect.Map:
		elem.Set(sv)
	default:
		return errors.New("scanInto: unsupported destination kind")
	}
	return nil
}

// fakeRow implements pgx.Row over a fixed slice of column values, or
// reports pgx.ErrNoRows when notFound is set.
type fakeRow struct {
	values   []any
	notFound bool
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.notFound {
		return pgx.ErrNoRows
	}
	return scanInto(r.values, dest)
}

// fakeRows implements pgx.Rows over a fixed set of rows, each a slice of
// column values in scan order.
type fakeRows struct {
	rows []([]any)
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *fakeRows) RawValues() [][]byte                           { return nil }
func (r *fakeRows) Conn() *pgx.Conn                                { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.rows) {
		return errors.New("fakeRows: Scan called before Next or past end")
	}
	return scanInto(r.rows[r.pos-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, errors.New("fakeRows: Values called before Next or past end")
	}
	return r.rows[r.pos-1], nil
}

// scanInto copies each value into the matching dest pointer, supporting
// the handful of pointer kinds the repos actually scan into.
func scanInto(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("scanInto: column count mismatch")
	}
	for i, d := range dest {
		if err := assign(d, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, src any) error {
	switch d := dest.(type) {
	case *string:
		switch s := src.(type) {
		case string:
			*d = s
		case nil:
		default:
			return errors.New("scanInto: expected string")
		}
	case **string:
		switch s := src.(type) {
		case *string:
			*d = s
		case string:
			v := s
			*d = &v
		case nil:
			*d = nil
		default:
			return errors.New("scanInto: expected *string")
		}
	case *int:
		v, ok := src.(int)
		if !ok {
			return errors.New("scanInto: expected int")
		}
		*d = v
	case *int64:
		v, ok := src.(int64)
		if !ok {
			return errors.New("scanInto: expected int64")
		}
		*d = v
	case *float64:
		v, ok := src.(float64)
		if !ok {
			return errors.New("scanInto: expected float64")
		}
		*d = v
	case *bool:
		v, ok := src.(bool)
		if !ok {
			return errors.New("scanInto: expected bool")
		}
		*d = v
	default:
		return assignComplex(dest, src)
	}
	return nil
}

// fakePoolCall records one fakePool invocation for assertions.
type fakePoolCall struct {
	method string
	sql    string
	args   []any
}

// fakePool implements PgxPool entirely in memory for repo unit tests.
type fakePool struct {
	queryRowResult *fakeRow
	queryRowsResult *fakeRows
	queryErr       error
	execErr        error
	execTag        pgconn.CommandTag

	calls []fakePoolCall
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.calls = append(p.calls, fakePoolCall{method: "Exec", sql: sql, args: args})
	return p.execTag, p.execErr
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.calls = append(p.calls, fakePoolCall{method: "QueryRow", sql: sql, args: args})
	if p.queryRowResult == nil {
		return &fakeRow{notFound: true}
	}
	return p.queryRowResult
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.calls = append(p.calls, fakePoolCall{method: "Query", sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.queryRowsResult == nil {
		return &fakeRows{}, nil
	}
	return p.queryRowsResult, nil
}

func (p *fakePool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("fakePool: BeginTx not supported")
}
