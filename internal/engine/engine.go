// Package engine provides the default query unit of work: it runs SQL jobs
// against a database/sql handle and serialises the rows as JSON.
//
// The handle must be a dedicated query database, never the job store. Every
// query runs in a read-only transaction that is rolled back, so a statement
// that writes either fails or leaves no trace.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/executor"
)

var (
	ErrUnsupportedQueryType = errors.New("unsupported query type")
	ErrNoDatabase           = errors.New("no query database configured")
	ErrTooManyRows          = errors.New("result exceeds row limit")
)

// DefaultMaxRows bounds the rows a single result may hold.
const DefaultMaxRows = 10000

// Engine turns jobs into executor work.
type Engine struct {
	db      *sql.DB
	maxRows int
}

// New creates an Engine over the query database db. A nil db fails every SQL
// job with ErrNoDatabase.
func New(db *sql.DB) *Engine {
	return &Engine{db: db, maxRows: DefaultMaxRows}
}

// WithMaxRows overrides DefaultMaxRows.
func (e *Engine) WithMaxRows(n int) *Engine {
	if n > 0 {
		e.maxRows = n
	}
	return e
}

// Work returns the unit of work for job. The query runs under the work's
// context, so cancelling it aborts the query on the server.
func (e *Engine) Work(job domain.Job) executor.Work {
	return func(ctx context.Context) (executor.Output, error) {
		switch job.QueryType {
		case domain.QueryTypeSQL:
			return e.runSQL(ctx, job.Query)
		default:
			return executor.Output{}, fmt.Errorf("%w: %s", ErrUnsupportedQueryType, job.QueryType)
		}
	}
}

type response struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (e *Engine) runSQL(ctx context.Context, query string) (executor.Output, error) {
	if e.db == nil {
		return executor.Output{}, ErrNoDatabase
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return executor.Output{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return executor.Output{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return executor.Output{}, err
	}

	resp := response{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(resp.Rows) >= e.maxRows {
			return executor.Output{}, fmt.Errorf("%w (%d)", ErrTooManyRows, e.maxRows)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return executor.Output{}, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		resp.Rows = append(resp.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return executor.Output{}, err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return executor.Output{}, fmt.Errorf("encode result: %w", err)
	}
	return executor.Output{Body: body, HTTPStatus: http.StatusOK}, nil
}

// jsonValue converts driver values that encoding/json would mangle.
func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// SQLiteReadOnlyDSN returns a go-sqlite3 DSN for path that rejects writes on
// every connection. The driver ignores sql.TxOptions.ReadOnly.
func SQLiteReadOnlyDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_query_only=1"
}
