// Package sqlite implements the job store on a single SQLite database file.
//
// Timestamps are stored as INTEGER unix milliseconds so that filter cutoffs
// compare numerically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/djlord-it/asyncq/internal/domain"
)

// maxParams bounds the ids bound into one IN (...) list, below SQLite's
// default variable limit.
const maxParams = 500

// Store implements the job store using SQLite.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY under concurrent executors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertJob inserts a new record.
// Returns domain.ErrDuplicateJob if the id or (principal, request_id) exists.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.ID.String(),
		job.Principal,
		job.RequestID,
		job.Query,
		string(job.QueryType),
		string(job.Status),
		job.Error,
		job.CreatedOn.UnixMilli(),
		job.UpdatedOn.UnixMilli(),
	)
	if err != nil {
		if isConstraintError(err) {
			return domain.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// GetJob returns a record by id, or domain.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, err
}

// UpdateStatus applies a guarded transition.
// Returns domain.ErrTerminalStatus if the record already ended and
// domain.ErrJobNotFound if it does not exist.
func (s *Store) UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error {
	return s.FinishJob(ctx, jobID, status, nil, "")
}

// FinishJob applies a guarded transition and, in the same transaction,
// stores result and errMsg.
func (s *Store) FinishJob(ctx context.Context, jobID uuid.UUID, status domain.Status, result *domain.Result, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.clock().UnixMilli()
	var res sql.Result
	if status == domain.StatusProcessing {
		res, err = tx.ExecContext(ctx, queryMarkProcessing, now, jobID.String())
	} else {
		res, err = tx.ExecContext(ctx, queryUpdateStatus, string(status), errMsg, errMsg, now, jobID.String())
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, queryGetStatus, jobID.String()).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrTerminalStatus
	}

	if result != nil {
		_, err = tx.ExecContext(ctx, queryInsertResult,
			jobID.String(),
			result.ContentLength,
			result.HTTPStatus,
			result.ResponseBody,
			result.PayloadRef,
			result.CompletedOn.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadMatching returns the records matching filter, oldest first.
func (s *Store) LoadMatching(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		where = append(where, "q.status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if cutoff, ok := filter.Cutoff(); ok {
		// Round trip through the canonical format keeps the comparison at
		// minute precision.
		t, err := domain.ParseFilterTime(domain.FormatFilterTime(cutoff))
		if err != nil {
			return nil, err
		}
		where = append(where, "q.created_on <= ?")
		args = append(args, t.UnixMilli())
	}

	query := selectJobColumns
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += "ORDER BY q.created_on ASC, q.id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteMatching deletes the given records; their results cascade.
func (s *Store) DeleteMatching(ctx context.Context, jobs []domain.Job) (int, error) {
	return s.execChunked(ctx, jobs, func(ids []any) (string, []any) {
		return "DELETE FROM async_queries WHERE id IN (" + placeholders(len(ids)) + ")", ids
	})
}

// UpdateStatusMatching moves the given records still QUEUED or PROCESSING
// to status.
func (s *Store) UpdateStatusMatching(ctx context.Context, jobs []domain.Job, status domain.Status) (int, error) {
	now := s.clock().UnixMilli()
	return s.execChunked(ctx, jobs, func(ids []any) (string, []any) {
		q := "UPDATE async_queries SET status = ?, updated_on = ? WHERE id IN (" + placeholders(len(ids)) +
			") AND status IN ('PROCESSING', 'QUEUED')"
		return q, append([]any{string(status), now}, ids...)
	})
}

// execChunked runs build over the job ids in chunks inside one transaction
// and returns the total rows affected.
func (s *Store) execChunked(ctx context.Context, jobs []domain.Job, build func(ids []any) (string, []any)) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total := 0
	for start := 0; start < len(jobs); start += maxParams {
		end := min(start+maxParams, len(jobs))
		ids := make([]any, 0, end-start)
		for _, j := range jobs[start:end] {
			ids = append(ids, j.ID.String())
		}

		query, args := build(ids)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		job                   domain.Job
		id, queryType, status string
		createdOn, updatedOn  int64

		contentLength, httpStatus, completedOn sql.NullInt64
		responseBody, payloadRef               sql.NullString
	)

	err := row.Scan(
		&id,
		&job.Principal,
		&job.RequestID,
		&job.Query,
		&queryType,
		&status,
		&job.Error,
		&createdOn,
		&updatedOn,
		&contentLength,
		&httpStatus,
		&responseBody,
		&payloadRef,
		&completedOn,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("parse job id %q: %w", id, err)
	}
	job.QueryType = domain.QueryType(queryType)
	job.Status = domain.Status(status)
	job.CreatedOn = time.UnixMilli(createdOn).UTC()
	job.UpdatedOn = time.UnixMilli(updatedOn).UTC()

	if completedOn.Valid {
		job.Result = &domain.Result{
			ContentLength: contentLength.Int64,
			HTTPStatus:    int(httpStatus.Int64),
			ResponseBody:  responseBody.String,
			PayloadRef:    payloadRef.String,
			CompletedOn:   time.UnixMilli(completedOn.Int64).UTC(),
		}
	}
	return job, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
