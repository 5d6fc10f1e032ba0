// Package postgres implements the job store on PostgreSQL.
//
// Every status write is a single guarded UPDATE. PostgreSQL takes the row
// lock before evaluating WHERE, so racing writers serialise and the first
// terminal write wins.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/asyncq/internal/domain"
)

// Store implements the executor, supervisor and sweeper stores using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// InsertJob inserts a new job record.
// Returns domain.ErrDuplicateJob if the id or (principal, request_id) already exists.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.Principal,
		job.RequestID,
		job.Query,
		string(job.QueryType),
		string(job.Status),
		job.Error,
		job.CreatedOn,
		job.UpdatedOn,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, err
}

// UpdateStatus applies a guarded status transition.
// Returns domain.ErrTerminalStatus if the job is already in a terminal state.
func (s *Store) UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error {
	return s.FinishJob(ctx, jobID, status, nil, "")
}

// FinishJob applies a guarded status transition and stores result and errMsg
// in the same transaction.
func (s *Store) FinishJob(ctx context.Context, jobID uuid.UUID, status domain.Status, result *domain.Result, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if status == domain.StatusProcessing {
		res, err = tx.ExecContext(ctx, queryMarkProcessing, jobID)
	} else {
		res, err = tx.ExecContext(ctx, queryUpdateStatus, string(status), errMsg, jobID)
	}
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either: (a) job not found, or (b) already past the guard.
		// Distinguish by checking if the row exists.
		var currentStatus string
		err := tx.QueryRowContext(ctx, queryGetStatus, jobID).Scan(&currentStatus)
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
			jobID,
			result.ContentLength,
			result.HTTPStatus,
			result.ResponseBody,
			result.PayloadRef,
			result.CompletedOn,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadMatching returns jobs matching filter, oldest first.
func (s *Store) LoadMatching(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	var cutoff sql.NullString
	if t, ok := filter.Cutoff(); ok {
		cutoff = sql.NullString{String: domain.FormatFilterTime(t), Valid: true}
	}
	var limit sql.NullInt64
	if filter.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(filter.Limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, queryLoadMatching, pq.Array(filter.StatusStrings()), cutoff, limit)
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

// DeleteMatching deletes the given jobs; their results cascade.
func (s *Store) DeleteMatching(ctx context.Context, jobs []domain.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, queryDeleteMatching, pq.Array(domain.IDs(jobs)))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpdateStatusMatching moves the given jobs still QUEUED or PROCESSING to status.
func (s *Store) UpdateStatusMatching(ctx context.Context, jobs []domain.Job, status domain.Status) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, queryUpdateStatusMatching, string(status), pq.Array(domain.IDs(jobs)))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		job               domain.Job
		queryType, status string

		contentLength sql.NullInt64
		httpStatus    sql.NullInt32
		responseBody  sql.NullString
		payloadRef    sql.NullString
		completedOn   sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Principal,
		&job.RequestID,
		&job.Query,
		&queryType,
		&status,
		&job.Error,
		&job.CreatedOn,
		&job.UpdatedOn,
		&contentLength,
		&httpStatus,
		&responseBody,
		&payloadRef,
		&completedOn,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.QueryType = domain.QueryType(queryType)
	job.Status = domain.Status(status)
	job.CreatedOn = job.CreatedOn.UTC()
	job.UpdatedOn = job.UpdatedOn.UTC()

	if completedOn.Valid {
		job.Result = &domain.Result{
			ContentLength: contentLength.Int64,
			HTTPStatus:    int(httpStatus.Int32),
			ResponseBody:  responseBody.String,
			PayloadRef:    payloadRef.String,
			CompletedOn:   completedOn.Time.UTC(),
		}
	}
	return job, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
