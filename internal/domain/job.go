package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrTerminalStatus is returned when a status update targets a job that
	// has already reached a terminal status.
	ErrTerminalStatus = errors.New("status transition denied: job already in terminal state")

	// ErrDuplicateJob is returned when a principal reuses a request id.
	ErrDuplicateJob = errors.New("job already exists")
)

type QueryType string

const (
	QueryTypeSQL     QueryType = "SQL"
	QueryTypeGraphQL QueryType = "GRAPHQL_V1_0"
	QueryTypeJSONAPI QueryType = "JSONAPI_V1_0"
)

// Valid reports whether t is a known query type.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeSQL, QueryTypeGraphQL, QueryTypeJSONAPI:
		return true
	default:
		return false
	}
}

// Job is the persisted record of one asynchronous query.
type Job struct {
	ID uuid.UUID

	Principal string
	RequestID string

	Query     string
	QueryType QueryType
	Status    Status

	// Result is set only when Status is COMPLETE.
	Result *Result
	Error  string

	CreatedOn time.Time // immutable, drives retention and deadlines
	UpdatedOn time.Time
}

// Result describes the output of a completed job. The body is either inline
// (ResponseBody) or held by an external payload store (PayloadRef).
type Result struct {
	ContentLength int64
	HTTPStatus    int
	ResponseBody  string
	PayloadRef    string
	CompletedOn   time.Time
}
