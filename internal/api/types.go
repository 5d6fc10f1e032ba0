package api

import (
	"time"

	"github.com/djlord-it/asyncq/internal/domain"
)

type SubmitQueryRequest struct {
	Query     string `json:"query"`
	QueryType string `json:"query_type,omitempty"` // default SQL
	RequestID string `json:"request_id,omitempty"`
}

type QueryResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	QueryType string          `json:"query_type"`
	RequestID string          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    *ResultResponse `json:"result,omitempty"`
	CreatedOn string          `json:"created_on"`
	UpdatedOn string          `json:"updated_on"`
}

type ResultResponse struct {
	HTTPStatus    int    `json:"http_status"`
	ContentLength int64  `json:"content_length"`
	ResponseBody  string `json:"response_body"`
	CompletedOn   string `json:"completed_on"`
}

type SweepResponse struct {
	Deleted  int    `json:"deleted"`
	TimedOut int    `json:"timed_out"`
	Error    string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toQueryResponse(job domain.Job) QueryResponse {
	resp := QueryResponse{
		ID:        job.ID.String(),
		Status:    string(job.Status),
		QueryType: string(job.QueryType),
		RequestID: job.RequestID,
		Error:     job.Error,
		CreatedOn: formatTime(job.CreatedOn),
		UpdatedOn: formatTime(job.UpdatedOn),
	}
	if job.Result != nil {
		resp.Result = &ResultResponse{
			HTTPStatus:    job.Result.HTTPStatus,
			ContentLength: job.Result.ContentLength,
			ResponseBody:  job.Result.ResponseBody,
			CompletedOn:   formatTime(job.Result.CompletedOn),
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
