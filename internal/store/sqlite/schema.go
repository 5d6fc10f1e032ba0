package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS async_queries (
	id TEXT PRIMARY KEY,
	principal TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	query_type TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('QUEUED','PROCESSING','COMPLETE','FAILED','TIMEDOUT','CANCELLED')),
	error TEXT NOT NULL DEFAULT '',
	created_on INTEGER NOT NULL,
	updated_on INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_async_queries_status_created_on ON async_queries(status, created_on);
CREATE INDEX IF NOT EXISTS idx_async_queries_created_on ON async_queries(created_on);
CREATE UNIQUE INDEX IF NOT EXISTS idx_async_queries_request
	ON async_queries(principal, request_id) WHERE request_id <> '';
CREATE TABLE IF NOT EXISTS async_query_results (
	query_id TEXT PRIMARY KEY REFERENCES async_queries(id) ON DELETE CASCADE,
	content_length INTEGER NOT NULL,
	http_status INTEGER NOT NULL,
	response_body TEXT NOT NULL DEFAULT '',
	payload_ref TEXT NOT NULL DEFAULT '',
	completed_on INTEGER NOT NULL
);
`

const selectJobColumns = `
SELECT
    q.id, q.principal, q.request_id, q.query, q.query_type, q.status, q.error,
    q.created_on, q.updated_on,
    r.content_length, r.http_status, r.response_body, r.payload_ref, r.completed_on
FROM async_queries q
LEFT JOIN async_query_results r ON r.query_id = q.id
`

const queryInsertJob = `
INSERT INTO async_queries (id, principal, request_id, query, query_type, status, error, created_on, updated_on)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryGetJob = selectJobColumns + `WHERE q.id = ?`

const queryGetStatus = `
SELECT status FROM async_queries WHERE id = ?
`

const queryUpdateStatus = `
UPDATE async_queries
SET status = ?, error = CASE WHEN ? <> '' THEN ? ELSE error END, updated_on = ?
WHERE id = ?
  AND status IN ('PROCESSING', 'QUEUED')
`

// PROCESSING is only entered from QUEUED.
const queryMarkProcessing = `
UPDATE async_queries
SET status = 'PROCESSING', updated_on = ?
WHERE id = ?
  AND status = 'QUEUED'
`

const queryInsertResult = `
INSERT INTO async_query_results (query_id, content_length, http_status, response_body, payload_ref, completed_on)
VALUES (?, ?, ?, ?, ?, ?)
`
