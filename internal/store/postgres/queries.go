package postgres

const schema = `
CREATE TABLE IF NOT EXISTS async_queries (
    id UUID PRIMARY KEY,
    principal TEXT NOT NULL,
    request_id TEXT NOT NULL DEFAULT '',
    query TEXT NOT NULL,
    query_type TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('QUEUED','PROCESSING','COMPLETE','FAILED','TIMEDOUT','CANCELLED')),
    error TEXT NOT NULL DEFAULT '',
    created_on TIMESTAMPTZ NOT NULL,
    updated_on TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_async_queries_status_created_on ON async_queries (status, created_on);
CREATE INDEX IF NOT EXISTS idx_async_queries_created_on ON async_queries (created_on);
CREATE UNIQUE INDEX IF NOT EXISTS idx_async_queries_request
    ON async_queries (principal, request_id) WHERE request_id <> '';
CREATE TABLE IF NOT EXISTS async_query_results (
    query_id UUID PRIMARY KEY REFERENCES async_queries (id) ON DELETE CASCADE,
    content_length BIGINT NOT NULL,
    http_status INTEGER NOT NULL,
    response_body TEXT NOT NULL DEFAULT '',
    payload_ref TEXT NOT NULL DEFAULT '',
    completed_on TIMESTAMPTZ NOT NULL
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryGetJob = selectJobColumns + `WHERE q.id = $1`

const queryGetStatus = `
SELECT status FROM async_queries WHERE id = $1
`

const queryUpdateStatus = `
UPDATE async_queries
SET status = $1,
    error = CASE WHEN $2::text <> '' THEN $2::text ELSE error END,
    updated_on = NOW()
WHERE id = $3
  AND status IN ('PROCESSING', 'QUEUED')
`

// PROCESSING is only entered from QUEUED.
const queryMarkProcessing = `
UPDATE async_queries
SET status = 'PROCESSING', updated_on = NOW()
WHERE id = $1
  AND status = 'QUEUED'
`

const queryInsertResult = `
INSERT INTO async_query_results (query_id, content_length, http_status, response_body, payload_ref, completed_on)
VALUES ($1, $2, $3, $4, $5, $6)
`

// $1 statuses (empty = any), $2 cutoff in the canonical filter format
// (NULL = none), $3 limit (NULL = all).
const queryLoadMatching = selectJobColumns + `
WHERE (cardinality($1::text[]) = 0 OR q.status = ANY($1::text[]))
  AND ($2::timestamptz IS NULL OR q.created_on <= $2::timestamptz)
ORDER BY q.created_on ASC, q.id ASC
LIMIT $3
`

const queryDeleteMatching = `
DELETE FROM async_queries
WHERE id = ANY($1::uuid[])
`

const queryUpdateStatusMatching = `
UPDATE async_queries
SET status = $1, updated_on = NOW()
WHERE id = ANY($2::uuid[])
  AND status IN ('PROCESSING', 'QUEUED')
`
