package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

var _ probe.HistoryRepo = (*StatusRepoImpl)(nil)

// StatusRepoImpl appends probe results to the endpoint_status history table
// and serves the dashboard's time-range queries.
type StatusRepoImpl struct{ db *DB }

func NewStatusRepo(db *DB) *StatusRepoImpl { return &StatusRepoImpl{db: db} }

const (
	qStatusInsert = `
INSERT INTO endpoint_status
  (endpoint_name, url, status, status_code, response_time_ms, ssl_valid, ssl_expires, error_message, ts, uptime_percentage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id;
`

	qStatusByEndpoint = `
SELECT endpoint_name, url, status, status_code, response_time_ms, ssl_valid, ssl_expires, error_message, ts, uptime_percentage
FROM endpoint_status
WHERE endpoint_name = $1 AND ts >= $2
ORDER BY ts DESC
LIMIT $3;
`

	qUptimeSince = `
SELECT COUNT(*) FILTER (WHERE status IN ('UP','DEGRADED')), COUNT(*)
FROM endpoint_status
WHERE endpoint_name = $1 AND ts >= $2;
`
)

func (r *StatusRepoImpl) Insert(ctx context.Context, rec *probe.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	res := rec.Result
	var sslValid *bool
	if res.SSLChecked {
		v := res.SSLValid
		sslValid = &v
	}

	var id int64
	return r.db.Pool.QueryRow(ctx, qStatusInsert,
		res.Endpoint,
		res.URL,
		string(rec.Status),
		nullInt(res.StatusCode),
		res.ResponseTime.Milliseconds(),
		sslValid,
		nullTime(res.SSLExpiry),
		nullStr(res.Err),
		res.Timestamp,
		rec.Uptime,
	).Scan(&id)
}

func (r *StatusRepoImpl) ListByEndpoint(ctx context.Context, name string, since time.Time, limit int) ([]*probe.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qStatusByEndpoint, name, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	out := make([]*probe.Record, 0, limit)
	for rows.Next() {
		var (
			rec       probe.Record
			status    string
			code      *int
			latencyMS int64
			sslValid  *bool
			sslExp    *time.Time
			errMsg    *string
		)
		if err := rows.Scan(
			&rec.Result.Endpoint,
			&rec.Result.URL,
			&status,
			&code,
			&latencyMS,
			&sslValid,
			&sslExp,
			&errMsg,
			&rec.Result.Timestamp,
			&rec.Uptime,
		); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		rec.Status = endpoint.Status(status)
		rec.Result.ResponseTime = time.Duration(latencyMS) * time.Millisecond
		if code != nil {
			rec.Result.StatusCode = *code
		}
		if sslValid != nil {
			rec.Result.SSLChecked = true
			rec.Result.SSLValid = *sslValid
		}
		if sslExp != nil {
			rec.Result.SSLExpiry = *sslExp
		}
		if errMsg != nil {
			rec.Result.Err = *errMsg
		}
		rp := rec
		out = append(out, &rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *StatusRepoImpl) UptimeSince(ctx context.Context, name string, since time.Time) (float64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ok, total int64
	if err := r.db.Pool.QueryRow(ctx, qUptimeSince, name, since).Scan(&ok, &total); err != nil {
		return 0, fmt.Errorf("query uptime: %w", err)
	}
	if total == 0 {
		return 100.0, nil
	}
	return float64(ok) / float64(total) * 100.0, nil
}
