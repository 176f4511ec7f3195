package postgres

import (
	"context"
	"fmt"

	"github.com/vigilhq/vigil/internal/domain/alert"
)

var _ alert.Repo = (*AlertRepoImpl)(nil)

// AlertRepoImpl owns the alerts table. Rows are inserted once and later
// updated only to set resolved/resolved_at; nothing is ever deleted.
type AlertRepoImpl struct{ db *DB }

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const (
	qAlertInsert = `
INSERT INTO alerts (endpoint_name, alert_type, message, severity, resolved, created_at)
VALUES ($1, $2, $3, $4, FALSE, $5)
RETURNING id;
`

	// Resolution is keyed by identity: the single open row for this
	// (endpoint, type) pair.
	qAlertResolve = `
UPDATE alerts
SET resolved = TRUE, resolved_at = $3
WHERE endpoint_name = $1 AND alert_type = $2 AND resolved = FALSE;
`

	qAlertsOpen = `
SELECT id, endpoint_name, alert_type, message, severity, resolved, created_at, resolved_at
FROM alerts
WHERE resolved = FALSE
ORDER BY created_at;
`

	qAlertsRecent = `
SELECT id, endpoint_name, alert_type, message, severity, resolved, created_at, resolved_at
FROM alerts
WHERE ($1 = '' OR endpoint_name = $1)
ORDER BY created_at DESC
LIMIT $2;
`
)

func (r *AlertRepoImpl) Create(ctx context.Context, e *alert.Event) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.db.Pool.QueryRow(ctx, qAlertInsert,
		e.Endpoint, string(e.Type), e.Message, string(e.Severity), e.CreatedAt,
	).Scan(&e.ID)
}

func (r *AlertRepoImpl) MarkResolved(ctx context.Context, e *alert.Event) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qAlertResolve, e.Endpoint, string(e.Type), e.ResolvedAt)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AlertRepoImpl) ListOpen(ctx context.Context) ([]*alert.Event, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qAlertsOpen)
	if err != nil {
		return nil, fmt.Errorf("query open alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (r *AlertRepoImpl) ListRecent(ctx context.Context, endpointName string, limit int) ([]*alert.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qAlertsRecent, endpointName, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

type alertRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAlerts(rows alertRows) ([]*alert.Event, error) {
	var out []*alert.Event
	for rows.Next() {
		var (
			e   alert.Event
			typ string
			sev string
		)
		if err := rows.Scan(&e.ID, &e.Endpoint, &typ, &e.Message, &sev, &e.Resolved, &e.CreatedAt, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		e.Type = alert.Type(typ)
		e.Severity = alert.Severity(sev)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
