package probe

import (
	"context"
	"time"

	"github.com/vigilhq/vigil/internal/domain/endpoint"
)

// Record is one status-history row: a probe result together with the health
// classification and uptime computed at that point.
type Record struct {
	Result Result
	Status endpoint.Status
	Uptime float64
}

// HistoryRepo is the append-only status-history store. List and uptime
// queries serve the external dashboard.
type HistoryRepo interface {
	Insert(ctx context.Context, rec *Record) error
	ListByEndpoint(ctx context.Context, name string, since time.Time, limit int) ([]*Record, error)
	UptimeSince(ctx context.Context, name string, since time.Time) (float64, error)
}
