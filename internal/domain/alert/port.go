package alert

import (
	"context"
	"time"
)

// Repo persists alert lifecycle transitions. Creation inserts a row;
// resolution updates the open row identified by (endpoint, type).
type Repo interface {
	Create(ctx context.Context, e *Event) error
	MarkResolved(ctx context.Context, e *Event) error
	ListOpen(ctx context.Context) ([]*Event, error)
	ListRecent(ctx context.Context, endpointName string, limit int) ([]*Event, error)
}

// Notifier delivers a notice to an external channel. Delivery failure must
// never affect alert bookkeeping.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type Clock interface {
	Now() time.Time
}
