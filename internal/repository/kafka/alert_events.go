package kafka

import (
	"context"

	"github.com/vigilhq/vigil/internal/domain/alert"
)

// AlertEvents publishes alert lifecycle notices to a topic so downstream
// consumers (paging, chat-ops, audit) can subscribe. Keyed by endpoint so
// one endpoint's alerts stay ordered within a partition.
type AlertEvents struct {
	p *Producer
}

func NewAlertEvents(p *Producer) *AlertEvents { return &AlertEvents{p: p} }

var _ alert.Notifier = (*AlertEvents)(nil)

func (e *AlertEvents) Notify(ctx context.Context, n alert.Notice) error {
	return e.p.PublishJSON(ctx, []byte(n.Endpoint), n)
}
