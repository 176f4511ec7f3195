package notify

import (
	"context"
	"errors"

	"github.com/vigilhq/vigil/internal/domain/alert"
)

// Fanout delivers a notice to every configured channel. One channel's
// failure does not stop delivery to the others; the joined error is
// returned for logging.
type Fanout []alert.Notifier

var _ alert.Notifier = (Fanout)(nil)

func (f Fanout) Notify(ctx context.Context, n alert.Notice) error {
	var errs []error
	for _, target := range f {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
