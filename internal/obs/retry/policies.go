package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PersistPolicy bounds retries for status-history and alert writes. Storage
// trouble must never stall probing, so attempts and backoff stay small.
func PersistPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "persist",
		Attempts: 4,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("persist retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("persist retries exhausted", zap.Error(err))
			}
		},
	}
}

// NotifyPolicy bounds alert delivery attempts. Delivery failure is logged
// and dropped; the alert stays open either way.
func NotifyPolicy(log *zap.Logger, attempts int) Policy {
	if attempts <= 0 {
		attempts = 3
	}
	return Policy{
		Name:     "notify",
		Attempts: attempts,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("notify retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("notify retries exhausted", zap.Error(err))
			}
		},
	}
}
