package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the circuit is open and sends are skipped.
var ErrUnavailable = errors.New("notifier temporarily unavailable")

// BreakerNotifier stops calling a failing relay after consecutive errors and
// tries it again once the cooldown elapses.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps next. failures <= 0 defaults to 5 and a
// non-positive cooldown to 30 seconds.
func NewBreakerNotifier(next Notifier, failures int, cooldown time.Duration, logger *slog.Logger) *BreakerNotifier {
	if failures <= 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
			}
		},
	}
	return &BreakerNotifier{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Send forwards message unless the circuit is open.
func (b *BreakerNotifier) Send(ctx context.Context, message Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}
