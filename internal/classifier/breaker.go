package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/apperror"
)

// BreakerOptions tunes the circuit breaker wrapped around a classifier.
type BreakerOptions struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
}

type breakerClient struct {
	next    Client
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker fails calls fast with an upstream error once the classifier
// has failed MaxFailures times in a row. Cancelled calls and rejected inputs
// do not count as failures. A zero MaxFailures disables it.
func WithBreaker(next Client, opts BreakerOptions, logger *zap.Logger) Client {
	if opts.MaxFailures == 0 {
		return next
	}
	if opts.Name == "" {
		opts.Name = "classifier"
	}
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrInputRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &breakerClient{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerClient) Ready() bool { return b.next.Ready() }

func (b *breakerClient) Classify(ctx context.Context, image []byte) ([]Concept, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Classify(ctx, image)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.New(apperror.UpstreamError, "classifier.breaker", fmt.Errorf("breaker (%s): %w", b.breaker.Name(), err))
	}
	if err != nil {
		return nil, err
	}
	concepts, _ := result.([]Concept)
	return concepts, nil
}
