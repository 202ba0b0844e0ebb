package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

// ResilienceConfig tunes the breaker and retry policy around a gateway.
type ResilienceConfig struct {
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerOpenFor  time.Duration // time spent open before a half-open probe
	BreakerInterval time.Duration // closed-state counter reset period
	MaxRetries      uint64
	InitialBackoff  time.Duration
	MaxElapsed      time.Duration
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		BreakerFailures: 5,
		BreakerOpenFor:  30 * time.Second,
		BreakerInterval: time.Minute,
		MaxRetries:      3,
		InitialBackoff:  200 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
	}
}

// Resilient wraps an IrrigationGateway with a circuit breaker and bounded
// exponential retries. NotFound and Conflict are final answers: they are
// neither retried nor counted as breaker failures.
type Resilient struct {
	next   IrrigationGateway
	cb     *gobreaker.CircuitBreaker
	cfg    ResilienceConfig
	logger zerolog.Logger
}

var _ IrrigationGateway = (*Resilient)(nil)

func NewResilient(next IrrigationGateway, cfg ResilienceConfig) *Resilient {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 1
	}
	r := &Resilient{next: next, cfg: cfg, logger: log.WithComponent("persistence.resilient")}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "irrigation-store",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		},
	})
	return r
}

// State exposes the breaker state for health reporting.
func (r *Resilient) State() gobreaker.State { return r.cb.State() }

func (r *Resilient) call(ctx context.Context, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if r.cfg.InitialBackoff > 0 {
		eb.InitialInterval = r.cfg.InitialBackoff
	}
	eb.MaxElapsedTime = r.cfg.MaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, r.cfg.MaxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := r.cb.Execute(func() (any, error) { return nil, fn(ctx) })
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
			return backoff.Permanent(err)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err))
		case !errors.Is(err, ErrUnavailable):
			// validation errors from the store are not transient
			return backoff.Permanent(err)
		}
		r.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("store call failed, retrying")
		return err
	}, policy)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return err
}

func (r *Resilient) FetchRequirement(ctx context.Context, plotID string, date time.Time) (model.PlotContext, error) {
	var pc model.PlotContext
	err := r.call(ctx, "fetch requirement", func(ctx context.Context) error {
		var err error
		pc, err = r.next.FetchRequirement(ctx, plotID, date)
		return err
	})
	return pc, err
}

func (r *Resilient) AlreadyApplied(ctx context.Context, plotID string, date time.Time) (bool, error) {
	var applied bool
	err := r.call(ctx, "already applied", func(ctx context.Context) error {
		var err error
		applied, err = r.next.AlreadyApplied(ctx, plotID, date)
		return err
	})
	return applied, err
}

func (r *Resilient) PersistApplied(ctx context.Context, plotID string, date time.Time, depthMM float64) error {
	return r.call(ctx, "persist applied", func(ctx context.Context) error {
		return r.next.PersistApplied(ctx, plotID, date, depthMM)
	})
}

func (r *Resilient) ListEligible(ctx context.Context, date time.Time) ([]model.PlotContext, error) {
	var out []model.PlotContext
	err := r.call(ctx, "list eligible", func(ctx context.Context) error {
		var err error
		out, err = r.next.ListEligible(ctx, date)
		return err
	})
	return out, err
}
