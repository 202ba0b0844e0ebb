// Package dispatcher runs the daily batch that opens an irrigation
// conversation for every eligible plot.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/irrigation_session/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/metrics"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/conversation"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
)

// Starter opens sessions. *conversation.Engine implements it.
type Starter interface {
	Start(ctx context.Context, pc model.PlotContext) (bool, error)
	Sweep(ctx context.Context, day time.Time) int
	TargetDay(now time.Time) time.Time
}

type Config struct {
	At          TimeOfDay
	Location    *time.Location
	Concurrency int
	// PromptsPerSecond paces opening prompts towards the transport.
	PromptsPerSecond float64
	Burst            int
}

// Report summarises one batch.
type Report struct {
	Day      time.Time `json:"day"`
	Eligible int       `json:"eligible"`
	Started  int       `json:"started"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Expired  int       `json:"expired"`
}

type Dispatcher struct {
	gw      persistence.IrrigationGateway
	starter Starter
	clock   clock.Clock
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(gw persistence.IrrigationGateway, starter Starter, c clock.Clock, cfg Config) *Dispatcher {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	limit := rate.Inf
	if cfg.PromptsPerSecond > 0 {
		limit = rate.Limit(cfg.PromptsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Concurrency
	}
	return &Dispatcher{
		gw:      gw,
		starter: starter,
		clock:   c,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  log.WithComponent("dispatcher"),
	}
}

// RunOnce expires sessions of past days, then starts a session for every
// eligible plot. Per-plot failures are counted and logged; only a failure
// to list plots aborts the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (Report, error) {
	day := d.starter.TargetDay(d.clock.Now())
	rep := Report{Day: day}
	rep.Expired = d.starter.Sweep(ctx, day)

	plots, err := d.gw.ListEligible(ctx, day)
	if err != nil {
		return rep, fmt.Errorf("list eligible plots for %s: %w", persistence.DayKey(day), err)
	}
	rep.Eligible = len(plots)

	var started, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, pc := range plots {
		pc := pc
		g.Go(func() error {
			if err := d.limiter.Wait(ctx); err != nil {
				failed.Add(1)
				metrics.IncDispatchPlot("failed")
				return nil
			}
			ok, err := d.starter.Start(ctx, pc)
			switch {
			case errors.Is(err, conversation.ErrAlreadyApplied):
				skipped.Add(1)
				metrics.IncDispatchPlot("skipped")
			case err != nil:
				failed.Add(1)
				metrics.IncDispatchPlot("failed")
				d.logger.Warn().Err(err).Str("plot_id", pc.PlotID).Str("operator_id", pc.OperatorID).Msg("plot dispatch failed")
			case ok:
				started.Add(1)
				metrics.IncDispatchPlot("started")
			default:
				skipped.Add(1)
				metrics.IncDispatchPlot("skipped")
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Started = int(started.Load())
	rep.Skipped = int(skipped.Load())
	rep.Failed = int(failed.Load())
	d.logger.Info().
		Str("day", persistence.DayKey(day)).
		Int("eligible", rep.Eligible).
		Int("started", rep.Started).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Int("expired", rep.Expired).
		Msg("daily dispatch finished")
	return rep, nil
}

// Run triggers RunOnce every day at the configured local time until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		now := d.clock.Now()
		next := d.cfg.At.Next(now, d.cfg.Location)
		d.logger.Info().Time("next_run", next).Msg("daily dispatch scheduled")

		due := make(chan struct{})
		t := d.clock.AfterFunc(next.Sub(now), func() { close(due) })
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-due:
		}
		if _, err := d.RunOnce(ctx); err != nil {
			d.logger.Error().Err(err).Msg("daily dispatch failed")
		}
	}
}
