// Package persistence is the only place the engine touches stored irrigation
// records: it reads a plot's daily requirement and writes the applied depth
// exactly once per plot and day.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

var (
	// ErrNotFound means no requirement exists for the plot and day, or the
	// plot is not enrolled for irrigation.
	ErrNotFound = errors.New("irrigation requirement not found")
	// ErrConflict means an applied depth was already recorded.
	ErrConflict = errors.New("irrigation already recorded")
	// ErrUnavailable wraps I/O failures and open circuit breakers.
	ErrUnavailable = errors.New("irrigation store unavailable")
)

// IrrigationGateway is the persistence boundary of the session engine.
type IrrigationGateway interface {
	FetchRequirement(ctx context.Context, plotID string, date time.Time) (model.PlotContext, error)
	AlreadyApplied(ctx context.Context, plotID string, date time.Time) (bool, error)
	// PersistApplied records depthMM for (plotID, date). A second write for
	// the same pair fails with ErrConflict.
	PersistApplied(ctx context.Context, plotID string, date time.Time, depthMM float64) error
	// ListEligible returns plots with a requirement on date that are enrolled
	// and not yet applied.
	ListEligible(ctx context.Context, date time.Time) ([]model.PlotContext, error)
}

// DayKey formats the calendar day used as record date.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }
