package conversation

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
)

// State is the conversation state of a session.
type State int

const (
	Idle State = iota
	AwaitingStart
	Active
	AwaitingLevelUpdate
	AwaitingCounterEnd
	AwaitingTotalVolume
	Completed
	Cancelled
)

var stateNames = [...]string{
	Idle:                "idle",
	AwaitingStart:       "awaiting_start",
	Active:              "active",
	AwaitingLevelUpdate: "awaiting_level_update",
	AwaitingCounterEnd:  "awaiting_counter_end",
	AwaitingTotalVolume: "awaiting_total_volume",
	Completed:           "completed",
	Cancelled:           "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Terminal() bool { return s == Completed || s == Cancelled }

// Key identifies a session: one operator, one plot, one irrigation day.
type Key struct {
	OperatorID string
	PlotID     string
	Day        string // persistence.DayKey of the requirement date
}

func (k Key) String() string { return fmt.Sprintf("%s/%s/%s", k.OperatorID, k.PlotID, k.Day) }

// KeyFor builds the key of pc's session for the requirement date.
func KeyFor(pc model.PlotContext, date time.Time) Key {
	return Key{OperatorID: pc.OperatorID, PlotID: pc.PlotID, Day: persistence.DayKey(date)}
}

// Session is the live state of one irrigation conversation. Sessions are
// passed by value; Clone must be used before handing one to another
// goroutine because Readings is a slice.
type Session struct {
	ID          string
	Key         Key
	Date        time.Time // requirement date written back on completion
	Plot        model.PlotContext
	DeviceClass model.DeviceClass
	State       State

	Readings     []model.LevelReading // LevelMetered
	StartCounter float64              // IncrementalCounter
	HasStart     bool

	RequiredM3    float64
	AccumulatedM3 float64
	LastUpdateAt  time.Time
	CreatedAt     time.Time

	Active bool
	// Measured is set once the final volume is captured; a finish after a
	// failed write re-submits it without further integration.
	Measured bool
	// Finalizing is set while the finishing write runs outside the key lock.
	Finalizing bool
}

func (s Session) Clone() Session {
	if s.Readings != nil {
		s.Readings = append([]model.LevelReading(nil), s.Readings...)
	}
	return s
}

// RemainingM3 is the volume still to deliver, floored at zero.
func (s Session) RemainingM3() float64 {
	r := s.RequiredM3 - s.AccumulatedM3
	if r < 0 {
		return 0
	}
	return r
}

func (s Session) lastReading() (model.LevelReading, bool) {
	if len(s.Readings) == 0 {
		return model.LevelReading{}, false
	}
	return s.Readings[len(s.Readings)-1], true
}
