package conversation

import (
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
)

// EventKind enumerates what can drive a transition.
type EventKind int

const (
	EventBegin EventKind = iota
	EventNumber
	EventFinish
	EventCancel
	EventNoWater
	EventInvalid
	EventTimer
	EventPersisted
)

// PersistOutcome is the result of the finishing write.
type PersistOutcome int

const (
	PersistOK PersistOutcome = iota
	PersistConflict
	PersistUnavailable
	PersistMissing
)

// Event is one input to Machine.Step.
type Event struct {
	Kind    EventKind
	Number  float64
	At      time.Time
	Timer   scheduler.Class
	Outcome PersistOutcome
}

// EffectKind enumerates the side effects the engine executes.
type EffectKind int

const (
	EffectSend EffectKind = iota
	EffectArm
	EffectEvery
	EffectCancel
	EffectCancelAll
	EffectPersist
	EffectJournal
	EffectTeardown
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind     EffectKind
	Text     string
	Keyboard []string
	Timer    scheduler.Class
	FireAt   time.Time
	Every    time.Duration
	DepthMM  float64
	Journal  string // event type for EffectJournal
	Level    *int
	Reason   string // journal reason or teardown outcome
}

// Machine is the transition function of the conversation. It holds only
// read-only configuration and never touches the store, the scheduler or
// the transport.
type Machine struct {
	Flow          *volume.FlowRateTable
	ReminderEvery time.Duration
	// CounterUnit is the volume in m³ of one counter unit.
	CounterUnit float64
}

func NewMachine(flow *volume.FlowRateTable, reminderEvery time.Duration, counterUnit float64) *Machine {
	if flow == nil {
		flow = volume.DefaultFlowRateTable()
	}
	if reminderEvery <= 0 {
		reminderEvery = 15 * time.Minute
	}
	if counterUnit <= 0 {
		counterUnit = 1
	}
	return &Machine{Flow: flow, ReminderEvery: reminderEvery, CounterUnit: counterUnit}
}

// Step applies ev to s and returns the next session, the effects to run in
// order, and the classified error if the event was rejected. Rejections
// still carry the re-prompt effects.
func (m *Machine) Step(s Session, ev Event) (Session, []Effect, error) {
	s = s.Clone()
	if s.State.Terminal() {
		return s, nil, ErrNoSession
	}
	if s.Finalizing && ev.Kind != EventPersisted {
		if ev.Kind == EventTimer {
			return s, nil, ErrStaleTimer
		}
		return s, []Effect{send(busyReply)}, ErrBusy
	}

	switch ev.Kind {
	case EventBegin:
		return m.begin(s, ev)
	case EventCancel:
		return m.cancel(s, cancelledReply, "cancelled")
	case EventNoWater:
		return m.cancel(s, noWaterReply, "no_water")
	case EventPersisted:
		return m.persisted(s, ev)
	case EventTimer:
		return m.timer(s, ev)
	case EventInvalid:
		return s, []Effect{send(formatErrorReply(s, m.Flow.MaxLevel()))}, ErrInputFormat
	}

	if s.State == Idle {
		return s, []Effect{send(noSessionReply)}, ErrOrdering
	}
	if ev.Kind == EventFinish && s.Measured && s.AccumulatedM3 > 0 {
		return m.finalize(s)
	}

	switch s.DeviceClass {
	case model.LevelMetered:
		return m.stepLevel(s, ev)
	case model.IncrementalCounter:
		return m.stepCounter(s, ev)
	case model.TotalMeter:
		return m.stepTotal(s, ev)
	}
	return s, nil, fmt.Errorf("device class %q: %w", s.DeviceClass, ErrInputFormat)
}

func (m *Machine) begin(s Session, ev Event) (Session, []Effect, error) {
	if s.State != Idle {
		return s, []Effect{sendKeyboard(currentPrompt(s, m.Flow.MaxLevel()))}, nil
	}
	s.Active = true
	s.LastUpdateAt = ev.At
	if s.DeviceClass == model.TotalMeter {
		s.State = AwaitingTotalVolume
	} else {
		s.State = AwaitingStart
	}
	return s, []Effect{
		sendKeyboard(openingPrompt(s, m.Flow.MaxLevel())),
		journal(model.EventSessionStarted, nil, ""),
	}, nil
}

func (m *Machine) cancel(s Session, reply, reason string) (Session, []Effect, error) {
	s.State = Cancelled
	s.Active = false
	return s, []Effect{
		{Kind: EffectCancelAll},
		send(reply),
		journal(model.EventSessionCancelled, nil, reason),
		{Kind: EffectTeardown, Reason: reason},
	}, nil
}

func (m *Machine) timer(s Session, ev Event) (Session, []Effect, error) {
	if s.DeviceClass != model.LevelMetered || s.Measured {
		return s, nil, ErrStaleTimer
	}
	if s.State != Active && s.State != AwaitingLevelUpdate {
		return s, nil, ErrStaleTimer
	}
	switch ev.Timer {
	case scheduler.Reminder:
		s.State = AwaitingLevelUpdate
		return s, []Effect{
			send(levelPrompt(m.Flow.MaxLevel())),
			journal(model.EventReminderFired, nil, ""),
		}, nil
	case scheduler.CompletionEstimate:
		return s, []Effect{
			{Kind: EffectCancel, Timer: scheduler.Reminder},
			sendKeyboard(completionReply()),
			journal(model.EventCompletionEstimate, nil, ""),
		}, nil
	}
	return s, nil, ErrStaleTimer
}

func (m *Machine) stepLevel(s Session, ev Event) (Session, []Effect, error) {
	maxLevel := m.Flow.MaxLevel()
	switch ev.Kind {
	case EventFinish:
		if s.State == AwaitingStart {
			return s, []Effect{send(openingPrompt(s, maxLevel))}, ErrOrdering
		}
		m.accrue(&s, ev.At)
		if s.AccumulatedM3 <= 0 {
			return s, []Effect{sendKeyboard(nothingToRecordReply)}, ErrNothingToRecord
		}
		s.Measured = true
		return m.finalize(s)

	case EventNumber:
		level, ok := m.levelOf(ev.Number)
		if !ok {
			return s, []Effect{send(formatErrorReply(s, maxLevel))}, ErrInputFormat
		}
		switch s.State {
		case AwaitingStart:
			s.LastUpdateAt = ev.At
		case Active, AwaitingLevelUpdate:
			if s.Measured {
				// flow stopped at the last finish: the gap carries no water
				s.Measured = false
				if ev.At.After(s.LastUpdateAt) {
					s.LastUpdateAt = ev.At
				}
			} else {
				m.accrue(&s, ev.At)
			}
		default:
			return s, []Effect{send(currentPrompt(s, maxLevel))}, ErrOrdering
		}
		s.Readings = append(s.Readings, model.LevelReading{Level: level, ObservedAt: ev.At})
		s.State = Active

		rate := m.Flow.Rate(level)
		lvl := level
		effects := []Effect{{Kind: EffectEvery, Timer: scheduler.Reminder, Every: m.ReminderEvery}}
		remaining := s.RemainingM3()
		if d, ok := volume.TimeToDeliver(remaining, rate); ok && remaining > 0 {
			effects = append(effects, Effect{Kind: EffectArm, Timer: scheduler.CompletionEstimate, FireAt: s.LastUpdateAt.Add(d)})
		} else {
			effects = append(effects, Effect{Kind: EffectCancel, Timer: scheduler.CompletionEstimate})
		}
		effects = append(effects,
			sendKeyboard(progressReply(s, level, rate)),
			journal(model.EventSessionReading, &lvl, ""),
		)
		return s, effects, nil
	}
	return s, nil, ErrInputFormat
}

// accrue charges the interval since the last accumulation event at the
// level that was in effect for it.
func (m *Machine) accrue(s *Session, at time.Time) {
	last, ok := s.lastReading()
	if !ok {
		return
	}
	s.AccumulatedM3 += volume.Integrate(m.Flow, last.Level, at.Sub(s.LastUpdateAt))
	if at.After(s.LastUpdateAt) {
		s.LastUpdateAt = at
	}
}

func (m *Machine) levelOf(n float64) (int, bool) {
	if n != math.Trunc(n) {
		return 0, false
	}
	level := int(n)
	return level, m.Flow.InRange(level)
}

func (m *Machine) stepCounter(s Session, ev Event) (Session, []Effect, error) {
	maxLevel := m.Flow.MaxLevel()
	switch ev.Kind {
	case EventFinish:
		switch s.State {
		case AwaitingStart:
			return s, []Effect{send(openingPrompt(s, maxLevel))}, ErrOrdering
		case Active:
			s.State = AwaitingCounterEnd
		}
		return s, []Effect{send(currentPrompt(s, maxLevel))}, nil

	case EventNumber:
		if ev.Number < 0 {
			return s, []Effect{send(formatErrorReply(s, maxLevel))}, ErrInputFormat
		}
		switch s.State {
		case AwaitingStart:
			s.StartCounter = ev.Number
			s.HasStart = true
			s.LastUpdateAt = ev.At
			s.State = Active
			return s, []Effect{sendKeyboard(counterStartReply(s, m.CounterUnit))}, nil
		case Active, AwaitingCounterEnd:
			if ev.Number < s.StartCounter {
				s.State = AwaitingCounterEnd
				return s, []Effect{send(fmt.Sprintf(
					"The end reading cannot be below the start reading %.2f. Send the counter reading again.",
					s.StartCounter))}, ErrOrdering
			}
			if ev.Number == s.StartCounter {
				// counter did not move: same outcome as No water
				return m.cancel(s, noWaterReply, "no_water")
			}
			s.AccumulatedM3 = (ev.Number - s.StartCounter) * m.CounterUnit
			s.LastUpdateAt = ev.At
			s.State = AwaitingCounterEnd
			s.Measured = true
			return m.finalize(s)
		}
		return s, []Effect{send(currentPrompt(s, maxLevel))}, ErrOrdering
	}
	return s, nil, ErrInputFormat
}

func (m *Machine) stepTotal(s Session, ev Event) (Session, []Effect, error) {
	switch ev.Kind {
	case EventFinish:
		return s, []Effect{send(currentPrompt(s, m.Flow.MaxLevel()))}, ErrOrdering
	case EventNumber:
		if ev.Number <= 0 {
			return s, []Effect{send("The total volume must be a positive number of m³. " + currentPrompt(s, m.Flow.MaxLevel()))}, ErrInputFormat
		}
		s.AccumulatedM3 = ev.Number
		s.LastUpdateAt = ev.At
		s.Measured = true
		return m.finalize(s)
	}
	return s, nil, ErrInputFormat
}

// finalize hands the captured volume to the engine for the finishing write.
func (m *Machine) finalize(s Session) (Session, []Effect, error) {
	s.Finalizing = true
	depth := volume.DepthFromVolume(s.AccumulatedM3, s.Plot.Area, s.Plot.WA, s.Plot.IE)
	return s, []Effect{
		{Kind: EffectCancelAll},
		{Kind: EffectPersist, DepthMM: depth},
	}, nil
}

func (m *Machine) persisted(s Session, ev Event) (Session, []Effect, error) {
	s.Finalizing = false
	switch ev.Outcome {
	case PersistOK:
		depth := volume.DepthFromVolume(s.AccumulatedM3, s.Plot.Area, s.Plot.WA, s.Plot.IE)
		s.State = Completed
		s.Active = false
		e := journal(model.EventSessionCompleted, nil, "")
		e.DepthMM = depth
		return s, []Effect{
			{Kind: EffectCancelAll},
			send(finalReply(s, depth)),
			e,
			{Kind: EffectTeardown, Reason: "completed"},
		}, nil
	case PersistConflict:
		s.State = Cancelled
		s.Active = false
		return s, []Effect{
			{Kind: EffectCancelAll},
			send(alreadyRecordedReply),
			journal(model.EventAlreadyApplied, nil, "conflict"),
			{Kind: EffectTeardown, Reason: "already_applied"},
		}, ErrAlreadyApplied
	case PersistMissing:
		s.State = Cancelled
		s.Active = false
		return s, []Effect{
			{Kind: EffectCancelAll},
			send(requirementGoneReply),
			journal(model.EventSessionCancelled, nil, "requirement_missing"),
			{Kind: EffectTeardown, Reason: "cancelled"},
		}, ErrNotEligible
	}
	return s, []Effect{
		sendKeyboard(unavailableReply),
		journal(model.EventPersistFailed, nil, "unavailable"),
	}, ErrUpstreamUnavailable
}

func send(text string) Effect { return Effect{Kind: EffectSend, Text: text} }

func sendKeyboard(text string) Effect {
	return Effect{Kind: EffectSend, Text: text, Keyboard: defaultKeyboard}
}

func journal(eventType string, level *int, reason string) Effect {
	return Effect{Kind: EffectJournal, Journal: eventType, Level: level, Reason: reason}
}
