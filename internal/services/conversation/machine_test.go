package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
)

func newSession(class model.DeviceClass) Session {
	pc := plot("p1", class)
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return Session{
		Key:         KeyFor(pc, day),
		Date:        day,
		Plot:        pc,
		DeviceClass: class,
		State:       Idle,
		RequiredM3:  volume.RequiredVolume(pc.RequiredMM, pc.Area, pc.WA, pc.IE),
	}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestMachine_LevelAccumulationUsesEarlierReading(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

	s, _, err := m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})
	require.NoError(t, err)

	readings := []volume.Reading{
		{Level: 12, At: t0},
		{Level: 8, At: t0.Add(20 * time.Minute)},
		{Level: 8, At: t0.Add(35 * time.Minute)},
		{Level: 20, At: t0.Add(50 * time.Minute)},
		{Level: 3, At: t0.Add(90 * time.Minute)},
	}
	for _, r := range readings {
		s, _, err = m.Step(s, Event{Kind: EventNumber, Number: float64(r.Level), At: r.At})
		require.NoError(t, err)
	}
	assert.InDelta(t, volume.Accumulate(m.Flow, readings), s.AccumulatedM3, 1e-9)
	assert.InDelta(t, 0.42*20+0.15*15+0.15*15+1.50*40, s.AccumulatedM3, 1e-9)
	assert.Len(t, s.Readings, len(readings))
}

func TestMachine_ReadingArmsTimers(t *testing.T) {
	m := NewMachine(nil, 20*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	s, _, _ := m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})

	s, effects, err := m.Step(s, Event{Kind: EventNumber, Number: 10, At: t0})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{EffectEvery, EffectArm, EffectSend, EffectJournal}, kinds(effects))
	assert.Equal(t, 20*time.Minute, effects[0].Every)
	assert.Equal(t, scheduler.CompletionEstimate, effects[1].Timer)
	assert.Equal(t, Active, s.State)

	_, effects, err = m.Step(s, Event{Kind: EventNumber, Number: 0, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, EffectCancel, effects[1].Kind)
	assert.Equal(t, scheduler.CompletionEstimate, effects[1].Timer)
}

func TestMachine_EnoughWaterCancelsCompletion(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	s, _, _ := m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})
	s, _, _ = m.Step(s, Event{Kind: EventNumber, Number: 25, At: t0})

	s, effects, err := m.Step(s, Event{Kind: EventNumber, Number: 25, At: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Zero(t, s.RemainingM3())
	assert.Equal(t, EffectCancel, effects[1].Kind)
	assert.Contains(t, effects[2].Text, "enough water")
}

func TestMachine_NegativeElapsedAddsNothing(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	s, _, _ := m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})
	s, _, _ = m.Step(s, Event{Kind: EventNumber, Number: 10, At: t0})

	s, _, err := m.Step(s, Event{Kind: EventNumber, Number: 12, At: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Zero(t, s.AccumulatedM3)
	assert.Equal(t, t0, s.LastUpdateAt)
}

func TestMachine_TimerOnlyForLiveLevelSessions(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)

	s, _, _ := m.Step(newSession(model.TotalMeter), Event{Kind: EventBegin, At: t0})
	_, _, err := m.Step(s, Event{Kind: EventTimer, Timer: scheduler.Reminder, At: t0})
	assert.ErrorIs(t, err, ErrStaleTimer)

	s, _, _ = m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})
	_, _, err = m.Step(s, Event{Kind: EventTimer, Timer: scheduler.Reminder, At: t0})
	assert.ErrorIs(t, err, ErrStaleTimer, "no reminder before the first reading")
}

func TestMachine_TerminalSessionRejectsEverything(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	s := newSession(model.LevelMetered)
	s.State = Completed

	_, effects, err := m.Step(s, Event{Kind: EventNumber, Number: 3})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, effects)
}

func TestMachine_PersistOutcomes(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	s := newSession(model.TotalMeter)
	s.State = AwaitingTotalVolume
	s.Active = true

	s, effects, err := m.Step(s, Event{Kind: EventNumber, Number: 25})
	require.NoError(t, err)
	require.True(t, s.Finalizing)
	assert.Equal(t, []EffectKind{EffectCancelAll, EffectPersist}, kinds(effects))
	assert.InDelta(t, volume.DepthFromVolume(25, 2, 0.5, 0.65), effects[1].DepthMM, 1e-9)

	done, effects, err := m.Step(s, Event{Kind: EventPersisted, Outcome: PersistOK})
	require.NoError(t, err)
	assert.Equal(t, Completed, done.State)
	assert.False(t, done.Active)
	assert.Equal(t, EffectTeardown, effects[len(effects)-1].Kind)

	kept, _, err := m.Step(s, Event{Kind: EventPersisted, Outcome: PersistUnavailable})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, AwaitingTotalVolume, kept.State)
	assert.False(t, kept.Finalizing)
	assert.True(t, kept.Measured)

	gone, _, err := m.Step(s, Event{Kind: EventPersisted, Outcome: PersistConflict})
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Equal(t, Cancelled, gone.State)
}

func TestMachine_StepDoesNotAliasReadings(t *testing.T) {
	m := NewMachine(nil, 15*time.Minute, 1)
	t0 := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	s, _, _ := m.Step(newSession(model.LevelMetered), Event{Kind: EventBegin, At: t0})
	s, _, _ = m.Step(s, Event{Kind: EventNumber, Number: 5, At: t0})

	next, _, err := m.Step(s, Event{Kind: EventNumber, Number: 6, At: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, s.Readings, 1)
	assert.Len(t, next.Readings, 2)
}
