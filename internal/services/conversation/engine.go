// Package conversation drives the per-plot irrigation conversation: it
// serializes events per session key, runs the transition function and
// executes its effects against the store, the scheduler, the transport and
// the irrigation gateway.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/metrics"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
)

// Notifier delivers prompts to operators.
type Notifier interface {
	Send(ctx context.Context, p model.OutboundPrompt) error
}

// EventSink journals session lifecycle events. Record must not block.
type EventSink interface {
	Record(ev model.SessionEvent)
}

type nopSink struct{}

func (nopSink) Record(model.SessionEvent) {}

// Options wires the engine. Gateway and Notifier are required.
type Options struct {
	Gateway       persistence.IrrigationGateway
	Notifier      Notifier
	Events        EventSink
	Clock         clock.Clock
	Scheduler     *scheduler.Scheduler
	Store         *Store
	Flow          *volume.FlowRateTable
	Location      *time.Location
	ReminderEvery time.Duration
	CounterUnit   float64
	SendTimeout   time.Duration
}

type Engine struct {
	machine     *Machine
	store       *Store
	sched       *scheduler.Scheduler
	gw          persistence.IrrigationGateway
	notifier    Notifier
	events      EventSink
	clock       clock.Clock
	loc         *time.Location
	sendTimeout time.Duration
	locks       *keyLocks
	logger      zerolog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("conversation: gateway is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("conversation: notifier is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(opts.Clock)
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Events == nil {
		opts.Events = nopSink{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Engine{
		machine:     NewMachine(opts.Flow, opts.ReminderEvery, opts.CounterUnit),
		store:       opts.Store,
		sched:       opts.Scheduler,
		gw:          opts.Gateway,
		notifier:    opts.Notifier,
		events:      opts.Events,
		clock:       opts.Clock,
		loc:         opts.Location,
		sendTimeout: opts.SendTimeout,
		locks:       newKeyLocks(),
		logger:      log.WithComponent("conversation"),
	}, nil
}

// TargetDay is the requirement date served at now: the local day before.
func (e *Engine) TargetDay(now time.Time) time.Time {
	return clock.MidnightIn(now, e.loc).AddDate(0, 0, -1)
}

// Sessions returns a snapshot of every live session.
func (e *Engine) Sessions() []Session { return e.store.List() }

// Close stops every timer.
func (e *Engine) Close() { e.sched.Stop() }

// Start opens a session for pc on the current target day and sends the
// opening prompt. It refuses plots already applied and reports false
// without prompting when a session for the key is already running.
func (e *Engine) Start(ctx context.Context, pc model.PlotContext) (bool, error) {
	return e.start(ctx, pc, e.TargetDay(e.clock.Now()), false)
}

func (e *Engine) start(ctx context.Context, pc model.PlotContext, date time.Time, resend bool) (bool, error) {
	if err := pc.Validate(); err != nil {
		return false, fmt.Errorf("start: %w", err)
	}
	key := KeyFor(pc, date)
	applied, err := e.gw.AlreadyApplied(ctx, pc.PlotID, date)
	if err != nil {
		return false, fmt.Errorf("start %s: %w: %v", key, ErrUpstreamUnavailable, err)
	}
	if applied {
		return false, fmt.Errorf("start %s: %w", key, ErrAlreadyApplied)
	}

	unlock := e.locks.Lock(key.String())
	defer unlock()

	now := e.clock.Now()
	s, created := e.store.GetOrCreate(key, date, pc, now)
	if !created && !resend {
		return false, nil
	}
	next, effects, _ := e.machine.Step(s, Event{Kind: EventBegin, At: now})
	if _, err := e.apply(ctx, next, effects); err != nil {
		if created {
			e.store.Remove(key.String())
			e.sched.CancelAll(key.String())
			metrics.SetActiveSessions(e.store.Len())
		}
		return false, fmt.Errorf("notify %s: %w", key, err)
	}
	if created {
		metrics.IncSessionStarted(string(pc.DeviceClass))
		e.sessionLogger(next).Info().Msg("session started")
	}
	return created, nil
}

// StartForOperator handles an operator-initiated start: every eligible plot
// of the operator (or only plotID) gets a session, and running sessions
// get their current prompt again.
func (e *Engine) StartForOperator(ctx context.Context, operatorID, plotID string) (int, error) {
	date := e.TargetDay(e.clock.Now())

	var plots []model.PlotContext
	if plotID != "" {
		pc, err := e.gw.FetchRequirement(ctx, plotID, date)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
		case err != nil:
			_ = e.reply(ctx, operatorID, "", plotID, unavailableReply, nil)
			return 0, fmt.Errorf("start for %s: %w: %v", operatorID, ErrUpstreamUnavailable, err)
		case pc.OperatorID == operatorID:
			plots = append(plots, pc)
		}
	} else {
		all, err := e.gw.ListEligible(ctx, date)
		if err != nil {
			_ = e.reply(ctx, operatorID, "", "", unavailableReply, nil)
			return 0, fmt.Errorf("start for %s: %w: %v", operatorID, ErrUpstreamUnavailable, err)
		}
		for _, pc := range all {
			if pc.OperatorID == operatorID {
				plots = append(plots, pc)
			}
		}
	}

	if len(plots) == 0 {
		live := e.store.ByOperator(operatorID)
		for _, s := range live {
			if plotID == "" || s.Key.PlotID == plotID {
				plots = append(plots, s.Plot)
			}
		}
		if len(plots) == 0 {
			_ = e.reply(ctx, operatorID, "", plotID, noRecommendationReply, nil)
			return 0, fmt.Errorf("start for %s: %w", operatorID, ErrNotEligible)
		}
	}

	started := 0
	var errs []error
	for _, pc := range plots {
		ok, err := e.start(ctx, pc, date, true)
		if errors.Is(err, ErrAlreadyApplied) {
			_ = e.reply(ctx, operatorID, pc.ChatHandle, pc.PlotID, alreadyRecordedReply, nil)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			started++
		}
	}
	return started, errors.Join(errs...)
}

// HandleMessage processes one inbound operator message.
func (e *Engine) HandleMessage(ctx context.Context, msg model.InboundMessage) error {
	in := ParseInput(msg.Text)
	if in.Kind == InputBegin {
		_, err := e.StartForOperator(ctx, msg.OperatorID, msg.PlotID)
		return err
	}

	key, err := e.resolve(ctx, msg)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(key)
	s, ok := e.store.Get(key)
	if !ok {
		unlock()
		_ = e.reply(ctx, msg.OperatorID, "", msg.PlotID, noSessionReply, defaultKeyboard)
		return ErrNoSession
	}
	now := e.clock.Now()

	// sessions of a past day stay open until the dispatcher's sweep
	next, effects, stepErr := e.machine.Step(s, inputEvent(in, now))
	persist, _ := e.apply(ctx, next, effects)
	unlock()

	switch {
	case errors.Is(stepErr, ErrInputFormat):
		metrics.IncInputError("format")
	case errors.Is(stepErr, ErrOrdering):
		metrics.IncInputError("ordering")
	}
	if stepErr != nil {
		e.sessionLogger(s).Debug().Err(stepErr).Str("text", msg.Text).Msg("input rejected")
	}
	if persist != nil {
		return e.finalize(ctx, next, persist.DepthMM)
	}
	return stepErr
}

func inputEvent(in Input, now time.Time) Event {
	ev := Event{At: now, Number: in.Number}
	switch in.Kind {
	case InputNumber:
		ev.Kind = EventNumber
	case InputFinish:
		ev.Kind = EventFinish
	case InputCancel:
		ev.Kind = EventCancel
	case InputNoWater:
		ev.Kind = EventNoWater
	case InputBegin:
		ev.Kind = EventBegin
	default:
		ev.Kind = EventInvalid
	}
	return ev
}

// resolve maps a message to a session key: the plot if given, otherwise
// the operator's only live session.
func (e *Engine) resolve(ctx context.Context, msg model.InboundMessage) (string, error) {
	var candidates []Session
	for _, s := range e.store.ByOperator(msg.OperatorID) {
		if msg.PlotID == "" || s.Key.PlotID == msg.PlotID {
			candidates = append(candidates, s)
		}
	}
	switch len(candidates) {
	case 0:
		_ = e.reply(ctx, msg.OperatorID, "", msg.PlotID, noSessionReply, defaultKeyboard)
		return "", ErrNoSession
	case 1:
		return candidates[0].Key.String(), nil
	}
	ids := make([]string, 0, len(candidates))
	for _, s := range candidates {
		ids = append(ids, s.Key.PlotID)
	}
	_ = e.reply(ctx, msg.OperatorID, candidates[0].Plot.ChatHandle, "",
		"Several plots are in progress ("+strings.Join(ids, ", ")+"). Reply from the plot you are watering.", nil)
	return "", fmt.Errorf("operator %s: %d sessions: %w", msg.OperatorID, len(candidates), ErrNoSession)
}

// finalize runs the finishing write outside the key lock on the snapshot
// taken when the session entered Finalizing, then applies the outcome.
func (e *Engine) finalize(ctx context.Context, snap Session, depthMM float64) error {
	outcome := e.persist(ctx, snap, depthMM)

	key := snap.Key.String()
	unlock := e.locks.Lock(key)
	defer unlock()

	cur, ok := e.store.Get(key)
	if !ok || !cur.Finalizing {
		return fmt.Errorf("finalize %s: %w", key, ErrNoSession)
	}
	next, effects, err := e.machine.Step(cur, Event{Kind: EventPersisted, Outcome: outcome, At: e.clock.Now()})
	_, _ = e.apply(ctx, next, effects)

	switch outcome {
	case PersistOK:
		metrics.IncPersist("ok")
		metrics.ObserveAppliedVolume(next.AccumulatedM3)
		e.sessionLogger(next).Info().Float64("volume_m3", next.AccumulatedM3).Float64("depth_mm", depthMM).Msg("session completed")
	case PersistConflict:
		metrics.IncPersist("conflict")
	case PersistMissing:
		metrics.IncPersist("not_found")
	default:
		metrics.IncPersist("unavailable")
	}
	return err
}

func (e *Engine) persist(ctx context.Context, s Session, depthMM float64) PersistOutcome {
	logger := e.sessionLogger(s)
	applied, err := e.gw.AlreadyApplied(ctx, s.Plot.PlotID, s.Date)
	if err != nil {
		logger.Warn().Err(err).Msg("idempotency check failed")
		return PersistUnavailable
	}
	if applied {
		return PersistConflict
	}
	err = e.gw.PersistApplied(ctx, s.Plot.PlotID, s.Date, depthMM)
	switch {
	case err == nil:
		return PersistOK
	case errors.Is(err, persistence.ErrConflict):
		return PersistConflict
	case errors.Is(err, persistence.ErrNotFound):
		return PersistMissing
	}
	logger.Error().Err(err).Float64("depth_mm", depthMM).Msg("persist applied failed")
	return PersistUnavailable
}

func (e *Engine) onTimer(f scheduler.Fire) {
	if err := e.handleTimer(f); err != nil && !errors.Is(err, ErrStaleTimer) {
		e.logger.Warn().Err(err).Str("session_key", f.Key).Str("class", f.Class.String()).Msg("timer handling failed")
	}
}

func (e *Engine) handleTimer(f scheduler.Fire) error {
	unlock := e.locks.Lock(f.Key)
	defer unlock()

	if !e.sched.Current(f) {
		return ErrStaleTimer
	}
	s, ok := e.store.Get(f.Key)
	if !ok || !s.Active {
		return ErrStaleTimer
	}
	if s.Key.Day != persistence.DayKey(e.TargetDay(f.At)) {
		// no prompts past midnight; the session waits for Save data or the sweep
		e.sched.CancelAll(f.Key)
		e.logger.Debug().Str("session_key", f.Key).Str("class", f.Class.String()).Msg("timer silenced after day change")
		return ErrStaleTimer
	}
	next, effects, err := e.machine.Step(s, Event{Kind: EventTimer, Timer: f.Class, At: f.At})
	if err != nil {
		e.logger.Debug().Err(err).Str("session_key", f.Key).Str("class", f.Class.String()).Msg("timer fire dropped")
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()
	_, err = e.apply(ctx, next, effects)
	return err
}

// Sweep tears down sessions whose day is not day. Sessions with a write in
// flight are left alone. It returns the number expired.
func (e *Engine) Sweep(ctx context.Context, day time.Time) int {
	want := persistence.DayKey(day)
	n := 0
	for _, s := range e.store.List() {
		if s.Key.Day == want {
			continue
		}
		key := s.Key.String()
		unlock := e.locks.Lock(key)
		cur, ok := e.store.Get(key)
		if ok && !cur.Finalizing {
			e.expireLocked(ctx, cur, true)
			n++
		}
		unlock()
	}
	return n
}

// Cancel tears down the session for key on an explicit reset.
func (e *Engine) Cancel(ctx context.Context, key string) error {
	unlock := e.locks.Lock(key)
	defer unlock()
	s, ok := e.store.Get(key)
	if !ok {
		e.sched.CancelAll(key)
		return ErrNoSession
	}
	next, effects, err := e.machine.Step(s, Event{Kind: EventCancel, At: e.clock.Now()})
	if err != nil {
		return err
	}
	_, err = e.apply(ctx, next, effects)
	return err
}

func (e *Engine) expireLocked(ctx context.Context, s Session, notify bool) {
	key := s.Key.String()
	e.sched.CancelAll(key)
	e.store.Remove(key)
	s.State = Cancelled
	s.Active = false
	e.record(s, journal(model.EventSessionCancelled, nil, "rollover"))
	if notify {
		_ = e.send(ctx, s, rolloverReply, defaultKeyboard)
	}
	metrics.IncSessionFinished("rollover")
	metrics.SetActiveSessions(e.store.Len())
	e.sessionLogger(s).Info().Msg("stale session expired")
}

// apply stores s and executes effects in order. It returns the persist
// effect, if any, and the first send error.
func (e *Engine) apply(ctx context.Context, s Session, effects []Effect) (*Effect, error) {
	key := s.Key.String()
	e.store.Put(s)

	var (
		persist  *Effect
		sendErr  error
		teardown string
	)
	for i := range effects {
		eff := effects[i]
		switch eff.Kind {
		case EffectSend:
			if err := e.send(ctx, s, eff.Text, eff.Keyboard); err != nil && sendErr == nil {
				sendErr = err
			}
		case EffectArm:
			e.sched.Arm(key, eff.Timer, eff.FireAt, e.onTimer)
		case EffectEvery:
			e.sched.Every(key, eff.Timer, eff.Every, e.onTimer)
		case EffectCancel:
			e.sched.Cancel(key, eff.Timer)
		case EffectCancelAll:
			e.sched.CancelAll(key)
		case EffectPersist:
			persist = &eff
		case EffectJournal:
			e.record(s, eff)
		case EffectTeardown:
			teardown = eff.Reason
		}
	}
	if teardown != "" {
		e.sched.CancelAll(key)
		e.store.Remove(key)
		metrics.IncSessionFinished(teardown)
	}
	metrics.SetActiveSessions(e.store.Len())
	return persist, sendErr
}

func (e *Engine) send(ctx context.Context, s Session, text string, keyboard []string) error {
	return e.reply(ctx, s.Key.OperatorID, s.Plot.ChatHandle, s.Key.PlotID, text, keyboard)
}

func (e *Engine) reply(ctx context.Context, operatorID, chatHandle, plotID, text string, keyboard []string) error {
	p := model.OutboundPrompt{
		MessageID:  uuid.NewString(),
		OperatorID: operatorID,
		ChatHandle: chatHandle,
		PlotID:     plotID,
		Text:       text,
		Keyboard:   keyboard,
		SentAt:     e.clock.Now(),
	}
	sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.notifier.Send(sctx, p); err != nil {
		e.logger.Warn().Err(err).Str("operator_id", operatorID).Str("plot_id", plotID).Msg("prompt delivery failed")
		return err
	}
	return nil
}

func (e *Engine) record(s Session, eff Effect) {
	e.events.Record(model.SessionEvent{
		SessionID:   s.ID,
		EventType:   eff.Journal,
		PlotID:      s.Key.PlotID,
		OperatorID:  s.Key.OperatorID,
		DeviceClass: string(s.DeviceClass),
		State:       s.State.String(),
		Level:       eff.Level,
		VolumeM3:    s.AccumulatedM3,
		RequiredM3:  s.RequiredM3,
		DepthMM:     eff.DepthMM,
		Reason:      eff.Reason,
		Timestamp:   e.clock.Now(),
	})
}

func (e *Engine) sessionLogger(s Session) *zerolog.Logger {
	l := e.logger.With().
		Str("session_key", s.Key.String()).
		Str("plot_id", s.Key.PlotID).
		Str("operator_id", s.Key.OperatorID).
		Str("state", s.State.String()).
		Logger()
	return &l
}
