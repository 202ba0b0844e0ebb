package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_session/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/conversation"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
)

var loc = time.FixedZone("UZT", 5*3600)

type outbox struct {
	mu      sync.Mutex
	prompts []model.OutboundPrompt
	failFor string
}

func (o *outbox) Send(_ context.Context, p model.OutboundPrompt) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.PlotID == o.failFor {
		return errors.New("delivery failed")
	}
	o.prompts = append(o.prompts, p)
	return nil
}

func (o *outbox) plots() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, p := range o.prompts {
		out = append(out, p.PlotID)
	}
	return out
}

// listAll reports every registered plot as eligible, including applied
// ones, to exercise the engine-side guard.
type listAll struct {
	*persistence.MemoryGateway
	plots []model.PlotContext
}

func (l *listAll) ListEligible(context.Context, time.Time) ([]model.PlotContext, error) {
	return l.plots, nil
}

func plotFor(id, op string) model.PlotContext {
	return model.PlotContext{
		PlotID: id, OperatorID: op, ChatHandle: "chat-" + op, DisplayName: op,
		Area: 1, WA: 1, IE: 0.8, RequiredMM: 12, DeviceClass: model.LevelMetered,
	}
}

type fixture struct {
	clk *clock.Fake
	gw  *persistence.MemoryGateway
	out *outbox
	eng *conversation.Engine
	day time.Time
}

func newFixture(t *testing.T, gw persistence.IrrigationGateway, mem *persistence.MemoryGateway) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 2, 6, 0, 0, 0, loc))
	out := &outbox{}
	eng, err := conversation.New(conversation.Options{
		Gateway: gw, Notifier: out, Clock: clk, Location: loc,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return &fixture{clk: clk, gw: mem, out: out, eng: eng, day: time.Date(2024, 6, 1, 0, 0, 0, 0, loc)}
}

func TestRunOnce_StartsEligiblePlots(t *testing.T) {
	mem := persistence.NewMemoryGateway()
	f := newFixture(t, mem, mem)
	for _, id := range []string{"p1", "p2", "p3"} {
		mem.Put(plotFor(id, "op-"+id), f.day)
	}
	f.out.failFor = "p2"

	d := New(mem, f.eng, f.clk, Config{Location: loc, Concurrency: 2})
	rep, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Eligible)
	assert.Equal(t, 2, rep.Started)
	assert.Equal(t, 1, rep.Failed)
	assert.ElementsMatch(t, []string{"p1", "p3"}, f.out.plots())
	assert.Len(t, f.eng.Sessions(), 2)

	// a second run the same day retries the failed plot only
	f.out.mu.Lock()
	f.out.failFor = ""
	f.out.mu.Unlock()
	rep, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 1, rep.Started)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, f.out.plots())
}

func TestRunOnce_AlreadyAppliedPlotGetsNoSession(t *testing.T) {
	mem := persistence.NewMemoryGateway()
	applied := plotFor("p9", "op-9")
	mem.Put(applied, time.Date(2024, 6, 1, 0, 0, 0, 0, loc))
	mem.MarkApplied("p9", time.Date(2024, 6, 1, 0, 0, 0, 0, loc), 4)
	gw := &listAll{MemoryGateway: mem, plots: []model.PlotContext{applied}}
	f := newFixture(t, gw, mem)

	d := New(gw, f.eng, f.clk, Config{Location: loc})
	rep, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Started)
	assert.Empty(t, f.eng.Sessions())
	assert.Empty(t, f.out.plots())
}

func TestRunOnce_ListFailureAbortsBatch(t *testing.T) {
	mem := persistence.NewMemoryGateway()
	f := newFixture(t, mem, mem)
	mem.FailNext(1)

	_, err := New(mem, f.eng, f.clk, Config{Location: loc}).RunOnce(context.Background())
	assert.ErrorIs(t, err, persistence.ErrUnavailable)
}

func TestRun_FiresAtConfiguredTime(t *testing.T) {
	mem := persistence.NewMemoryGateway()
	f := newFixture(t, mem, mem)
	mem.Put(plotFor("p1", "op-1"), f.day)

	d := New(mem, f.eng, f.clk, Config{At: TimeOfDay{Hour: 7}, Location: loc})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return f.clk.Pending() == 1 }, time.Second, time.Millisecond)
	f.clk.Advance(59 * time.Minute)
	assert.Empty(t, f.out.plots())

	f.clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(f.out.plots()) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:00")
	require.NoError(t, err)
	assert.Equal(t, "07:00", tod.String())

	_, err = ParseTimeOfDay("7am")
	assert.Error(t, err)

	before := time.Date(2024, 6, 2, 6, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 6, 2, 7, 0, 0, 0, loc), tod.Next(before, loc))
	at := time.Date(2024, 6, 2, 7, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 6, 3, 7, 0, 0, 0, loc), tod.Next(at, loc))
}
