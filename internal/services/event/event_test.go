package event

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

type fakeWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
	errs   chan error
}

func newFakeWriteAPI() *fakeWriteAPI { return &fakeWriteAPI{errs: make(chan error, 1)} }

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }
func (f *fakeWriteAPI) Flush()               {}

func TestSessionEventToPoint(t *testing.T) {
	level := 12
	ts := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	p := SessionEventToPoint(model.SessionEvent{
		SessionID: "s-1", EventType: model.EventSessionReading, PlotID: "p1", OperatorID: "op-1",
		DeviceClass: "level_metered", State: "active", Level: &level, VolumeM3: 3.5, RequiredM3: 20, Timestamp: ts,
	})

	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, ts, p.Time())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "p1", tags["plot_id"])
	assert.Equal(t, model.EventSessionReading, tags["event_type"])
	assert.NotContains(t, tags, "reason")

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(12), fields["level"])
	assert.Equal(t, 3.5, fields["volume_m3"])
	assert.Equal(t, "s-1", fields["session_id"])
	assert.NotContains(t, fields, "depth_mm")
}

func TestWriter_RecordAndErrorAge(t *testing.T) {
	api := newFakeWriteAPI()
	w := NewWriter(api)
	now := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	w.mu.Lock()
	w.now = func() time.Time { return now }
	w.lastErr = now.Add(-time.Hour)
	w.mu.Unlock()

	w.Record(model.SessionEvent{EventType: model.EventSessionStarted, PlotID: "p1"})
	w.Record(model.SessionEvent{EventType: model.EventSessionStarted, PlotID: "p2"})
	assert.Equal(t, int64(2), w.Count(model.EventSessionStarted))
	assert.Len(t, api.points, 2)
	assert.Equal(t, time.Hour, w.LastErrorAge())

	api.errs <- errors.New("write failed")
	require.Eventually(t, func() bool { return w.LastErrorAge() == 0 }, time.Second, time.Millisecond)

	var nilWriter *Writer
	nilWriter.Record(model.SessionEvent{})
	assert.Greater(t, nilWriter.LastErrorAge(), time.Hour)
}

func TestHistoryQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/sessions/history?plot_id=p-1&minutes=60&limit=9999", nil)
	p := parseHistory(r, 1440, 20, 2000)
	assert.Equal(t, "p-1", p.PlotID)
	assert.Equal(t, 60, p.Minutes)
	assert.Equal(t, 500, p.Limit)

	flux := buildFlux("events", p)
	assert.Contains(t, flux, `r.plot_id == "p-1"`)
	assert.Contains(t, flux, `r._measurement == "irrigation_session"`)
	assert.Contains(t, flux, "range(start: -60m)")

	r = httptest.NewRequest("GET", "/sessions/history?plot_id=x%22)%7C%3Edrop(", nil)
	assert.Empty(t, parseHistory(r, 1440, 20, 2000).PlotID)
}
