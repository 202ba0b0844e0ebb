// Package event journals session lifecycle events into InfluxDB and
// serves their history.
package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

// PointWriter is the subset of the non-blocking Influx WriteAPI in use.
type PointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
	Flush()
}

// Writer journals session events and remembers the last asynchronous write
// error for the readiness probe.
type Writer struct {
	api    PointWriter
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter wraps w and starts draining its error channel.
func NewWriter(w PointWriter) *Writer {
	ww := &Writer{
		api:     w,
		now:     time.Now,
		logger:  log.WithComponent("event.writer"),
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = ww.now()
			ww.mu.Unlock()
			ww.logger.Warn().Err(err).Msg("influx write error")
		}
	}()
	return ww
}

// Record implements conversation.EventSink. WritePoint only enqueues.
func (w *Writer) Record(ev model.SessionEvent) {
	if w == nil {
		return
	}
	w.api.WritePoint(SessionEventToPoint(ev))
	w.mu.Lock()
	w.counts[ev.EventType]++
	w.mu.Unlock()
}

// LastErrorAge is the time since the last write error.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[eventType]
}

// Flush forces pending points out; used on shutdown.
func (w *Writer) Flush() {
	if w != nil {
		w.api.Flush()
	}
}
