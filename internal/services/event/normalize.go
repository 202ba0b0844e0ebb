package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

// Measurement holds every session lifecycle point.
const Measurement = "irrigation_session"

// SessionEventToPoint normalizes a session event into an Influx point.
// Low-cardinality attributes are tags; the session id is a field.
func SessionEventToPoint(ev model.SessionEvent) *write.Point {
	tags := map[string]string{
		"event_type":   ev.EventType,
		"plot_id":      ev.PlotID,
		"operator_id":  ev.OperatorID,
		"device_class": ev.DeviceClass,
		"state":        ev.State,
	}
	if ev.Reason != "" {
		tags["reason"] = ev.Reason
	}

	fields := map[string]interface{}{
		"session_id":  ev.SessionID,
		"volume_m3":   ev.VolumeM3,
		"required_m3": ev.RequiredM3,
	}
	if ev.DepthMM > 0 {
		fields["depth_mm"] = ev.DepthMM
	}
	if ev.Level != nil {
		fields["level"] = int64(*ev.Level)
	}
	return influxdb2.NewPoint(Measurement, tags, fields, ev.Timestamp)
}
