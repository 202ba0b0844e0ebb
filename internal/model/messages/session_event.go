package messages

import "time"

// SessionEvent is emitted by the conversation engine on every lifecycle
// step and journalled by the event service.
type SessionEvent struct {
	SessionID   string    `json:"session_id"`
	EventType   string    `json:"event_type"` // session.started | session.reading | ...
	PlotID      string    `json:"plot_id"`
	OperatorID  string    `json:"operator_id"`
	DeviceClass string    `json:"device_class"`
	State       string    `json:"state"`
	Level       *int      `json:"level,omitempty"`
	VolumeM3    float64   `json:"volume_m3"`
	RequiredM3  float64   `json:"required_m3"`
	DepthMM     float64   `json:"depth_mm,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	EventSessionStarted     = "session.started"
	EventSessionReading     = "session.reading"
	EventReminderFired      = "session.reminder"
	EventCompletionEstimate = "session.completion_estimate"
	EventSessionCompleted   = "session.completed"
	EventSessionCancelled   = "session.cancelled"
	EventAlreadyApplied     = "session.already_applied"
	EventPersistFailed      = "session.persist_failed"
)
