package entities

import "time"

// LevelReading is one channel level reported by the operator.
type LevelReading struct {
	Level      int       `json:"level"`
	ObservedAt time.Time `json:"observed_at"`
}
