package entities

import (
	"fmt"
	"strings"
)

// DeviceClass is the metering method installed on a plot.
type DeviceClass string

const (
	LevelMetered       DeviceClass = "level_metered"       // channel with a staff gauge
	IncrementalCounter DeviceClass = "incremental_counter" // volume meter read before and after
	TotalMeter         DeviceClass = "total_meter"         // operator reports one total
)

// ParseDeviceClass accepts the canonical names plus the labels stored in
// the plot properties ("channel", "counter", "traditional", "pump").
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "level_metered", "channel", "level":
		return LevelMetered, nil
	case "incremental_counter", "counter", "traditional":
		return IncrementalCounter, nil
	case "total_meter", "pump", "total":
		return TotalMeter, nil
	}
	return "", fmt.Errorf("unknown device class %q", s)
}

// PlotContext is the immutable description of a plot and its operator for
// one irrigation day. Area is in hectares; IE and WA are fractions.
type PlotContext struct {
	PlotID      string      `json:"plot_id"`
	OperatorID  string      `json:"operator_id"`
	ChatHandle  string      `json:"chat_handle"`
	DisplayName string      `json:"display_name"`
	Area        float64     `json:"area"`
	IE          float64     `json:"ie"`
	WA          float64     `json:"wa"`
	RequiredMM  float64     `json:"required_mm"`
	DeviceClass DeviceClass `json:"device_class"`
}

func (p PlotContext) Validate() error {
	if p.PlotID == "" || p.OperatorID == "" {
		return fmt.Errorf("plot context: missing plot or operator id")
	}
	if p.Area <= 0 {
		return fmt.Errorf("plot %s: area must be > 0, got %v", p.PlotID, p.Area)
	}
	if p.IE <= 0 || p.IE > 1 {
		return fmt.Errorf("plot %s: IE must be in (0,1], got %v", p.PlotID, p.IE)
	}
	if p.WA <= 0 || p.WA > 1 {
		return fmt.Errorf("plot %s: WA must be in (0,1], got %v", p.PlotID, p.WA)
	}
	if p.RequiredMM < 0 {
		return fmt.Errorf("plot %s: negative required depth", p.PlotID)
	}
	if _, err := ParseDeviceClass(string(p.DeviceClass)); err != nil {
		return fmt.Errorf("plot %s: %w", p.PlotID, err)
	}
	return nil
}
