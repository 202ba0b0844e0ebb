package conversation

import (
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/volume"
)

func greeting(s Session) string {
	name := s.Plot.DisplayName
	if name == "" {
		name = s.Plot.OperatorID
	}
	return fmt.Sprintf("Hello, %s! Plot %s: the irrigation requirement for %s is %.1f mm, i.e. %.2f m³ of water.",
		name, s.Plot.PlotID, s.Key.Day, s.Plot.RequiredMM, s.RequiredM3)
}

func openingPrompt(s Session, maxLevel int) string {
	switch s.DeviceClass {
	case model.IncrementalCounter:
		return greeting(s) + " Before opening the water, send the current counter reading."
	case model.TotalMeter:
		return greeting(s) + " When watering is over, send the total volume used in m³."
	}
	return greeting(s) + fmt.Sprintf(" When water starts flowing, send the channel level in cm (0-%d).", maxLevel)
}

// currentPrompt repeats what the session is waiting for.
func currentPrompt(s Session, maxLevel int) string {
	switch s.State {
	case AwaitingStart:
		return openingPrompt(s, maxLevel)
	case Active, AwaitingLevelUpdate:
		if s.DeviceClass == model.IncrementalCounter {
			return fmt.Sprintf("Watering in progress from counter %.2f. Send the counter reading when you close the water.", s.StartCounter)
		}
		return fmt.Sprintf("Watering in progress: %.2f of %.2f m³ used. Send the current level in cm or press %q.",
			s.AccumulatedM3, s.RequiredM3, ButtonSaveData)
	case AwaitingCounterEnd:
		return fmt.Sprintf("Send the counter reading now (start was %.2f).", s.StartCounter)
	case AwaitingTotalVolume:
		if s.Measured {
			return fmt.Sprintf("Total of %.2f m³ not saved yet. Press %q to retry.", s.AccumulatedM3, ButtonSaveData)
		}
		return "Send the total volume used in m³."
	}
	return "No irrigation in progress."
}

func levelPrompt(maxLevel int) string {
	return fmt.Sprintf("What is the water level in the channel now? Send a whole number of cm (0-%d).", maxLevel)
}

func progressReply(s Session, level int, rate float64) string {
	remaining := s.RemainingM3()
	msg := fmt.Sprintf("Level %d cm. Used %.2f of %.2f m³.", level, s.AccumulatedM3, s.RequiredM3)
	if remaining <= 0 {
		return msg + fmt.Sprintf(" The field has enough water: close the water and press %q.", ButtonSaveData)
	}
	if d, ok := volume.TimeToDeliver(remaining, rate); ok {
		return msg + fmt.Sprintf(" About %s of watering left.", humanDuration(d))
	}
	return msg + " No flow at this level; send the level again when water runs."
}

func counterStartReply(s Session, unit float64) string {
	target := s.StartCounter
	if unit > 0 {
		target += s.RequiredM3 / unit
	}
	return fmt.Sprintf("Start counter %.2f recorded. Close the water when the counter shows %.2f, then send the reading.",
		s.StartCounter, target)
}

func completionReply() string {
	return fmt.Sprintf("Watering time is over. Close the water and press %q.", ButtonSaveData)
}

func finalReply(s Session, depthMM float64) string {
	return fmt.Sprintf("Data saved: %.2f m³ (%.2f mm) applied on plot %s.", s.AccumulatedM3, depthMM, s.Plot.PlotID)
}

func formatErrorReply(s Session, maxLevel int) string {
	if s.DeviceClass == model.LevelMetered && s.State != Idle {
		return "I could not read that. " + levelPrompt(maxLevel)
	}
	return "I could not read that, please send a number. " + currentPrompt(s, maxLevel)
}

func humanDuration(d time.Duration) string {
	mins := int(math.Round(d.Minutes()))
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}

const (
	busyReply             = "Your data is being saved, please wait."
	cancelledReply        = "Irrigation session cancelled."
	noWaterReply          = "Noted: no water today. Nothing will be recorded."
	alreadyRecordedReply  = "Irrigation for this plot and day is already recorded."
	unavailableReply      = "The service is temporarily unavailable, please try again later. Your readings are kept."
	requirementGoneReply  = "There is no irrigation recommendation for this plot any more. Session closed."
	noSessionReply        = "There is no irrigation in progress. Press \"Send recommendation\" to start."
	noRecommendationReply = "There is no irrigation recommendation for you today."
	nothingToRecordReply  = "No water has been measured yet. Send a reading or press \"No water\"."
	rolloverReply         = "Yesterday's irrigation session has expired without data."
)
