package model

import (
	"github.com/LeonardoBeccarini/irrigation_session/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model/messages"
)

// Aliases exposing the common types to the services.

type (
	PlotContext    = entities.PlotContext
	DeviceClass    = entities.DeviceClass
	LevelReading   = entities.LevelReading
	InboundMessage = messages.InboundMessage
	OutboundPrompt = messages.OutboundPrompt
	SessionEvent   = messages.SessionEvent
)

const (
	LevelMetered       = entities.LevelMetered
	IncrementalCounter = entities.IncrementalCounter
	TotalMeter         = entities.TotalMeter
)

var ParseDeviceClass = entities.ParseDeviceClass

const (
	EventSessionStarted     = messages.EventSessionStarted
	EventSessionReading     = messages.EventSessionReading
	EventReminderFired      = messages.EventReminderFired
	EventCompletionEstimate = messages.EventCompletionEstimate
	EventSessionCompleted   = messages.EventSessionCompleted
	EventSessionCancelled   = messages.EventSessionCancelled
	EventAlreadyApplied     = messages.EventAlreadyApplied
	EventPersistFailed      = messages.EventPersistFailed
)
