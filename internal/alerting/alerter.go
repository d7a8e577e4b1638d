// Package alerting surfaces trading outcomes as notifications.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityCritical is for alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key/value fields to a formatted string.
func FormatFields(fields ...any) string {
	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, fields[i+1])
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventPositionOpened is sent when an entry fills.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPositionClosed is sent when an exit fills.
	EventPositionClosed AlertEvent = "position_closed"
	// EventStopLossTriggered is sent when the trailing stop fires.
	EventStopLossTriggered AlertEvent = "stop_loss_triggered"
	// EventReversal is sent when a signal flips the position side.
	EventReversal AlertEvent = "reversal"
	// EventSignalIgnored is sent when a signal results in a no-op.
	EventSignalIgnored AlertEvent = "signal_ignored"
	// EventBotStarted is sent when the bot starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the bot stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventStopLossTriggered:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
