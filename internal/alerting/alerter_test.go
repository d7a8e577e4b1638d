package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %s, want %s", tt.severity, got, tt.want)
		}
	}
}

func TestFormatFields(t *testing.T) {
	got := FormatFields("ticker", "BTC", "qty", 1.5)
	if !strings.Contains(got, "ticker: BTC") {
		t.Errorf("FormatFields missing ticker, got %q", got)
	}
	if !strings.Contains(got, "qty: 1.5") {
		t.Errorf("FormatFields missing qty, got %q", got)
	}

	if got := FormatFields(); got != "" {
		t.Errorf("FormatFields() = %q, want empty", got)
	}

	// Odd trailing value is dropped, non-string keys are skipped
	got = FormatFields("a", 1, "dangling")
	if !strings.Contains(got, "a: 1") || strings.Contains(got, "dangling") {
		t.Errorf("FormatFields with odd fields = %q", got)
	}
}

func TestEventSeverity(t *testing.T) {
	if EventSeverity(EventStopLossTriggered) != SeverityWarning {
		t.Error("Stop-loss events should be warnings")
	}
	if EventSeverity(EventPositionOpened) != SeverityInfo {
		t.Error("Position events should be informational")
	}
	if EventSeverity(EventBotStarted) != SeverityInfo {
		t.Error("Lifecycle events should be informational")
	}
}

func TestMockAlerter(t *testing.T) {
	mock := NewMockAlerter()

	if err := mock.Alert(context.Background(), SeverityInfo, "Position opened", "ticker", "BTC"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if mock.Count() != 1 {
		t.Errorf("Count = %d, want 1", mock.Count())
	}
	if !mock.HasAlertContaining("Position opened") {
		t.Error("Expected alert containing 'Position opened'")
	}
	if mock.HasAlertContaining("stop loss") {
		t.Error("Unexpected alert match")
	}

	last := mock.LastAlert()
	if last == nil || last.Severity != SeverityInfo {
		t.Errorf("LastAlert = %+v", last)
	}
}

func TestMultiAlerter_FansOut(t *testing.T) {
	a := NewMockAlerter()
	b := NewMockAlerter()
	multi := NewMultiAlerter(nil, a, b)

	if err := multi.Alert(context.Background(), SeverityWarning, "Trailing stop hit"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if a.Count() != 1 || b.Count() != 1 {
		t.Errorf("Counts = %d/%d, want 1/1", a.Count(), b.Count())
	}
}

// failingAlerter always errors, for fan-out failure tests.
type failingAlerter struct{ err error }

func (f *failingAlerter) Name() string { return "failing" }

func (f *failingAlerter) Alert(context.Context, Severity, string, ...any) error {
	return f.err
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	ok := NewMockAlerter()
	bad := &failingAlerter{err: errors.New("channel down")}
	multi := NewMultiAlerter(nil, ok, bad)

	err := multi.Alert(context.Background(), SeverityInfo, "Position closed")
	if err == nil {
		t.Fatal("Expected joined error from failing channel")
	}
	if !errors.Is(err, bad.err) {
		t.Errorf("Error = %v, should wrap %v", err, bad.err)
	}
	if !strings.Contains(err.Error(), "failing:") {
		t.Errorf("Error %q should name the failing channel", err.Error())
	}
	if ok.Count() != 1 {
		t.Error("Healthy channel should still receive the alert")
	}
}

func TestMultiAlerter_Empty(t *testing.T) {
	multi := NewMultiAlerter(nil)
	if err := multi.Alert(context.Background(), SeverityInfo, "noop"); err != nil {
		t.Errorf("Empty multi-alerter should be a no-op, got %v", err)
	}
}

func TestMultiAlerter_AddAlerter(t *testing.T) {
	multi := NewMultiAlerter(nil)
	mock := NewMockAlerter()
	multi.AddAlerter(mock)

	if err := multi.AlertEvent(context.Background(), EventBotStarted, "Bot started"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if mock.Count() != 1 {
		t.Errorf("Count = %d, want 1", mock.Count())
	}
}

func TestTelegramAlerter_FormatMessage(t *testing.T) {
	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "token", ChatID: "chat"})

	msg := alerter.formatMessage(SeverityWarning, "Trailing stop hit", "ticker", "BTC")
	if !strings.Contains(msg, "<b>[WARNING]</b>") {
		t.Errorf("Message missing severity header: %q", msg)
	}
	if !strings.Contains(msg, "Trailing stop hit") {
		t.Errorf("Message missing body: %q", msg)
	}
	if !strings.Contains(msg, "ticker: BTC") {
		t.Errorf("Message missing fields: %q", msg)
	}
}

func TestConsoleAlerter(t *testing.T) {
	alerter := NewConsoleAlerter(nil)
	if alerter.Name() != "console" {
		t.Errorf("Name = %s, want console", alerter.Name())
	}
	if err := alerter.Alert(context.Background(), SeverityCritical, "Bot stopped"); err != nil {
		t.Errorf("Console alerts should never fail, got %v", err)
	}
}
