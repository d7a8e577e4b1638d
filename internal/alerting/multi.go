package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans an alert out to every configured channel concurrently.
// A slow Telegram delivery never delays the console channel, and a failing
// channel never suppresses the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		logger:   logger,
	}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter registers another delivery channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert delivers to all channels and joins any failures, each tagged with
// the channel name that produced it.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)

	for _, alerter := range alerters {
		wg.Add(1)
		go func(a Alerter) {
			defer wg.Done()
			err := a.Alert(ctx, severity, message, fields...)
			if err == nil {
				return
			}
			m.logger.Error("alert channel failed",
				"channel", a.Name(),
				"severity", severity.String(),
				"err", err,
			)
			emu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			emu.Unlock()
		}(alerter)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}
