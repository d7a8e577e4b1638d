package metrics

import "time"

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSignal records an accepted signal.
func (r *Recorder) RecordSignal(ticker, action string) {
	SignalsTotal.WithLabelValues(ticker, action).Inc()
}

// RecordSignalRejected records a signal that resulted in a no-op.
func (r *Recorder) RecordSignalRejected(reason string) {
	SignalsRejected.WithLabelValues(reason).Inc()
}

// RecordOrder records an order submission.
func (r *Recorder) RecordOrder(ticker, side, orderType string) {
	OrdersTotal.WithLabelValues(ticker, side, orderType).Inc()
}

// RecordFill records a terminal fill.
func (r *Recorder) RecordFill(ticker, kind string) {
	FillsTotal.WithLabelValues(ticker, kind).Inc()
}

// RecordStopLoss records a trailing-stop trigger.
func (r *Recorder) RecordStopLoss(ticker string) {
	StopLossTriggers.WithLabelValues(ticker).Inc()
}

// RecordReversal records a position flip.
func (r *Recorder) RecordReversal(ticker string) {
	ReversalsTotal.WithLabelValues(ticker).Inc()
}

// RecordOpenPosition records whether a position is open for a ticker.
func (r *Recorder) RecordOpenPosition(ticker string, open bool) {
	if open {
		OpenPosition.WithLabelValues(ticker).Set(1)
	} else {
		OpenPosition.WithLabelValues(ticker).Set(0)
	}
}

// RecordOrderLatency records entry execution latency.
func (r *Recorder) RecordOrderLatency(d time.Duration) {
	OrderLatency.Observe(d.Seconds())
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}
