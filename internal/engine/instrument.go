// Package engine implements the per-instrument execution engine: signal
// routing, entry sizing, the adaptive limit/market execution loop and the
// trailing stop-loss monitor.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Counters holds per-instrument trade statistics. They are monotonically
// incremented for the lifetime of the process and may be bumped from
// concurrent tasks, hence atomics.
type Counters struct {
	TakeProfit atomic.Int64
	StopLoss   atomic.Int64
	Reversal   atomic.Int64
	Market     atomic.Int64
	Limit      atomic.Int64
}

// Instrument is the per-ticker mutable state. One instance per configured
// ticker is created at startup and lives for the process lifetime.
//
// The generation token identifies the currently authoritative execution
// attempt. Every running loop captures the token at spawn time and compares
// it before each side-effecting step; a mismatch means a newer signal has
// superseded the loop and it must abandon itself. This is the sole
// concurrency-correctness mechanism between loops of the same instrument.
type Instrument struct {
	Ticker   string
	QtyStep  decimal.Decimal
	Counters Counters

	gen atomic.Int64

	mu        sync.Mutex
	lastPrice decimal.Decimal
}

// NewInstrument creates instrument state for a ticker.
func NewInstrument(ticker string, qtyStep decimal.Decimal) *Instrument {
	return &Instrument{
		Ticker:  ticker,
		QtyStep: qtyStep,
	}
}

// Generation returns the current generation token.
func (i *Instrument) Generation() int64 {
	return i.gen.Load()
}

// Bump installs a new generation token and returns it. Any loop still
// holding the previous token abandons itself on its next check.
func (i *Instrument) Bump() int64 {
	return i.gen.Add(1)
}

// Current reports whether the captured token is still the authoritative one.
func (i *Instrument) Current(token int64) bool {
	return i.gen.Load() == token
}

// LastPrice returns the cached last known price.
func (i *Instrument) LastPrice() decimal.Decimal {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastPrice
}

// SetLastPrice caches the last known price.
func (i *Instrument) SetLastPrice(p decimal.Decimal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastPrice = p
}
