package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/luisarcher/BybitTradingBot/internal/alerting"
	"github.com/luisarcher/BybitTradingBot/internal/config"
	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/metrics"
	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// Router receives parsed signals, decides whether they imply a close, an
// open or a no-op, and dispatches asynchronous close/open tasks. Bumping
// the instrument's generation token on open supersedes any in-flight loop
// for that instrument.
type Router struct {
	gateway     exchange.Gateway
	sizer       *Sizer
	executor    *Executor
	stopLoss    *StopLoss
	instruments map[string]*Instrument
	alerter     alerting.Alerter
	recorder    *metrics.Recorder
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewRouter creates a signal router over the given instruments.
func NewRouter(
	gw exchange.Gateway,
	sizer *Sizer,
	executor *Executor,
	stopLoss *StopLoss,
	instruments map[string]*Instrument,
	alerter alerting.Alerter,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gateway:     gw,
		sizer:       sizer,
		executor:    executor,
		stopLoss:    stopLoss,
		instruments: instruments,
		alerter:     alerter,
		recorder:    recorder,
		logger:      logger,
	}
}

// Instrument returns the state for a ticker, if configured.
func (r *Router) Instrument(ticker string) (*Instrument, bool) {
	inst, ok := r.instruments[ticker]
	return inst, ok
}

// HandleSignal processes one inbound signal. It returns true iff a new
// position open was dispatched. The context is expected to outlive the
// HTTP exchange that delivered the signal: close and open tasks are spawned
// as independent goroutines and do not wait for each other.
func (r *Router) HandleSignal(ctx context.Context, sig types.Signal) bool {
	inst, ok := r.instruments[sig.Ticker]
	if !ok {
		r.logger.Warn("signal for unknown instrument", "ticker", sig.Ticker)
		if r.recorder != nil {
			r.recorder.RecordSignalRejected("unknown_instrument")
		}
		return false
	}

	long, short, err := r.gateway.GetPositions(ctx, sig.Ticker)
	if err != nil {
		r.logger.Error("failed to fetch positions", "ticker", sig.Ticker, "err", err)
		if r.recorder != nil {
			r.recorder.RecordSignalRejected("position_fetch")
		}
		return false
	}

	if sig.IsClose() {
		// A close signal never opens a position, whatever its side says.
		if r.recorder != nil {
			r.recorder.RecordSignal(sig.Ticker, "close")
		}
		switch sig.Side {
		case types.SideSell:
			r.closeIfOpen(ctx, inst, long)
		case types.SideBuy:
			r.closeIfOpen(ctx, inst, short)
		}
		return false
	}

	switch sig.Side {
	case types.SideBuy:
		return r.handleEntry(ctx, inst, types.SideBuy, long, short)
	case types.SideSell:
		return r.handleEntry(ctx, inst, types.SideSell, short, long)
	default:
		r.logger.Warn("signal with unknown side", "ticker", sig.Ticker, "side", sig.Side)
		return false
	}
}

// handleEntry dispatches an entry for side. same is the existing position
// on the requested side, opposite the one to flip out of. The close task
// and the open task run concurrently; opening does not wait for the close
// to settle because the two use opposite sides.
func (r *Router) handleEntry(ctx context.Context, inst *Instrument, side types.Side, same, opposite types.Position) bool {
	if same.IsOpen() {
		r.logger.Info("already in position, ignoring signal",
			"ticker", inst.Ticker, "side", side)
		if r.recorder != nil {
			r.recorder.RecordSignalRejected("already_in_position")
		}
		return false
	}

	r.closeIfOpen(ctx, inst, opposite)

	gen := inst.Bump()
	if r.recorder != nil {
		r.recorder.RecordSignal(inst.Ticker, "entry")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.openPosition(ctx, inst, side, gen)
	}()

	return true
}

// closeIfOpen spawns a forced-exit task for the position if it is open.
func (r *Router) closeIfOpen(ctx context.Context, inst *Instrument, pos types.Position) {
	if !pos.IsOpen() {
		return
	}

	r.logger.Info("opposing position found, closing",
		"ticker", inst.Ticker, "side", pos.Side, "size", pos.Size)
	inst.Counters.Reversal.Add(1)
	if r.recorder != nil {
		r.recorder.RecordReversal(inst.Ticker)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		outcome := r.executor.ForceExit(ctx, inst, pos)
		r.alert(ctx, alerting.SeverityInfo, "Position closed",
			"ticker", inst.Ticker,
			"side", pos.Side.String(),
			"outcome", outcome.String(),
		)
		if r.recorder != nil {
			r.recorder.RecordOpenPosition(inst.Ticker, false)
		}
	}()
}

// openPosition sizes and executes an entry, then hands the confirmed
// position to the trailing stop-loss monitor under the same generation.
func (r *Router) openPosition(ctx context.Context, inst *Instrument, side types.Side, gen int64) {
	qty, err := r.sizer.ComputeQty(ctx, inst, side)
	if err != nil {
		r.logger.Error("failed to size entry", "ticker", inst.Ticker, "err", err)
		r.alert(ctx, alerting.SeverityWarning, "Entry sizing failed",
			"ticker", inst.Ticker, "error", err.Error())
		return
	}
	if !qty.IsPositive() {
		r.logger.Warn("computed entry size is zero, skipping",
			"ticker", inst.Ticker, "side", side)
		return
	}

	r.logger.Info("opening position",
		"ticker", inst.Ticker,
		"side", side,
		"qty", qty,
	)

	timer := metrics.NewTimer()
	outcome := r.executor.Execute(ctx, inst, side, qty, gen)
	if r.recorder != nil {
		timer.ObserveOrder()
	}

	if !outcome.Filled() {
		r.logger.Info("entry superseded before fill", "ticker", inst.Ticker, "side", side)
		return
	}

	r.alert(ctx, alerting.SeverityInfo, "Position opened",
		"ticker", inst.Ticker,
		"side", side.String(),
		"qty", qty.String(),
		"outcome", outcome.String(),
	)
	if r.recorder != nil {
		r.recorder.RecordOpenPosition(inst.Ticker, true)
	}

	r.stopLoss.Monitor(ctx, inst, side, gen)

	r.logger.Info("trade finished, awaiting new signals", "ticker", inst.Ticker)
}

func (r *Router) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Alert(ctx, severity, message, fields...); err != nil {
		r.logger.Warn("failed to send alert", "err", err)
	}
}

// Wait blocks until all dispatched tasks have finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// BuildInstruments creates instrument state for every configured ticker:
// leverage is synced to the exchange (failure logged, not fatal, as the
// account may already carry the requested leverage) and the quantity step
// is fetched from symbol metadata.
func BuildInstruments(ctx context.Context, gw exchange.Gateway, cfg *config.Config, logger *slog.Logger) (map[string]*Instrument, error) {
	if logger == nil {
		logger = slog.Default()
	}

	instruments := make(map[string]*Instrument, len(cfg.Tickers))
	for ticker, tickerCfg := range cfg.Tickers {
		if err := gw.SetLeverage(ctx, ticker, tickerCfg.LongLeverage, tickerCfg.ShortLeverage); err != nil {
			logger.Warn("failed to set leverage",
				"ticker", ticker,
				"long", tickerCfg.LongLeverage,
				"short", tickerCfg.ShortLeverage,
				"err", err,
			)
		}

		info, err := gw.GetSymbolInfo(ctx, ticker)
		if err != nil {
			return nil, err
		}

		inst := NewInstrument(ticker, info.QtyStep)

		if top, err := gw.GetOrderBookTop(ctx, ticker); err == nil {
			inst.SetLastPrice(top.Ask)
			logger.Info("instrument ready",
				"ticker", ticker,
				"price", top.Ask,
				"qty_step", info.QtyStep,
			)
		} else {
			logger.Warn("failed to fetch initial price", "ticker", ticker, "err", err)
		}

		instruments[ticker] = inst
	}

	return instruments, nil
}
