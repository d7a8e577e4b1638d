package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luisarcher/BybitTradingBot/internal/config"
	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/metrics"
	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// Trailing extremes start at sentinels so the first observed book top
// installs itself as the extreme.
var (
	initialLongUpper  = decimal.RequireFromString("0.5")
	initialShortLower = decimal.RequireFromString("99999.5")
)

// StopLoss monitors an open position with a trailing stop: it ratchets the
// best price seen since entry and forces an exit once price retraces from
// that extreme by more than the configured percentage.
type StopLoss struct {
	gateway  exchange.Gateway
	executor *Executor
	logger   *slog.Logger
	recorder *metrics.Recorder

	longTSLPerc  decimal.Decimal
	shortTSLPerc decimal.Decimal
	poll         time.Duration
}

// NewStopLoss creates a trailing stop-loss monitor.
func NewStopLoss(gw exchange.Gateway, executor *Executor, cfg *config.Config, recorder *metrics.Recorder, logger *slog.Logger) *StopLoss {
	if logger == nil {
		logger = slog.Default()
	}
	return &StopLoss{
		gateway:      gw,
		executor:     executor,
		logger:       logger,
		recorder:     recorder,
		longTSLPerc:  cfg.LongTSLDecimal(),
		shortTSLPerc: cfg.ShortTSLDecimal(),
		poll:         cfg.OrderPollInterval(),
	}
}

// Monitor watches the position opened on the given side under the given
// generation token. It returns when the position closes, when the trailing
// stop triggers (after forcing the exit), or when a newer token supersedes
// it. A superseded monitor still forces an exit for the monitored side so
// no unmanaged position is left behind.
func (s *StopLoss) Monitor(ctx context.Context, inst *Instrument, side types.Side, gen int64) {
	s.logger.Info("stop-loss monitor started", "ticker", inst.Ticker, "side", side)

	upper := initialLongUpper
	lower := initialShortLower

	var long, short types.Position

	for ctx.Err() == nil && inst.Current(gen) {
		top, err := s.gateway.GetOrderBookTop(ctx, inst.Ticker)
		if err != nil {
			s.logger.Error("failed to read order book", "ticker", inst.Ticker, "err", err)
			s.sleep(ctx)
			continue
		}

		long, short, err = s.gateway.GetPositions(ctx, inst.Ticker)
		if err != nil {
			s.logger.Error("failed to fetch positions", "ticker", inst.Ticker, "err", err)
			s.sleep(ctx)
			continue
		}

		// Ratchet the extremes; they never retreat.
		if top.Bid.GreaterThan(upper) {
			upper = top.Bid
		}
		if top.Ask.LessThan(lower) {
			lower = top.Ask
		}

		pos := long
		if side == types.SideSell {
			pos = short
		}
		if !pos.IsOpen() {
			s.logger.Info("position no longer open, nothing to protect",
				"ticker", inst.Ticker, "side", side)
			return
		}

		triggered := false
		switch side {
		case types.SideBuy:
			triggered = priceDecreased(top.Bid, upper, s.longTSLPerc)
		case types.SideSell:
			triggered = priceIncreased(top.Ask, lower, s.shortTSLPerc)
		}

		if triggered {
			s.logger.Info("trailing stop-loss hit",
				"ticker", inst.Ticker,
				"side", side,
				"extreme", s.extreme(side, upper, lower),
			)
			inst.Counters.StopLoss.Add(1)
			if s.recorder != nil {
				s.recorder.RecordStopLoss(inst.Ticker)
			}
			s.executor.ForceExit(ctx, inst, pos)
			return
		}

		s.sleep(ctx)
	}

	if ctx.Err() != nil {
		return
	}

	// Superseded: a newer signal must not leave an unmanaged position open.
	s.logger.Info("stop-loss monitor superseded, closing monitored position",
		"ticker", inst.Ticker, "side", side)
	pos := long
	if side == types.SideSell {
		pos = short
	}
	if pos.IsOpen() {
		s.executor.ForceExit(ctx, inst, pos)
	}
}

func (s *StopLoss) extreme(side types.Side, upper, lower decimal.Decimal) decimal.Decimal {
	if side == types.SideBuy {
		return upper
	}
	return lower
}

func (s *StopLoss) sleep(ctx context.Context) {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
