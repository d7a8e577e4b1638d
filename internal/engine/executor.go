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

// Outcome is the terminal result of an execution loop.
type Outcome int

const (
	// OutcomeAborted means the loop was superseded by a newer generation
	// token (or the context ended) before the order filled.
	OutcomeAborted Outcome = iota
	// OutcomeFilledLimit means the passive limit order filled, or a race
	// during cancel/replace made a fill the only consistent explanation.
	OutcomeFilledLimit
	// OutcomeFilledMarket means the loop fell back to a market order.
	OutcomeFilledMarket
)

// Filled reports whether the loop ended with the position changed.
func (o Outcome) Filled() bool {
	return o == OutcomeFilledLimit || o == OutcomeFilledMarket
}

func (o Outcome) String() string {
	switch o {
	case OutcomeFilledLimit:
		return "filled_limit"
	case OutcomeFilledMarket:
		return "filled_market"
	default:
		return "aborted"
	}
}

var hundred = decimal.NewFromInt(100)

// priceIncreased reports whether curr moved above org by more than perc percent.
func priceIncreased(curr, org, perc decimal.Decimal) bool {
	return curr.Sub(org).GreaterThan(perc.Div(hundred).Mul(org))
}

// priceDecreased reports whether curr moved below org by more than perc percent.
func priceDecreased(curr, org, perc decimal.Decimal) bool {
	return curr.Sub(org).LessThan(perc.Div(hundred).Mul(org).Neg())
}

// execParams parameterizes one run of the adaptive loop. Entries and forced
// exits share the same state machine and differ only in these knobs.
type execParams struct {
	side         types.Side
	qty          decimal.Decimal
	reduceOnly   bool
	maxRetries   int
	slippagePerc decimal.Decimal
	checkToken   bool
	poll         time.Duration
}

// Executor runs the adaptive limit-order placement loop: place a post-only
// limit at the best same-side price, tighten it as the market moves away,
// and fall back to a market order on retry exhaustion or excessive slippage.
type Executor struct {
	gateway  exchange.Gateway
	logger   *slog.Logger
	recorder *metrics.Recorder

	slippagePerc decimal.Decimal
	longTSLPerc  decimal.Decimal
	shortTSLPerc decimal.Decimal

	maxRetries     int
	exitMaxRetries int
	orderPoll      time.Duration
	stopPoll       time.Duration
}

// NewExecutor creates an executor from the execution configuration.
func NewExecutor(gw exchange.Gateway, cfg *config.Config, recorder *metrics.Recorder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gateway:        gw,
		logger:         logger,
		recorder:       recorder,
		slippagePerc:   cfg.MarketOnSlippageDecimal(),
		longTSLPerc:    cfg.LongTSLDecimal(),
		shortTSLPerc:   cfg.ShortTSLDecimal(),
		maxRetries:     cfg.Execution.MaxLimitRetries,
		exitMaxRetries: cfg.Execution.ExitMaxRetries,
		orderPoll:      cfg.OrderPollInterval(),
		stopPoll:       cfg.StopLimitPollInterval(),
	}
}

// Execute opens a position of the given size with the adaptive loop, under
// the captured generation token. It returns Aborted as soon as a newer
// token supersedes the attempt.
func (x *Executor) Execute(ctx context.Context, inst *Instrument, side types.Side, qty decimal.Decimal, gen int64) Outcome {
	return x.run(ctx, inst, gen, execParams{
		side:         side,
		qty:          qty,
		reduceOnly:   false,
		maxRetries:   x.maxRetries,
		slippagePerc: x.slippagePerc,
		checkToken:   true,
		poll:         x.orderPoll,
	})
}

// ForceExit closes the given position with the adaptive loop in exit mode:
// reduce-only orders at full remaining size, fewer retries and a wider
// slippage trigger. It ignores the generation token; once started it
// runs to a Filled outcome because its job is to guarantee closure.
func (x *Executor) ForceExit(ctx context.Context, inst *Instrument, pos types.Position) Outcome {
	slippage := x.slippagePerc.Add(x.longTSLPerc)
	if pos.Side == types.SideSell {
		slippage = x.slippagePerc.Add(x.shortTSLPerc)
	}

	x.logger.Info("forcing stop limit order",
		"ticker", inst.Ticker,
		"position_side", pos.Side,
		"size", pos.Size,
	)

	outcome := x.run(ctx, inst, 0, execParams{
		side:         pos.Side.Opposite(),
		qty:          pos.Size,
		reduceOnly:   true,
		maxRetries:   x.exitMaxRetries,
		slippagePerc: slippage,
		checkToken:   false,
		poll:         x.stopPoll,
	})

	x.logStatistics(inst)
	return outcome
}

// live reports whether the loop may keep emitting side effects.
func (x *Executor) live(ctx context.Context, inst *Instrument, gen int64, p execParams) bool {
	if ctx.Err() != nil {
		return false
	}
	if !p.checkToken {
		return true
	}
	return inst.Current(gen)
}

// run drives the Placing -> Monitoring state machine until a terminal
// outcome. Exactly one of {filled via limit, filled via market, aborted}
// results from every invocation.
func (x *Executor) run(ctx context.Context, inst *Instrument, gen int64, p execParams) Outcome {
	retries := 0

	for x.live(ctx, inst, gen, p) {
		order, outcome, placed := x.place(ctx, inst, gen, p)
		if !placed {
			return outcome
		}

		outcome, retry := x.monitor(ctx, inst, gen, p, order, &retries)
		if !retry {
			return outcome
		}
		// Tightened: loop back and re-place at the new best price.
	}

	return OutcomeAborted
}

// place implements the Placing state: rest a post-only limit at the best
// same-side price, retrying while the exchange's post-only matching cancels
// it. Retries are bounded only by token validity.
//
// Returns placed=false with a terminal outcome when the loop should stop.
func (x *Executor) place(ctx context.Context, inst *Instrument, gen int64, p execParams) (types.Order, Outcome, bool) {
	for x.live(ctx, inst, gen, p) {
		top, err := x.gateway.GetOrderBookTop(ctx, inst.Ticker)
		if err != nil {
			x.logger.Error("failed to read order book", "ticker", inst.Ticker, "err", err)
			if p.reduceOnly {
				x.sleep(ctx, p.poll)
				continue
			}
			return types.Order{}, OutcomeAborted, false
		}
		inst.SetLastPrice(top.Ask)

		price := top.Bid
		if p.side == types.SideSell {
			price = top.Ask
		}
		price = price.Round(4)

		var order types.Order
		if p.reduceOnly {
			order, err = x.gateway.ReduceLimitPostOnly(ctx, inst.Ticker, p.side, p.qty, price)
		} else {
			order, err = x.gateway.PlaceLimitPostOnly(ctx, inst.Ticker, p.side, p.qty, price)
		}
		if err != nil {
			if p.reduceOnly {
				// The position may have been closed while we were placing.
				x.logger.Error("reduce-only placement failed, assuming position closed",
					"ticker", inst.Ticker, "err", err)
				inst.Counters.Limit.Add(1)
				return types.Order{}, OutcomeFilledLimit, false
			}
			x.logger.Error("failed to place limit order", "ticker", inst.Ticker, "err", err)
			return types.Order{}, OutcomeAborted, false
		}

		if x.recorder != nil {
			x.recorder.RecordOrder(inst.Ticker, p.side.String(), "limit")
		}

		// Post-only orders can be cancelled by the exchange after creation.
		// Re-query to learn whether the order actually rests on the book.
		order, err = x.gateway.GetOrder(ctx, inst.Ticker, order.ID)
		if err != nil {
			x.logger.Error("failed to query placed order", "ticker", inst.Ticker, "err", err)
			continue
		}

		if order.Status == types.OrderStatusFilled {
			x.logger.Info("limit order filled on placement", "ticker", inst.Ticker, "order_id", order.ID)
			return order, x.filledByLimit(inst), false
		}
		if order.Status.IsOpen() {
			x.logger.Debug("limit order created",
				"ticker", inst.Ticker,
				"order_id", order.ID,
				"price", order.Price,
			)
			return order, 0, true
		}

		// Cancelled by post-only matching: re-place at the fresh best price.
		x.logger.Debug("post-only order rejected, re-placing", "ticker", inst.Ticker)
	}

	return types.Order{}, OutcomeAborted, false
}

// monitor implements the Monitoring state: poll the resting order and the
// order book, fall back to market on retry exhaustion or slippage, tighten
// when the best price moves past the limit. retry=true means the order was
// cancelled for tightening and placement should start over.
func (x *Executor) monitor(ctx context.Context, inst *Instrument, gen int64, p execParams, order types.Order, retries *int) (Outcome, bool) {
	x.logger.Debug("monitoring limit order", "ticker", inst.Ticker, "order_id", order.ID)

	for {
		if !x.live(ctx, inst, gen, p) {
			return x.abandon(ctx, inst, order), false
		}

		fresh, err := x.gateway.GetOrder(ctx, inst.Ticker, order.ID)
		if err != nil {
			x.logger.Error("failed to refresh limit order", "ticker", inst.Ticker, "err", err)
		} else {
			order = fresh
		}

		if order.Status == types.OrderStatusFilled {
			x.logger.Info("limit order filled", "ticker", inst.Ticker, "order_id", order.ID)
			return x.filledByLimit(inst), false
		}

		top, err := x.gateway.GetOrderBookTop(ctx, inst.Ticker)
		if err != nil {
			x.logger.Error("failed to read order book", "ticker", inst.Ticker, "err", err)
			x.sleep(ctx, p.poll)
			continue
		}

		if *retries > p.maxRetries || x.slipped(p, top, order.Price) {
			return x.fallback(ctx, inst, p, order), false
		}

		if x.shouldTighten(p.side, top, order.Price) {
			x.logger.Debug("tightening limit order",
				"ticker", inst.Ticker,
				"order_id", order.ID,
				"retries", *retries,
			)
			if err := x.gateway.CancelOrder(ctx, inst.Ticker, order.ID); err != nil {
				// The order may have filled while we tried to cancel it.
				x.logger.Error("cancel during tightening failed, assuming filled",
					"ticker", inst.Ticker, "err", err)
				return x.filledByLimit(inst), false
			}
			*retries++
			return 0, true
		}

		x.sleep(ctx, p.poll)
	}
}

// slipped reports whether price moved adversely past the fallback threshold.
func (x *Executor) slipped(p execParams, top types.OrderBookTop, placed decimal.Decimal) bool {
	if p.side == types.SideBuy {
		return priceIncreased(top.Bid, placed, p.slippagePerc)
	}
	return priceDecreased(top.Ask, placed, p.slippagePerc)
}

// shouldTighten reports whether the best same-side price moved favorably
// past the resting limit price.
func (x *Executor) shouldTighten(side types.Side, top types.OrderBookTop, placed decimal.Decimal) bool {
	if side == types.SideBuy {
		return top.Bid.GreaterThan(placed)
	}
	return top.Ask.LessThan(placed)
}

// fallback cancels the resting limit and takes the market. A failure while
// cancelling or placing means the limit order probably filled in the race;
// that branch is reported as a limit fill rather than retried.
func (x *Executor) fallback(ctx context.Context, inst *Instrument, p execParams, order types.Order) Outcome {
	if err := x.gateway.CancelOrder(ctx, inst.Ticker, order.ID); err != nil {
		x.logger.Error("cancel before market fallback failed, assuming filled",
			"ticker", inst.Ticker, "order_id", order.ID, "err", err)
		return x.filledByLimit(inst)
	}

	x.logger.Info("falling back to market order",
		"ticker", inst.Ticker,
		"side", p.side,
		"qty", p.qty,
	)

	var err error
	if p.reduceOnly {
		_, err = x.gateway.ReduceMarketOrder(ctx, inst.Ticker, p.side, p.qty)
	} else {
		_, err = x.gateway.PlaceMarketOrder(ctx, inst.Ticker, p.side, p.qty)
	}
	if err != nil {
		x.logger.Error("market fallback failed, assuming limit filled",
			"ticker", inst.Ticker, "err", err)
		return x.filledByLimit(inst)
	}

	inst.Counters.Market.Add(1)
	if x.recorder != nil {
		x.recorder.RecordOrder(inst.Ticker, p.side.String(), "market")
		x.recorder.RecordFill(inst.Ticker, "market")
	}
	return OutcomeFilledMarket
}

// abandon terminates a superseded loop. The resting order is cancelled
// before giving up so no stale order can fill later.
func (x *Executor) abandon(ctx context.Context, inst *Instrument, order types.Order) Outcome {
	x.logger.Info("execution superseded by newer signal",
		"ticker", inst.Ticker,
		"order_id", order.ID,
	)
	// Best effort: use a background-derived context in case the loop ended
	// because the process context closed mid-shutdown.
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := x.gateway.CancelOrder(cancelCtx, inst.Ticker, order.ID); err != nil {
		x.logger.Error("failed to cancel superseded order",
			"ticker", inst.Ticker, "order_id", order.ID, "err", err)
	}
	return OutcomeAborted
}

func (x *Executor) filledByLimit(inst *Instrument) Outcome {
	inst.Counters.Limit.Add(1)
	if x.recorder != nil {
		x.recorder.RecordFill(inst.Ticker, "limit")
	}
	return OutcomeFilledLimit
}

// sleep waits for the poll interval or the context, whichever ends first.
func (x *Executor) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// logStatistics logs the per-instrument trade counters.
func (x *Executor) logStatistics(inst *Instrument) {
	x.logger.Info("trade statistics",
		"ticker", inst.Ticker,
		"take_profits", inst.Counters.TakeProfit.Load(),
		"stop_losses", inst.Counters.StopLoss.Load(),
		"reversals", inst.Counters.Reversal.Load(),
		"limit_fills", inst.Counters.Limit.Load(),
		"market_fills", inst.Counters.Market.Load(),
	)
}
