package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/luisarcher/BybitTradingBot/internal/config"
	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// balanceHeadroom is the fraction of the wallet considered spendable.
// Using the full balance risks rejections from margin requirements moving
// between the balance query and the order placement.
var balanceHeadroom = decimal.RequireFromString("0.6")

// Sizer computes entry quantities from wallet balance, leverage and
// per-instrument allocation.
type Sizer struct {
	gateway    exchange.Gateway
	collateral string
	feeRate    decimal.Decimal
	tickers    map[string]config.TickerConfig
}

// NewSizer creates an entry sizer.
func NewSizer(gw exchange.Gateway, cfg *config.Config) *Sizer {
	return &Sizer{
		gateway:    gw,
		collateral: cfg.User.Collateral,
		feeRate:    cfg.TakerFeeRateDecimal(),
		tickers:    cfg.Tickers,
	}
}

// ComputeQty computes the order quantity for an entry on the given side:
//
//	qty = floor((0.6*balance/price) * leverage * walletPerc * (1 - 2*fee) / step) * step
//
// rounded to 3 decimal places. The reference price is the current best ask,
// which is also cached on the instrument. A wallet-balance failure is
// propagated so the caller aborts the execution attempt.
func (s *Sizer) ComputeQty(ctx context.Context, inst *Instrument, side types.Side) (decimal.Decimal, error) {
	tickerCfg, ok := s.tickers[inst.Ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnknownInstrument, inst.Ticker)
	}

	balance, err := s.gateway.GetWalletBalance(ctx, s.collateral)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet balance: %w", err)
	}

	top, err := s.gateway.GetOrderBookTop(ctx, inst.Ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("order book: %w", err)
	}
	if !top.Ask.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive ask for %s", types.ErrExchangeCall, inst.Ticker)
	}
	inst.SetLastPrice(top.Ask)

	leverage := decimal.NewFromInt(int64(tickerCfg.Leverage(side)))
	feeBuffer := decimal.NewFromInt(1).Sub(s.feeRate.Mul(decimal.NewFromInt(2)))

	qty := balance.Mul(balanceHeadroom).
		Div(top.Ask).
		Mul(leverage).
		Mul(tickerCfg.WalletPercDecimal()).
		Mul(feeBuffer)

	if inst.QtyStep.IsPositive() {
		qty = qty.Div(inst.QtyStep).Floor().Mul(inst.QtyStep)
	}

	return qty.Round(3), nil
}
