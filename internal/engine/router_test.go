package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/luisarcher/BybitTradingBot/internal/alerting"
	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/types"
)

func testRouter(mock *exchange.Mock, alerter alerting.Alerter) (*Router, *Instrument) {
	cfg := testConfig()
	inst := testInstrument()
	instruments := map[string]*Instrument{"BTC": inst}

	sizer := NewSizer(mock, cfg)
	executor := NewExecutor(mock, cfg, nil, nil)
	stopLoss := NewStopLoss(mock, executor, cfg, nil, nil)

	return NewRouter(mock, sizer, executor, stopLoss, instruments, alerter, nil, nil), inst
}

func TestRouter_UnknownTicker(t *testing.T) {
	mock := exchange.NewMock()
	r, _ := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "DOGE", Side: types.SideBuy, Comment: "entry",
	})
	r.Wait()

	if opened {
		t.Error("Unknown ticker must not open a position")
	}
	if mock.CallCount("GetPositions") != 0 {
		t.Error("Unknown ticker must not reach the exchange")
	}
}

func TestRouter_PositionFetchError(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPositionErr(errors.New("api down"))
	r, _ := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "entry",
	})
	r.Wait()

	if opened {
		t.Error("Signal must be dropped when positions cannot be fetched")
	}
	if mock.CallCount("PlaceLimitPostOnly") != 0 {
		t.Error("No orders may be placed on a dropped signal")
	}
}

func TestRouter_CloseSellClosesLong(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})
	alerter := alerting.NewMockAlerter()
	r, inst := testRouter(mock, alerter)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideSell, Comment: "close long",
	})
	r.Wait()

	if opened {
		t.Error("A close signal must never open a position")
	}
	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("Close signal should force an exit of the long position")
	}
	if mock.CallCount("PlaceLimitPostOnly") != 0 {
		t.Error("Close signal must not place entry orders")
	}
	if got := inst.Counters.Reversal.Load(); got != 1 {
		t.Errorf("Reversal counter = %d, want 1", got)
	}
	if !alerter.HasAlertContaining("Position closed") {
		t.Error("Closing a position should raise an alert")
	}
}

func TestRouter_CloseBuyClosesShort(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideSell, Size: qty("1")})
	r, _ := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "close short",
	})
	r.Wait()

	if opened {
		t.Error("A close signal must never open a position")
	}
	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("Close signal should force an exit of the short position")
	}
}

func TestRouter_CloseWithNothingOpenIsNoop(t *testing.T) {
	mock := exchange.NewMock()
	r, _ := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideSell, Comment: "close long",
	})
	r.Wait()

	if opened {
		t.Error("A close signal must never open a position")
	}
	if mock.CallCount("ReduceLimitPostOnly") != 0 || mock.CallCount("ReduceMarketOrder") != 0 {
		t.Error("Nothing to close, nothing should be placed")
	}
}

func TestRouter_EntryIgnoredWhenAlreadyInPosition(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})
	r, inst := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "entry",
	})
	r.Wait()

	if opened {
		t.Error("A same-side entry while in position must be a no-op")
	}
	if mock.CallCount("PlaceLimitPostOnly") != 0 {
		t.Error("No orders may be placed for an ignored signal")
	}
	if inst.Generation() != 0 {
		t.Error("An ignored signal must not bump the generation")
	}
}

func TestRouter_BuyEntryOpensPosition(t *testing.T) {
	mock := exchange.NewMock()
	alerter := alerting.NewMockAlerter()
	r, inst := testRouter(mock, alerter)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "long entry",
	})
	r.Wait()

	if !opened {
		t.Fatal("Entry signal on a flat book should open a position")
	}
	if mock.CallCount("PlaceLimitPostOnly") < 1 {
		t.Error("Entry should place a post-only limit order")
	}
	if got := inst.Counters.Limit.Load(); got != 1 {
		t.Errorf("Limit counter = %d, want 1", got)
	}
	if !alerter.HasAlertContaining("Position opened") {
		t.Error("Opening a position should raise an alert")
	}
}

func TestRouter_SellEntryFlipsLongPosition(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})
	r, inst := testRouter(mock, nil)

	opened := r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideSell, Comment: "short entry",
	})
	r.Wait()

	if !opened {
		t.Fatal("Opposite-side entry should flip the position")
	}
	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("Flipping should close the opposing long first")
	}
	if mock.CallCount("PlaceLimitPostOnly") < 1 {
		t.Error("Flipping should open the short entry")
	}
	if got := inst.Counters.Reversal.Load(); got != 1 {
		t.Errorf("Reversal counter = %d, want 1", got)
	}
}

func TestRouter_ZeroQtySkipsPlacement(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetBalance(decimal.Zero)
	r, _ := testRouter(mock, nil)

	r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "entry",
	})
	r.Wait()

	if mock.CallCount("PlaceLimitPostOnly") != 0 {
		t.Error("A zero-size entry must not place orders")
	}
}

func TestRouter_SizingErrorAlerts(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetBalanceErr(errors.New("wallet unavailable"))
	alerter := alerting.NewMockAlerter()
	r, _ := testRouter(mock, alerter)

	r.HandleSignal(context.Background(), types.Signal{
		Ticker: "BTC", Side: types.SideBuy, Comment: "entry",
	})
	r.Wait()

	if mock.CallCount("PlaceLimitPostOnly") != 0 {
		t.Error("An unsized entry must not place orders")
	}
	if !alerter.HasAlertContaining("Entry sizing failed") {
		t.Error("A sizing failure should raise an alert")
	}
}

func TestBuildInstruments(t *testing.T) {
	mock := exchange.NewMock()
	cfg := testConfig()

	instruments, err := BuildInstruments(context.Background(), mock, cfg, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	inst, ok := instruments["BTC"]
	if !ok {
		t.Fatal("Expected BTC instrument")
	}
	if !inst.QtyStep.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("QtyStep = %s, want 0.001", inst.QtyStep)
	}
	if !inst.LastPrice().Equal(decimal.RequireFromString("100.1")) {
		t.Errorf("LastPrice = %s, want 100.1", inst.LastPrice())
	}

	long, short, ok := mock.Leverage("BTC")
	if !ok || long != 10 || short != 10 {
		t.Errorf("Leverage = %d/%d (%v), want 10/10", long, short, ok)
	}
}

func TestBuildInstruments_LeverageFailureNonFatal(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetLeverageErr(errors.New("leverage not modified"))
	cfg := testConfig()

	instruments, err := BuildInstruments(context.Background(), mock, cfg, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	inst, ok := instruments["BTC"]
	if !ok {
		t.Fatal("Expected BTC instrument despite leverage failure")
	}
	if !inst.QtyStep.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("QtyStep = %s, want 0.001", inst.QtyStep)
	}
	if _, _, ok := mock.Leverage("BTC"); ok {
		t.Error("Leverage should not be recorded when the sync fails")
	}
}
