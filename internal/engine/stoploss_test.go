package engine

import (
	"context"
	"testing"
	"time"

	"github.com/luisarcher/BybitTradingBot/internal/exchange"
	"github.com/luisarcher/BybitTradingBot/internal/types"
)

func testStopLoss(mock *exchange.Mock) *StopLoss {
	cfg := testConfig()
	executor := NewExecutor(mock, cfg, nil, nil)
	return NewStopLoss(mock, executor, cfg, nil, nil)
}

func TestStopLoss_LongTrailingStopTriggers(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})
	// Bid ratchets 100 -> 110, then retraces to 98: 10.9% below the extreme,
	// past the 10% trailing threshold even though only 2% below entry.
	mock.PushBook(
		top("100", "100.1"),
		top("110", "110.1"),
		top("98", "98.1"),
	)

	inst := testInstrument()
	s := testStopLoss(mock)

	gen := inst.Bump()
	s.Monitor(context.Background(), inst, types.SideBuy, gen)

	if got := inst.Counters.StopLoss.Load(); got != 1 {
		t.Errorf("StopLoss counter = %d, want 1", got)
	}
	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("Trigger should force an exit with a reduce-only order")
	}
}

func TestStopLoss_ShortTrailingStopTriggers(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideSell, Size: qty("1")})
	// Ask ratchets down 100.1 -> 95, then bounces to 105: 10.5% above the
	// extreme, past the 10% threshold.
	mock.PushBook(
		top("99.9", "100.1"),
		top("94.9", "95"),
		top("104.9", "105"),
	)

	inst := testInstrument()
	s := testStopLoss(mock)

	gen := inst.Bump()
	s.Monitor(context.Background(), inst, types.SideSell, gen)

	if got := inst.Counters.StopLoss.Load(); got != 1 {
		t.Errorf("StopLoss counter = %d, want 1", got)
	}
	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("Trigger should force an exit with a reduce-only order")
	}
}

func TestStopLoss_RetraceWithinThresholdHolds(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})
	mock.PushBook(
		top("100", "100.1"),
		top("110", "110.1"),
		top("101", "101.1"), // 8.2% below the extreme, inside the 10% band
	)

	inst := testInstrument()
	s := testStopLoss(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	gen := inst.Bump()
	s.Monitor(ctx, inst, types.SideBuy, gen)

	if got := inst.Counters.StopLoss.Load(); got != 0 {
		t.Errorf("StopLoss counter = %d, want 0", got)
	}
	if mock.CallCount("ReduceLimitPostOnly") != 0 {
		t.Error("No exit should be forced while price stays inside the band")
	}
}

func TestStopLoss_PositionClosedExternally(t *testing.T) {
	mock := exchange.NewMock()

	inst := testInstrument()
	s := testStopLoss(mock)

	gen := inst.Bump()
	s.Monitor(context.Background(), inst, types.SideBuy, gen)

	if got := inst.Counters.StopLoss.Load(); got != 0 {
		t.Errorf("StopLoss counter = %d, want 0", got)
	}
	if mock.CallCount("ReduceLimitPostOnly") != 0 || mock.CallCount("ReduceMarketOrder") != 0 {
		t.Error("A flat position needs no exit")
	}
}

func TestStopLoss_SupersededClosesMonitoredPosition(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})

	inst := testInstrument()
	s := testStopLoss(mock)

	gen := inst.Bump()
	done := make(chan struct{})
	go func() {
		s.Monitor(context.Background(), inst, types.SideBuy, gen)
		close(done)
	}()

	waitFor(t, func() bool {
		return mock.CallCount("GetPositions") >= 1
	}, "monitor never polled positions")

	inst.Bump()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after supersession")
	}

	if mock.CallCount("ReduceLimitPostOnly") < 1 {
		t.Error("A superseded monitor must still close the position it watched")
	}
	if got := inst.Counters.StopLoss.Load(); got != 0 {
		t.Errorf("StopLoss counter = %d, want 0 (supersession is not a stop)", got)
	}
}

func TestStopLoss_ContextCancelledLeavesPositionAlone(t *testing.T) {
	mock := exchange.NewMock()
	mock.SetPosition("BTC", types.Position{Side: types.SideBuy, Size: qty("1")})

	inst := testInstrument()
	s := testStopLoss(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := inst.Bump()
	s.Monitor(ctx, inst, types.SideBuy, gen)

	if mock.CallCount("ReduceLimitPostOnly") != 0 {
		t.Error("Shutdown must not force an exit")
	}
}
