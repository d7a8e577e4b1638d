package exchange

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// Mock is a scriptable in-memory Gateway for testing.
// Order-book tops are consumed from a queue (the last one repeats), and
// limit-order fill behavior is scripted per placement.
type Mock struct {
	mu sync.Mutex

	books []types.OrderBookTop

	long  map[string]types.Position
	short map[string]types.Position

	balance     decimal.Decimal
	balanceErr  error
	positionErr error
	cancelErr   error
	placeErr    error
	marketErr   error
	leverageErr error

	qtyStep decimal.Decimal

	// fillAfter scripts how many GetOrder queries a placed limit order
	// survives before reporting Filled; -1 means it never fills.
	fillAfter int
	// rejectNext makes the next n limit placements come back Cancelled
	// when re-queried, simulating post-only rejection.
	rejectNext int

	orders    map[string]*mockOrder
	nextID    int
	calls     []string
	leverages map[string][2]int
}

type mockOrder struct {
	order   types.Order
	queries int
	fillAt  int // -1: never fill
}

// NewMock creates a new mock gateway.
func NewMock() *Mock {
	return &Mock{
		long:      make(map[string]types.Position),
		short:     make(map[string]types.Position),
		orders:    make(map[string]*mockOrder),
		balance:   decimal.NewFromInt(1000),
		qtyStep:   decimal.RequireFromString("0.001"),
		leverages: make(map[string][2]int),
		fillAfter: 0,
	}
}

// PushBook appends order-book tops to the queue.
func (m *Mock) PushBook(tops ...types.OrderBookTop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = append(m.books, tops...)
}

// SetPosition sets a position snapshot for a ticker.
func (m *Mock) SetPosition(ticker string, pos types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.Side == types.SideBuy {
		m.long[ticker] = pos
	} else {
		m.short[ticker] = pos
	}
}

// SetBalance sets the wallet balance returned by GetWalletBalance.
func (m *Mock) SetBalance(b decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
}

// SetBalanceErr makes GetWalletBalance fail.
func (m *Mock) SetBalanceErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// SetPositionErr makes GetPositions fail.
func (m *Mock) SetPositionErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionErr = err
}

// SetPlaceErr makes limit order placement fail.
func (m *Mock) SetPlaceErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

// SetLeverageErr makes SetLeverage fail.
func (m *Mock) SetLeverageErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageErr = err
}

// SetCancelErr makes CancelOrder fail.
func (m *Mock) SetCancelErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

// SetMarketErr makes market order placement fail.
func (m *Mock) SetMarketErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketErr = err
}

// FillLimitAfter scripts how many GetOrder queries each subsequently placed
// limit order survives before filling. Pass -1 for never.
func (m *Mock) FillLimitAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillAfter = n
}

// RejectNextPlacements makes the next n post-only placements come back
// Cancelled on re-query.
func (m *Mock) RejectNextPlacements(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = n
}

// Calls returns the recorded gateway call names.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times a gateway method was invoked.
func (m *Mock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Leverage returns the last leverage set for a ticker.
func (m *Mock) Leverage(ticker string) (int, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lv, ok := m.leverages[ticker]
	return lv[0], lv[1], ok
}

func (m *Mock) record(name string) {
	m.calls = append(m.calls, name)
}

func (m *Mock) newOrder(side types.Side, qty, price decimal.Decimal, status types.OrderStatus, fillAt int) types.Order {
	m.nextID++
	id := "ord-" + strconv.Itoa(m.nextID)
	o := &mockOrder{
		order: types.Order{
			ID:     id,
			Side:   side,
			Price:  price,
			Qty:    qty,
			Status: status,
		},
		fillAt: fillAt,
	}
	m.orders[id] = o
	return o.order
}

// PlaceMarketOrder places an immediately filled market order.
func (m *Mock) PlaceMarketOrder(_ context.Context, _ string, side types.Side, qty decimal.Decimal) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PlaceMarketOrder")
	if m.marketErr != nil {
		return types.Order{}, m.marketErr
	}
	return m.newOrder(side, qty, decimal.Zero, types.OrderStatusFilled, -1), nil
}

// PlaceLimitPostOnly places a scripted post-only limit order.
func (m *Mock) PlaceLimitPostOnly(_ context.Context, _ string, side types.Side, qty, price decimal.Decimal) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PlaceLimitPostOnly")
	return m.placeLimitLocked(side, qty, price)
}

// ReduceMarketOrder places an immediately filled reduce-only market order.
func (m *Mock) ReduceMarketOrder(_ context.Context, _ string, side types.Side, qty decimal.Decimal) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ReduceMarketOrder")
	if m.marketErr != nil {
		return types.Order{}, m.marketErr
	}
	return m.newOrder(side, qty, decimal.Zero, types.OrderStatusFilled, -1), nil
}

// ReduceLimitPostOnly places a scripted reduce-only post-only limit order.
func (m *Mock) ReduceLimitPostOnly(_ context.Context, _ string, side types.Side, qty, price decimal.Decimal) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ReduceLimitPostOnly")
	return m.placeLimitLocked(side, qty, price)
}

func (m *Mock) placeLimitLocked(side types.Side, qty, price decimal.Decimal) (types.Order, error) {
	if m.placeErr != nil {
		return types.Order{}, m.placeErr
	}
	if m.rejectNext > 0 {
		m.rejectNext--
		return m.newOrder(side, qty, price, types.OrderStatusCancelled, -1), nil
	}
	return m.newOrder(side, qty, price, types.OrderStatusNew, m.fillAfter), nil
}

// GetOrder returns the scripted order state, advancing its fill countdown.
func (m *Mock) GetOrder(_ context.Context, _ string, orderID string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetOrder")
	o, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, types.ErrOrderNotFound
	}
	if o.order.Status == types.OrderStatusNew && o.fillAt >= 0 {
		if o.queries >= o.fillAt {
			o.order.Status = types.OrderStatusFilled
		}
		o.queries++
	}
	return o.order, nil
}

// CancelOrder cancels a resting order.
func (m *Mock) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelOrder")
	if m.cancelErr != nil {
		return m.cancelErr
	}
	if o, ok := m.orders[orderID]; ok && !o.order.Status.IsFinal() {
		o.order.Status = types.OrderStatusCancelled
	}
	return nil
}

// GetPositions returns the scripted long and short snapshots.
func (m *Mock) GetPositions(_ context.Context, ticker string) (types.Position, types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetPositions")
	if m.positionErr != nil {
		return types.Position{}, types.Position{}, m.positionErr
	}
	long, ok := m.long[ticker]
	if !ok {
		long = types.Position{Side: types.SideBuy}
	}
	short, ok := m.short[ticker]
	if !ok {
		short = types.Position{Side: types.SideSell}
	}
	return long, short, nil
}

// GetOrderBookTop pops the next scripted book top; the last one repeats.
func (m *Mock) GetOrderBookTop(_ context.Context, _ string) (types.OrderBookTop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetOrderBookTop")
	if len(m.books) == 0 {
		return types.OrderBookTop{
			Bid: decimal.NewFromInt(100),
			Ask: decimal.RequireFromString("100.1"),
		}, nil
	}
	top := m.books[0]
	if len(m.books) > 1 {
		m.books = m.books[1:]
	}
	return top, nil
}

// GetWalletBalance returns the scripted balance.
func (m *Mock) GetWalletBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetWalletBalance")
	if m.balanceErr != nil {
		return decimal.Zero, m.balanceErr
	}
	return m.balance, nil
}

// GetSymbolInfo returns the scripted symbol metadata.
func (m *Mock) GetSymbolInfo(_ context.Context, ticker string) (types.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetSymbolInfo")
	return types.SymbolInfo{Symbol: ticker, QtyStep: m.qtyStep}, nil
}

// SetLeverage records the requested leverage.
func (m *Mock) SetLeverage(_ context.Context, ticker string, longLev, shortLev int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetLeverage")
	if m.leverageErr != nil {
		return m.leverageErr
	}
	m.leverages[ticker] = [2]int{longLev, shortLev}
	return nil
}
