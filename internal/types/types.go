// Package types defines shared types used across the trading bot.
package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or position.
// The values match the strings the exchange expects on the wire.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide parses a side string case-insensitively.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	return string(s)
}

// OrderStatus represents the state of an order as reported by the exchange.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "Created"
	OrderStatusNew       OrderStatus = "New"
	OrderStatusFilled    OrderStatus = "Filled"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusRejected  OrderStatus = "Rejected"
)

// IsOpen returns true if the order is resting on the book.
// Post-only orders may be cancelled by the exchange right after creation,
// so only Created/New count as open.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusCreated || s == OrderStatusNew
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Signal is an inbound instruction to open or close a directional position
// on one instrument. One ephemeral value per webhook event.
type Signal struct {
	Ticker  string
	Side    Side
	Comment string
}

// IsClose reports whether the signal requests closing a position rather
// than opening one. Any comment containing "close" selects close behavior
// regardless of side.
func (s Signal) IsClose() bool {
	return strings.Contains(strings.ToLower(s.Comment), "close")
}

// Position is a snapshot of an exchange-side position. The engine never
// owns this state; it only polls it.
type Position struct {
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// IsOpen returns true if the position has non-zero size.
func (p Position) IsOpen() bool {
	return p.Size.IsPositive()
}

// Order is a snapshot of an exchange-side order.
type Order struct {
	ID     string
	LinkID string
	Side   Side
	Price  decimal.Decimal
	Qty    decimal.Decimal
	Status OrderStatus
}

// OrderBookTop holds the best bid and best ask of the order book.
type OrderBookTop struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// SymbolInfo holds the instrument metadata the engine needs.
type SymbolInfo struct {
	Symbol  string
	QtyStep decimal.Decimal
}
