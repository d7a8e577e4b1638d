// Package exchange provides connectivity to the derivatives exchange.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// Gateway defines the synchronous request/response surface of the exchange.
// Every call either returns a result or an error; the engine treats the
// exchange as a black box behind this interface.
type Gateway interface {
	// Order placement
	PlaceMarketOrder(ctx context.Context, ticker string, side types.Side, qty decimal.Decimal) (types.Order, error)
	PlaceLimitPostOnly(ctx context.Context, ticker string, side types.Side, qty, price decimal.Decimal) (types.Order, error)
	ReduceMarketOrder(ctx context.Context, ticker string, side types.Side, qty decimal.Decimal) (types.Order, error)
	ReduceLimitPostOnly(ctx context.Context, ticker string, side types.Side, qty, price decimal.Decimal) (types.Order, error)

	// Order queries
	GetOrder(ctx context.Context, ticker, orderID string) (types.Order, error)
	CancelOrder(ctx context.Context, ticker, orderID string) error

	// Market and account state
	GetPositions(ctx context.Context, ticker string) (long, short types.Position, err error)
	GetOrderBookTop(ctx context.Context, ticker string) (types.OrderBookTop, error)
	GetWalletBalance(ctx context.Context, coin string) (decimal.Decimal, error)
	GetSymbolInfo(ctx context.Context, ticker string) (types.SymbolInfo, error)
	SetLeverage(ctx context.Context, ticker string, longLev, shortLev int) error
}
