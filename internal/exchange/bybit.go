package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// BybitConfig holds connection settings for the Bybit REST client.
type BybitConfig struct {
	APIKey             string
	APISecret          string
	Collateral         string // quote asset appended to every ticker, e.g. USDT
	BaseURL            string
	Timeout            time.Duration
	RateLimitPerSecond int
}

// Bybit implements Gateway against the Bybit USDT-perpetual REST API.
type Bybit struct {
	cfg     BybitConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBybit creates a new Bybit REST client.
func NewBybit(cfg BybitConfig, logger *slog.Logger) *Bybit {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bybit.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = 40
	}

	return &Bybit{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
		logger:  logger,
	}
}

// symbol joins a ticker with the configured collateral asset.
func (b *Bybit) symbol(ticker string) string {
	return ticker + b.cfg.Collateral
}

// retCodeRateLimited is returned inside a 200 envelope when the key has
// exhausted its request allowance.
const retCodeRateLimited = 10006

// apiResponse is the envelope every Bybit endpoint returns.
type apiResponse struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes the HMAC-SHA256 signature over the sorted parameter string.
func (b *Bybit) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// authParams adds the authentication fields every private call requires.
func (b *Bybit) authParams(params map[string]string) map[string]string {
	params["api_key"] = b.cfg.APIKey
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["sign"] = b.sign(params)
	return params
}

// call performs a single rate-limited request and decodes the envelope.
func (b *Bybit) call(ctx context.Context, method, path string, params map[string]string, result any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	var req *http.Request
	var err error

	switch method {
	case http.MethodGet:
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		req, err = http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path+"?"+q.Encode(), nil)
	default:
		var body []byte
		body, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrExchangeCall, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status=%d", types.ErrRateLimited, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if envelope.RetCode != 0 {
		b.logger.Debug("exchange returned error",
			"path", path,
			"ret_code", envelope.RetCode,
			"ret_msg", envelope.RetMsg,
		)
		if envelope.RetCode == retCodeRateLimited {
			return fmt.Errorf("%w: ret_code=%d msg=%s", types.ErrRateLimited, envelope.RetCode, envelope.RetMsg)
		}
		return fmt.Errorf("%w: ret_code=%d msg=%s", types.ErrExchangeCall, envelope.RetCode, envelope.RetMsg)
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}

	return nil
}

// orderResult is the wire shape of an order record.
type orderResult struct {
	OrderID     string          `json:"order_id"`
	OrderLinkID string          `json:"order_link_id"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	OrderStatus string          `json:"order_status"`
}

func (r orderResult) toOrder() types.Order {
	return types.Order{
		ID:     r.OrderID,
		LinkID: r.OrderLinkID,
		Side:   types.Side(r.Side),
		Price:  r.Price,
		Qty:    r.Qty,
		Status: types.OrderStatus(r.OrderStatus),
	}
}

// placeOrder submits an active order. reduceOnly also sets close_on_trigger,
// mirroring how reduce orders are placed on this venue.
func (b *Bybit) placeOrder(ctx context.Context, ticker string, side types.Side, orderType string, qty decimal.Decimal, price decimal.Decimal, postOnly, reduceOnly bool) (types.Order, error) {
	tif := "GoodTillCancel"
	if postOnly {
		tif = "PostOnly"
	}

	params := map[string]string{
		"symbol":           b.symbol(ticker),
		"side":             side.String(),
		"order_type":       orderType,
		"qty":              qty.String(),
		"time_in_force":    tif,
		"reduce_only":      strconv.FormatBool(reduceOnly),
		"close_on_trigger": strconv.FormatBool(reduceOnly),
		"order_link_id":    uuid.New().String(),
	}
	if orderType == "Limit" {
		params["price"] = price.String()
	}

	var res orderResult
	if err := b.call(ctx, http.MethodPost, "/private/linear/order/create", b.authParams(params), &res); err != nil {
		return types.Order{}, err
	}
	if types.OrderStatus(res.OrderStatus) == types.OrderStatusRejected {
		return types.Order{}, fmt.Errorf("%w: order_id=%s", types.ErrOrderRejected, res.OrderID)
	}
	return res.toOrder(), nil
}

// PlaceMarketOrder places a market order.
func (b *Bybit) PlaceMarketOrder(ctx context.Context, ticker string, side types.Side, qty decimal.Decimal) (types.Order, error) {
	return b.placeOrder(ctx, ticker, side, "Market", qty, decimal.Zero, false, false)
}

// PlaceLimitPostOnly places a post-only limit order.
func (b *Bybit) PlaceLimitPostOnly(ctx context.Context, ticker string, side types.Side, qty, price decimal.Decimal) (types.Order, error) {
	return b.placeOrder(ctx, ticker, side, "Limit", qty, price, true, false)
}

// ReduceMarketOrder places a reduce-only market order.
func (b *Bybit) ReduceMarketOrder(ctx context.Context, ticker string, side types.Side, qty decimal.Decimal) (types.Order, error) {
	return b.placeOrder(ctx, ticker, side, "Market", qty, decimal.Zero, false, true)
}

// ReduceLimitPostOnly places a reduce-only post-only limit order.
func (b *Bybit) ReduceLimitPostOnly(ctx context.Context, ticker string, side types.Side, qty, price decimal.Decimal) (types.Order, error) {
	return b.placeOrder(ctx, ticker, side, "Limit", qty, price, true, true)
}

// GetOrder queries an active order by order ID.
func (b *Bybit) GetOrder(ctx context.Context, ticker, orderID string) (types.Order, error) {
	params := b.authParams(map[string]string{
		"symbol":   b.symbol(ticker),
		"order_id": orderID,
	})

	var res orderResult
	if err := b.call(ctx, http.MethodGet, "/private/linear/order/search", params, &res); err != nil {
		return types.Order{}, err
	}
	if res.OrderID == "" {
		return types.Order{}, types.ErrOrderNotFound
	}
	return res.toOrder(), nil
}

// CancelOrder cancels an active order.
func (b *Bybit) CancelOrder(ctx context.Context, ticker, orderID string) error {
	params := b.authParams(map[string]string{
		"symbol":   b.symbol(ticker),
		"order_id": orderID,
	})
	return b.call(ctx, http.MethodPost, "/private/linear/order/cancel", params, nil)
}

// positionResult is the wire shape of a position record.
type positionResult struct {
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// GetPositions returns the long and short position snapshots for a ticker.
// The venue reports both sides even when flat.
func (b *Bybit) GetPositions(ctx context.Context, ticker string) (types.Position, types.Position, error) {
	params := b.authParams(map[string]string{
		"symbol": b.symbol(ticker),
	})

	var res []positionResult
	if err := b.call(ctx, http.MethodGet, "/private/linear/position/list", params, &res); err != nil {
		return types.Position{}, types.Position{}, fmt.Errorf("%w: %w", types.ErrPositionFetch, err)
	}

	long := types.Position{Side: types.SideBuy}
	short := types.Position{Side: types.SideSell}
	for _, p := range res {
		switch types.Side(p.Side) {
		case types.SideBuy:
			long.Size = p.Size
			long.EntryPrice = p.EntryPrice
		case types.SideSell:
			short.Size = p.Size
			short.EntryPrice = p.EntryPrice
		}
	}
	return long, short, nil
}

// orderBookEntry is one level of the public order book.
type orderBookEntry struct {
	Side  string          `json:"side"`
	Price decimal.Decimal `json:"price"`
}

// GetOrderBookTop returns the best bid and best ask for a ticker.
func (b *Bybit) GetOrderBookTop(ctx context.Context, ticker string) (types.OrderBookTop, error) {
	params := map[string]string{"symbol": b.symbol(ticker)}

	var res []orderBookEntry
	if err := b.call(ctx, http.MethodGet, "/v2/public/orderBook/L2", params, &res); err != nil {
		return types.OrderBookTop{}, err
	}

	var top types.OrderBookTop
	var haveBid, haveAsk bool
	for _, e := range res {
		switch types.Side(e.Side) {
		case types.SideBuy:
			if !haveBid {
				top.Bid = e.Price
				haveBid = true
			}
		case types.SideSell:
			if !haveAsk {
				top.Ask = e.Price
				haveAsk = true
			}
		}
		if haveBid && haveAsk {
			return top, nil
		}
	}
	return top, fmt.Errorf("%w: empty order book for %s", types.ErrExchangeCall, b.symbol(ticker))
}

// GetWalletBalance returns the available wallet balance for a coin.
func (b *Bybit) GetWalletBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	params := b.authParams(map[string]string{"coin": coin})

	var res map[string]struct {
		WalletBalance decimal.Decimal `json:"wallet_balance"`
	}
	if err := b.call(ctx, http.MethodGet, "/v2/private/wallet/balance", params, &res); err != nil {
		return decimal.Zero, err
	}

	entry, ok := res[coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no balance entry for %s", types.ErrExchangeCall, coin)
	}
	return entry.WalletBalance, nil
}

// symbolResult is the wire shape of a symbol listing entry.
type symbolResult struct {
	Name          string `json:"name"`
	LotSizeFilter struct {
		QtyStep decimal.Decimal `json:"qty_step"`
	} `json:"lot_size_filter"`
}

// GetSymbolInfo returns instrument metadata for a ticker.
func (b *Bybit) GetSymbolInfo(ctx context.Context, ticker string) (types.SymbolInfo, error) {
	var res []symbolResult
	if err := b.call(ctx, http.MethodGet, "/v2/public/symbols", nil, &res); err != nil {
		return types.SymbolInfo{}, err
	}

	want := b.symbol(ticker)
	for _, s := range res {
		if s.Name == want {
			return types.SymbolInfo{Symbol: s.Name, QtyStep: s.LotSizeFilter.QtyStep}, nil
		}
	}
	return types.SymbolInfo{}, fmt.Errorf("%w: %s", types.ErrInvalidSymbol, want)
}

// SetLeverage sets the long and short leverage for a ticker.
func (b *Bybit) SetLeverage(ctx context.Context, ticker string, longLev, shortLev int) error {
	params := b.authParams(map[string]string{
		"symbol":        b.symbol(ticker),
		"buy_leverage":  strconv.Itoa(longLev),
		"sell_leverage": strconv.Itoa(shortLev),
	})
	return b.call(ctx, http.MethodPost, "/private/linear/position/set-leverage", params, nil)
}
