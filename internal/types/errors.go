package types

import "errors"

// Sentinel errors for the trading bot.
var (
	// Routing errors
	ErrUnknownInstrument = errors.New("signal for unconfigured instrument")
	ErrPositionFetch     = errors.New("failed to fetch current positions")

	// Order errors
	ErrOrderRejected = errors.New("order rejected by exchange")
	ErrOrderNotFound = errors.New("order not found")

	// Exchange errors
	ErrExchangeCall = errors.New("exchange call failed")
	ErrRateLimited  = errors.New("rate limited by exchange")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
