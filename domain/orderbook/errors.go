package orderbook

import "github.com/cockroachdb/errors"

var (
	// ErrInsufficientLiquidity rejects a market order the opposite side cannot fill in full.
	ErrInsufficientLiquidity = errors.New("orderbook: insufficient liquidity")
	// ErrOrderNotFound is returned when a cancel names an order the caller does not have resting.
	ErrOrderNotFound = errors.New("orderbook: order not found")
	ErrInvalidOrder  = errors.New("orderbook: invalid order")
)
