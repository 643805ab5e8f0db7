package service

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not in pending state")
	// ErrIntegrity rejects a provider outcome whose amount or currency does
	// not match what the order expects.
	ErrIntegrity             = errors.New("payment outcome does not match the order")
	ErrMalformedEvent        = errors.New("malformed provider event")
	ErrWalletSessionNotFound = errors.New("wallet session not found")
	// ErrStaleRate refuses an order priced with a rate too far from the
	// current one.
	ErrStaleRate = errors.New("exchange rate has changed, refresh the prices")
)
