package checkout

import "errors"

// Module errors.
var (
	ErrEmptyPaymentMethod = errors.New("payment method id is required")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidCurrency    = errors.New("currency must be a three-letter code")
	ErrPaymentNotFound    = errors.New("payment not found")
)
