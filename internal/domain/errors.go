package domain

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrNotFound             = errors.New("not found")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrNothingSelected      = errors.New("nothing selected")
	ErrInsufficientPayment  = errors.New("insufficient payment")
	ErrSubmissionFailed     = errors.New("submission failed")

	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("invalid state")
	ErrReasonRequired    = errors.New("return reason required")
	ErrExcessiveDiscount = errors.New("discount exceeds subtotal")
)
