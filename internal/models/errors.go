package models

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrOutOfStock          = errors.New("reward out of stock")
	ErrExpired             = errors.New("expired")
	ErrNotActive           = errors.New("not active")
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrTenantRequired      = errors.New("tenant context required")
)
