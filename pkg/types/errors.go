package types

import "errors"

// Domain errors shared across components
var (
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrInvalidVector  = errors.New("embedding vector is invalid")
	ErrDimensionMatch = errors.New("embedding dimension mismatch")
)
