package facematch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEmbedding is returned for query or registration vectors with the wrong shape.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrDimensionMismatch signals stored and query vectors of different lengths.
	// It indicates mixed embedding dimensions in the store.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStoreUnavailable signals a transient storage failure.
	ErrStoreUnavailable = errors.New("embedding store unavailable")
)

// DimensionMismatchError carries both vector lengths.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %d != %d", ErrDimensionMismatch, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrDimensionMismatch) true.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// StoreError wraps an I/O failure of the embedding store.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err as a store failure of the named operation.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStoreUnavailable) true.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// InvalidEmbeddingf builds an ErrInvalidEmbedding with detail.
func InvalidEmbeddingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEmbedding, fmt.Sprintf(format, args...))
}
