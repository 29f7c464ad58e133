package types

import (
	"context"
	"errors"
)

// Error taxonomy shared by every component. Callers wrap these with %w and the
// service boundary maps them onto responses with errors.Is.
var (
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrDimensionMismatch     = errors.New("dimension mismatch")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrSessionNotFound       = errors.New("session not found")
	ErrEmptyCollection       = errors.New("empty collection")
)

// Kind returns the taxonomy name of err, or "internal" when it wraps none.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrEmptyCollection):
		return "empty_collection"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
