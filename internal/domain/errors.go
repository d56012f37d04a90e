package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed requests and failed ownership checks.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotOwned is returned when a user combines an element they do not have.
	ErrNotOwned = fmt.Errorf("%w: One or both elements not in inventory", ErrInvalidInput)

	// ErrUnavailable marks failures of an upstream model call. The request
	// performed no writes and can be retried as-is.
	ErrUnavailable = errors.New("service unavailable")

	// ErrOracleUnavailable is returned when the synthesis model could not be reached
	// or answered outside the protocol.
	ErrOracleUnavailable = fmt.Errorf("%w: AI Service Unavailable", ErrUnavailable)

	// ErrEmbeddingUnavailable is returned when no embedding could be produced
	// for a candidate name.
	ErrEmbeddingUnavailable = fmt.Errorf("%w: Vector generation failed", ErrUnavailable)

	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when an insert hits a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// InvalidInput builds an ErrInvalidInput with a client-facing message.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StorageFailure wraps err as an ErrStorage for the given operation.
func StorageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// PublicMessage returns the message shown to clients for err.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		msg := err.Error()
		prefix := ErrInvalidInput.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
		return msg
	case errors.Is(err, ErrOracleUnavailable):
		return "AI Service Unavailable"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "Vector generation failed"
	default:
		return "Internal server error"
	}
}

var (
	// ErrElementExists is the ErrConflict raised by a duplicate element name key.
	ErrElementExists = fmt.Errorf("%w: element name already exists", ErrConflict)

	// ErrRecipeExists is the ErrConflict raised by a duplicate recipe pair.
	ErrRecipeExists = fmt.Errorf("%w: recipe already exists", ErrConflict)
)
