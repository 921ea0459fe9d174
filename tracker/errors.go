package tracker

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by BrickStore when no record carries the requested id
	ErrNotFound = errors.New("brick not found")
	// ErrInvalidMaxDisappeared is returned when the tracker is configured with a negative threshold
	ErrInvalidMaxDisappeared = errors.New("maxDisappeared must be non-negative")
	// ErrInvariantViolation reports divergence between tracked tokens and the brick store
	ErrInvariantViolation = errors.New("tracker invariant violated")
	// ErrInventory wraps failures of the inventory service
	ErrInventory = errors.New("inventory call failed")
)

// ClassificationError is returned for shape/color tags outside of the known categories
type ClassificationError struct {
	Shape Shape
	Color Color
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("unknown brick category: shape=%q color=%q", string(e.Shape), string(e.Color))
}
