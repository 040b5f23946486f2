package battle

import "errors"

// Sentinel kinds for battle errors.
var (
	// ErrPlacementOverlap means the two stamped patterns share a cell.
	ErrPlacementOverlap = errors.New("placement overlap")
	// ErrInvalidSpec covers unusable sizes, step counts, spawn points or patterns.
	ErrInvalidSpec = errors.New("invalid battle spec")
)
