package ca

import "errors"

// Sentinel kinds for grid errors.
var (
	ErrInvalidSize = errors.New("invalid grid size")
	ErrCoordinate  = errors.New("grid coordinate out of range")
	ErrSizeDiffers = errors.New("grid sizes differ")
)
