package service

import (
	"errors"

	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/store"
)

var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrLowConfidence    = errors.New("transcription confidence too low")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = store.ErrNotFound
)

// IsInputError reports whether err should go back to the caller as a
// rejected request rather than a server failure.
func IsInputError(err error) bool {
	return pipeline.IsInputError(err) ||
		errors.Is(err, ErrLowConfidence) ||
		errors.Is(err, ErrInvalidRequest)
}
