package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"voxreview.app/relay/internal/model"
)

// Input errors. These are the caller's fault and never retried.
var (
	ErrEmptyInput          = errors.New("input has no usable content")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Text generation service failures.
var (
	ErrGenerationTimeout     = errors.New("text generation timed out")
	ErrGenerationUnavailable = errors.New("text generation unavailable")
)

// Approval gate outcomes.
var (
	ErrInvalidTransition = errors.New("invalid approval transition")
	ErrExpired           = errors.New("approval window expired")
)

// SentimentDriftError means every generation attempt changed the polarity of
// what the customer said.
type SentimentDriftError struct {
	Transcript string
	Expected   model.Sentiment
	Got        model.Sentiment
}

func (e *SentimentDriftError) Error() string {
	return fmt.Sprintf("generated review drifted from %s to %s", e.Expected, e.Got)
}

// ValidationError lists what the last generated text got wrong.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "generated text failed validation: " + strings.Join(e.Problems, "; ")
}

// IsInputError reports whether err was caused by bad caller input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrUnsupportedPlatform)
}

// IsIntegrityError reports whether synthesis gave up on semantic grounds.
func IsIntegrityError(err error) bool {
	var drift *SentimentDriftError
	var invalid *ValidationError
	return errors.As(err, &drift) || errors.As(err, &invalid)
}
