package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for state preconditions at the orchestrator boundary.
var (
	// ErrNoActiveChat is returned when a turn is submitted with no active thread.
	ErrNoActiveChat = errors.New("no active chat")

	// ErrEmptyContinueNotAllowed is returned when an empty (continue) turn is
	// submitted before at least one full user/character exchange exists.
	ErrEmptyContinueNotAllowed = errors.New("continue requires at least one prior exchange")

	// ErrResponseInProgress is returned when a turn is submitted while a
	// previous turn has not settled. Turns are never queued.
	ErrResponseInProgress = errors.New("a response is already in progress")
)

// ValidationError reports bad user input; recoverable, surfaced inline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a stale reference to an entity that no longer exists.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given entity kind and id.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// GenerationErrorCategory classifies external generation failures so the UI
// can show a targeted hint.
type GenerationErrorCategory string

const (
	GenerationErrorCredential GenerationErrorCategory = "credential"
	GenerationErrorQuota      GenerationErrorCategory = "quota"
	GenerationErrorSafety     GenerationErrorCategory = "safety"
	GenerationErrorOther      GenerationErrorCategory = "other"
)

// GenerationError wraps a failure of the external generation collaborator.
type GenerationError struct {
	Category GenerationErrorCategory
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Category, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Hint returns a humanized message for the failure category.
func (e *GenerationError) Hint() string {
	switch e.Category {
	case GenerationErrorCredential:
		return "API key error. Please check your API key in settings."
	case GenerationErrorQuota:
		return "API quota exceeded. Please try again later or check your usage limits."
	case GenerationErrorSafety:
		return "The response was blocked by content safety filters. Try rephrasing your message."
	default:
		return "Failed to get a response. Please try again."
	}
}

// HistoryFormatError reports that a compiled turn sequence violated the
// external API's ordering constraint. The orchestrator recovers by one
// automatic fallback to flat-context mode before surfacing it.
type HistoryFormatError struct {
	Err error
}

func (e *HistoryFormatError) Error() string {
	return fmt.Sprintf("turn sequence rejected by model: %v", e.Err)
}

func (e *HistoryFormatError) Unwrap() error { return e.Err }
