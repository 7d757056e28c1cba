package gen

import (
	"strings"

	"roleplay-chat/internal/models"
)

// Classify maps a raw API failure onto the domain error taxonomy. Turn
// ordering violations become HistoryFormatError so the orchestrator can fall
// back to flat-context mode; everything else becomes a categorized
// GenerationError.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "first content") || strings.Contains(msg, "should be with role"):
		return &models.HistoryFormatError{Err: err}
	case strings.Contains(msg, "api key") || strings.Contains(msg, "api_key") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission"):
		return &models.GenerationError{Category: models.GenerationErrorCredential, Err: err}
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return &models.GenerationError{Category: models.GenerationErrorQuota, Err: err}
	case strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return &models.GenerationError{Category: models.GenerationErrorSafety, Err: err}
	default:
		return &models.GenerationError{Category: models.GenerationErrorOther, Err: err}
	}
}
