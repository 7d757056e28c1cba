package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

const enhancePromptFormat = `You are an expert character developer for roleplaying. Transform this brief character description into a detailed character profile that can guide an AI in consistently roleplaying as this character. Do not write as the character and do not open with any preamble or confirmation; start directly with the profile.

CHARACTER NAME: %q

BRIEF DESCRIPTION (to be expanded with more critical details):
%q

CREATE A COMPREHENSIVE CHARACTER PROFILE INCLUDING:
1. Personality traits with specific behavioral examples
2. Distinctive speech patterns, vocabulary choices, and verbal tics
3. Background information and formative experiences that shaped them
4. Core motivations, values, and life goals
5. Key relationships and how they interact with different types of people
6. Emotional responses to various situations (angry, happy, stressed, etc.)
7. Physical appearance and mannerisms if relevant
8. Skills, knowledge areas, and expertise
9. Fears, insecurities, and internal conflicts

FORMAT AS A COHESIVE PROFILE THAT DEFINES THE CHARACTER'S ESSENCE.
- Make the character feel authentic and three-dimensional with consistent traits.
- Include specific examples of how they would speak and react.
- Write in third person.
- IMPORTANT: Your response MUST be approximately %d words or fewer to fit within a limit of %d tokens. Focus on depth and specificity rather than length.`

// SetGenerator wires the generation collaborator used for enhancement.
func (r *Registry) SetGenerator(g gen.Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generator = g
}

// SetSettingsSource wires the provider of current generation settings.
func (r *Registry) SetSettingsSource(fn func() models.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = fn
}

// Enhance expands a character's brief description into a full persona profile
// via the generation collaborator and stores it as the enhanced context.
func (r *Registry) Enhance(ctx context.Context, id string) (models.Character, error) {
	character, err := r.Get(id)
	if err != nil {
		return models.Character{}, err
	}

	r.mu.RLock()
	generator := r.generator
	settingsFn := r.settings
	r.mu.RUnlock()

	if generator == nil || !generator.Ready() {
		return models.Character{}, &models.GenerationError{
			Category: models.GenerationErrorCredential,
			Err:      fmt.Errorf("no API key configured"),
		}
	}

	settings := models.DefaultSettings()
	if settingsFn != nil {
		settings = settingsFn()
	}

	// Word budget approximates 0.75 words per token.
	wordLimit := int(float64(settings.EnhancedContextTokens) * 0.75)
	prompt := fmt.Sprintf(enhancePromptFormat,
		character.Name, character.UserContext, wordLimit, settings.EnhancedContextTokens)

	logger.Log.Info("character_enhance_started", zap.String("character_id", id))
	enhanced, err := generator.Generate(ctx, prompt, settings.EnhanceConfig())
	if err != nil {
		logger.Log.Warn("character_enhance_failed", zap.String("character_id", id), zap.Error(err))
		return models.Character{}, err
	}

	updated, err := r.setEnhancedContext(id, enhanced)
	if err != nil {
		return models.Character{}, err
	}

	logger.Log.Info("character_enhance_completed",
		zap.String("character_id", id),
		zap.Int("length", len(enhanced)))
	return updated, nil
}
