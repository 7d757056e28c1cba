// Package orchestrator drives a full conversation turn: it accepts the user
// message, fans out one generation per active character, streams partial
// text into the thread and settles each response exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roleplay-chat/internal/chat"
	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/metrics"
	"roleplay-chat/internal/models"
	"roleplay-chat/internal/prompt"
	"roleplay-chat/internal/registry"
)

// continueMarker is the transient "..." system message shown while an empty
// turn is being answered. It is removed once all responses settle.
const continueMarker = "..."

// continueMarkerTTL removes a stale marker even if settlement is slow.
const continueMarkerTTL = 1500 * time.Millisecond

const (
	typingDelayMin    = 500 * time.Millisecond
	typingDelayMax    = 2000 * time.Millisecond
	typingDelayPerMsg = 100 * time.Millisecond
	typingDelayJitter = 400 * time.Millisecond
)

// fallbackMinRunes: a stream that died with less text than this is treated
// as having produced nothing useful and is replaced by a fallback call.
const fallbackMinRunes = 10

// Orchestrator coordinates chat.Service, the prompt builders and the
// Generator for one turn at a time.
type Orchestrator struct {
	chats     *chat.Service
	registry  *registry.Registry
	generator gen.Generator

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	jitterFn  func() time.Duration
}

// New creates an orchestrator over the given collaborators.
func New(chats *chat.Service, reg *registry.Registry, generator gen.Generator) *Orchestrator {
	return &Orchestrator{
		chats:     chats,
		registry:  reg,
		generator: generator,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
		jitterFn: func() time.Duration {
			return time.Duration(rand.Int64N(int64(2*typingDelayJitter))) - typingDelayJitter
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendTurn submits one user turn. An empty text is a continue request: the
// characters speak again without a new visible user message. All active
// characters respond concurrently; one character failing does not stop the
// others. The first branch error is returned after every branch settles.
func (o *Orchestrator) SendTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	if err := o.chats.BeginResponse(); err != nil {
		return err
	}
	defer o.chats.EndResponse()

	chatID := o.chats.ActiveChatID()
	if chatID == "" {
		return models.ErrNoActiveChat
	}

	// Re-read the character roster so edits made since the chat was opened
	// take effect on this turn.
	characters := o.chats.RefreshSnapshot()
	if len(characters) == 0 {
		return models.ErrNoActiveChat
	}

	isContinue := text == ""
	if isContinue && !o.chats.HasAnyExchange(chatID) {
		return models.ErrEmptyContinueNotAllowed
	}

	metrics.TurnsTotal.Inc()
	logger.Log.Info("turn_started",
		zap.String("chat_id", chatID),
		zap.Int("characters", len(characters)),
		zap.Bool("continue", isContinue))

	userText := text
	var markerID string
	if isContinue {
		if last, ok := o.chats.LastUserTurn(chatID); ok {
			userText = last.Content
		}
		// The continue turn itself never renders, but it still marks a turn
		// boundary in the stored thread.
		hidden := models.Message{
			ID:         uuid.NewString(),
			IsUser:     true,
			IsDeleted:  true,
			IsContinue: true,
			Timestamp:  o.nowFunc(),
		}
		if err := o.chats.Append(chatID, hidden); err != nil {
			return err
		}
		markerID = uuid.NewString()
		marker := models.Message{
			ID:        markerID,
			IsSystem:  true,
			Content:   continueMarker,
			Timestamp: o.nowFunc(),
		}
		if err := o.chats.Append(chatID, marker); err != nil {
			return err
		}
	} else {
		userMsg := models.Message{
			ID:        uuid.NewString(),
			Content:   text,
			IsUser:    true,
			Timestamp: o.nowFunc(),
		}
		if err := o.chats.Append(chatID, userMsg); err != nil {
			return err
		}
	}

	var markerOnce sync.Once
	removeMarker := func() {
		if markerID == "" {
			return
		}
		markerOnce.Do(func() {
			if err := o.chats.RemoveMessage(chatID, markerID); err != nil {
				logger.Log.Warn("continue_marker_remove_failed", zap.Error(err))
			}
		})
	}
	if markerID != "" {
		t := time.AfterFunc(continueMarkerTTL, removeMarker)
		defer t.Stop()
	}

	var g errgroup.Group
	for _, character := range characters {
		g.Go(func() error {
			return o.respond(ctx, chatID, character, characters, userText, isContinue)
		})
	}
	err := g.Wait()
	removeMarker()

	if err != nil {
		logger.Log.Warn("turn_completed_with_error", zap.String("chat_id", chatID), zap.Error(err))
		return err
	}
	logger.Log.Info("turn_completed", zap.String("chat_id", chatID))
	return nil
}

// RegenerateLast discards a character's most recent visible response and
// produces a new one. When no user turn precedes the discarded response, a
// hidden continue turn stands in so the thread keeps alternating.
func (o *Orchestrator) RegenerateLast(ctx context.Context, characterID string) error {
	if err := o.chats.BeginResponse(); err != nil {
		return err
	}
	defer o.chats.EndResponse()

	chatID := o.chats.ActiveChatID()
	if chatID == "" {
		return models.ErrNoActiveChat
	}
	characters := o.chats.RefreshSnapshot()
	var target *models.Character
	for i := range characters {
		if characters[i].ID == characterID {
			target = &characters[i]
			break
		}
	}
	if target == nil {
		return models.NewNotFoundError("character", characterID)
	}

	last, ok := o.chats.LastCharacterTurn(chatID, characterID)
	if !ok {
		return nil
	}
	if err := o.chats.SoftDelete(chatID, last.ID); err != nil {
		return err
	}

	userText := ""
	if lastUser, found := o.chats.LastUserTurn(chatID); found {
		userText = lastUser.Content
	} else {
		hidden := models.Message{
			ID:         uuid.NewString(),
			IsUser:     true,
			IsDeleted:  true,
			IsContinue: true,
			Timestamp:  o.nowFunc(),
		}
		if err := o.chats.Append(chatID, hidden); err != nil {
			return err
		}
	}

	logger.Log.Info("regenerate_started",
		zap.String("chat_id", chatID),
		zap.String("character_id", characterID))
	return o.respond(ctx, chatID, *target, characters, userText, userText == "")
}

// respond runs one character's branch of a turn: typing placeholder, delay,
// generation, streaming into a message and settlement. The placeholder is
// always removed, including on every error path.
func (o *Orchestrator) respond(ctx context.Context, chatID string, character models.Character, roster []models.Character, userText string, isContinue bool) (retErr error) {
	start := o.nowFunc()
	defer func() {
		metrics.GenerationSeconds.Observe(o.nowFunc().Sub(start).Seconds())
		if retErr != nil {
			metrics.GenerationTotal.WithLabelValues("error").Inc()
		} else {
			metrics.GenerationTotal.WithLabelValues("success").Inc()
		}
	}()

	if !o.generator.Ready() {
		return &models.GenerationError{
			Category: models.GenerationErrorCredential,
			Err:      fmt.Errorf("no API key configured"),
		}
	}

	settings := o.chats.Settings()
	personal := o.chats.PersonalContext()
	visible := o.chats.Visible(chatID)
	names := o.nameIndex(roster)

	typingID := uuid.NewString()
	typing := models.Message{
		ID:          typingID,
		IsTyping:    true,
		CharacterID: character.ID,
		Timestamp:   o.nowFunc(),
	}
	if err := o.chats.Append(chatID, typing); err != nil {
		return err
	}
	var typingOnce sync.Once
	removeTyping := func() {
		typingOnce.Do(func() {
			if err := o.chats.RemoveMessage(chatID, typingID); err != nil {
				logger.Log.Warn("typing_remove_failed",
					zap.String("character_id", character.ID), zap.Error(err))
			}
		})
	}
	defer removeTyping()

	if err := o.sleepFunc(ctx, o.typingDelay(len(visible))); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, settings.GenerationTimeout())
	defer cancel()

	// A character that has never spoken in this thread gets a single
	// flat-context call. Streaming over the turn sequence takes over
	// from the second response on.
	if !o.hasSpoken(visible, character.ID) {
		text, err := o.generator.Generate(callCtx,
			prompt.FlatContext(character, personal, visible, roster, names),
			settings.ConversationConfig())
		removeTyping()
		if err != nil {
			return o.describeFailure(character, err)
		}
		return o.chats.Append(chatID, models.Message{
			ID:          uuid.NewString(),
			Content:     text,
			CharacterID: character.ID,
			Timestamp:   o.nowFunc(),
		})
	}

	turns := prompt.TurnSequence(visible, character, names, personal.Name)
	instruction := prompt.RegularInstruction(character)
	if isContinue {
		instruction = prompt.ContinueInstruction(character)
	}

	removeTyping()
	respID := uuid.NewString()
	if err := o.chats.Append(chatID, models.Message{
		ID:          respID,
		CharacterID: character.ID,
		Timestamp:   o.nowFunc(),
	}); err != nil {
		return err
	}

	f := newFlusher(o.nowFunc(), func(full string) {
		if err := o.chats.UpdateContent(chatID, respID, full); err != nil {
			logger.Log.Warn("stream_update_failed",
				zap.String("character_id", character.ID), zap.Error(err))
		}
	})
	_, streamErr := o.generator.GenerateStream(callCtx, turns, instruction,
		settings.ConversationConfig(), func(text string) {
			metrics.StreamChunksTotal.Inc()
			f.Add(text, o.nowFunc())
		})
	full := f.Final(o.nowFunc())

	if streamErr != nil && utf8.RuneCountInString(full) < fallbackMinRunes {
		// One flat-context retry before surfacing the failure. This also
		// covers a rejected turn sequence, which the flat prompt sidesteps.
		var formatErr *models.HistoryFormatError
		if errors.As(streamErr, &formatErr) {
			logger.Log.Warn("turn_sequence_rejected",
				zap.String("character_id", character.ID), zap.Error(streamErr))
		}
		text, fbErr := o.generator.Generate(callCtx,
			prompt.FallbackPrompt(character, userText),
			settings.ConversationConfig())
		if fbErr == nil && text != "" {
			if err := o.chats.UpdateContent(chatID, respID, text); err != nil {
				return err
			}
			return o.chats.FinalizeMessage(chatID)
		}
		failure := o.describeFailure(character, streamErr)
		if err := o.chats.UpdateContent(chatID, respID,
			fmt.Sprintf("*%s seems unable to respond right now.*", character.Name)); err != nil {
			logger.Log.Warn("failure_notice_failed", zap.Error(err))
		}
		if err := o.chats.FinalizeMessage(chatID); err != nil {
			logger.Log.Warn("finalize_failed", zap.Error(err))
		}
		return failure
	}

	if err := o.chats.FinalizeMessage(chatID); err != nil {
		return err
	}
	if streamErr != nil {
		// Keep whatever partial text arrived; the caller sees the error.
		return o.describeFailure(character, streamErr)
	}
	return nil
}

// typingDelay scales with thread length, clamped to a fixed range and
// jittered per character.
func (o *Orchestrator) typingDelay(visibleCount int) time.Duration {
	base := time.Duration(visibleCount) * typingDelayPerMsg
	if base < typingDelayMin {
		base = typingDelayMin
	}
	if base > typingDelayMax {
		base = typingDelayMax
	}
	d := base + o.jitterFn()
	if d < typingDelayMin {
		d = typingDelayMin
	}
	return d
}

func (o *Orchestrator) hasSpoken(visible []models.Message, characterID string) bool {
	for _, m := range visible {
		if !m.IsUser && !m.IsSystem && !m.IsTyping && m.CharacterID == characterID && m.Content != "" {
			return true
		}
	}
	return false
}

func (o *Orchestrator) nameIndex(roster []models.Character) map[string]string {
	names := make(map[string]string, len(roster))
	for _, c := range roster {
		names[c.ID] = c.Name
	}
	return names
}

func (o *Orchestrator) describeFailure(character models.Character, err error) error {
	var genErr *models.GenerationError
	if errors.As(err, &genErr) {
		logger.Log.Warn("generation_failed",
			zap.String("character_id", character.ID),
			zap.String("category", string(genErr.Category)),
			zap.Error(err))
		return err
	}
	logger.Log.Warn("generation_failed",
		zap.String("character_id", character.ID), zap.Error(err))
	return fmt.Errorf("failed to generate response for %s: %w", character.Name, err)
}
