package chat

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

// nowFunc is stubbed in tests that need deterministic thread ids.
var nowFunc = time.Now

// CurrentSession returns a copy of the session state.
func (s *Service) CurrentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.session
	out.SelectedCharacterIDs = slices.Clone(s.session.SelectedCharacterIDs)
	out.ActiveCharacters = slices.Clone(s.session.ActiveCharacters)
	return out
}

// ActiveChatID returns the active thread id, empty when none.
func (s *Service) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ActiveChatID
}

// BeginResponse atomically claims the response gate. It returns
// ErrResponseInProgress when a previous turn has not settled.
func (s *Service) BeginResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ResponseInProgress {
		return models.ErrResponseInProgress
	}
	s.session.ResponseInProgress = true
	return nil
}

// EndResponse releases the response gate.
func (s *Service) EndResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ResponseInProgress = false
}

// RefreshSnapshot re-reads the active character snapshot from the registry.
// Called at the start of every turn so persona edits reach in-flight sessions
// instead of leaking stale copies into prompts.
func (s *Service) RefreshSnapshot() []models.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshSnapshotLocked()
	return slices.Clone(s.session.ActiveCharacters)
}

func (s *Service) refreshSnapshotLocked() {
	refreshed := make([]models.Character, 0, len(s.session.SelectedCharacterIDs))
	for _, id := range s.session.SelectedCharacterIDs {
		if c, err := s.registry.Get(id); err == nil {
			refreshed = append(refreshed, c)
		}
	}
	s.session.ActiveCharacters = refreshed
}

// StartChat activates a thread for the given participants. With forceNew a
// fresh thread is always created. Otherwise a single character resumes its
// last-active thread when that thread still exists and is non-empty; a group
// resumes its most recent history entry. Failing both, a new thread starts.
func (s *Service) StartChat(participantIDs []string, forceNew bool) (string, error) {
	if len(participantIDs) == 0 {
		return "", models.NewValidationError("participants", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(participantIDs) > 1 && !s.settings.AllowGroupChats {
		return "", models.NewValidationError("participants", "group chats are disabled")
	}

	names := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		c, err := s.registry.Get(id)
		if err != nil {
			return "", err
		}
		names = append(names, c.Name)
	}

	chatID := ""
	switch {
	case forceNew:
		chatID = NewChatID(participantIDs, nowFunc())
	case len(participantIDs) == 1:
		if last, ok := s.lastActiveChats[participantIDs[0]]; ok && len(s.chats[last]) > 0 {
			chatID = last
		}
	default:
		if entries := s.chatHistory[ParticipantKey(participantIDs)]; len(entries) > 0 {
			chatID = entries[0].ChatID
		}
	}
	if chatID == "" {
		chatID = NewChatID(participantIDs, nowFunc())
	}

	if err := s.ensureThreadLocked(chatID, names); err != nil {
		return "", err
	}
	if err := s.activateThreadLocked(chatID); err != nil {
		return "", err
	}

	logger.Log.Info("chat_started",
		zap.String("chat_id", chatID),
		zap.Int("participants", len(participantIDs)),
		zap.Bool("force_new", forceNew))
	return chatID, nil
}

// ResumeChat activates an existing thread from the history browser.
func (s *Service) ResumeChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return models.NewNotFoundError("chat", chatID)
	}
	return s.activateThreadLocked(chatID)
}

// activateThreadLocked points the session at chatID, snapshots the
// participants, and upserts their last-active pointers.
func (s *Service) activateThreadLocked(chatID string) error {
	participantIDs := ParticipantsForChatID(chatID)
	s.session.ActiveChatID = chatID
	s.session.SelectedCharacterIDs = participantIDs
	s.refreshSnapshotLocked()

	for _, id := range participantIDs {
		if err := s.setLastActiveLocked(id, chatID); err != nil {
			return err
		}
	}
	return nil
}

// ClearActiveChat drops the active thread and selection.
func (s *Service) ClearActiveChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.ActiveChatID = ""
	s.session.SelectedCharacterIDs = nil
	s.session.ActiveCharacters = nil
}

// CharacterUpdated propagates a registry edit into the live snapshot.
// Implements registry.ChatCascade.
func (s *Service) CharacterUpdated(character models.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.session.ActiveCharacters {
		if s.session.ActiveCharacters[i].ID == character.ID {
			s.session.ActiveCharacters[i] = character
		}
	}
}

// CharacterDeleted clears every trace of a deleted character: selection and
// snapshot membership, the last-active pointer, and all threads the character
// participated in. Implements registry.ChatCascade.
func (s *Service) CharacterDeleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.SelectedCharacterIDs = slices.DeleteFunc(
		slices.Clone(s.session.SelectedCharacterIDs),
		func(selected string) bool { return selected == id })
	s.session.ActiveCharacters = slices.DeleteFunc(
		slices.Clone(s.session.ActiveCharacters),
		func(c models.Character) bool { return c.ID == id })

	if _, ok := s.lastActiveChats[id]; ok {
		delete(s.lastActiveChats, id)
		if err := s.persistLastActiveLocked(); err != nil {
			return err
		}
	}

	affectedKeys := map[string]struct{}{}
	for chatID := range s.chats {
		if !slices.Contains(ParticipantsForChatID(chatID), id) {
			continue
		}
		affectedKeys[KeyForChatID(chatID)] = struct{}{}
		delete(s.chats, chatID)
		if s.session.ActiveChatID == chatID {
			s.session.ActiveChatID = ""
		}
	}
	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	for key := range affectedKeys {
		if err := s.recomputeHistoryLocked(key); err != nil {
			return err
		}
	}

	logger.Log.Info("character_state_cleared",
		zap.String("character_id", id),
		zap.Int("threads_deleted", len(affectedKeys)))
	return nil
}
