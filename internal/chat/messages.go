package chat

import (
	"strings"
	"time"

	"roleplay-chat/internal/models"
)

// continueMarker is the transient system message shown while a continue turn
// is in flight.
const continueMarker = "..."

// Append pushes a message onto a thread and persists. Non-typing, non-system
// messages refresh the history index for the owning participant set.
func (s *Service) Append(chatID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(chatID, msg)
}

func (s *Service) appendLocked(chatID string, msg models.Message) error {
	s.chats[chatID] = append(s.chats[chatID], msg)
	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	if !msg.IsTyping && !msg.IsSystem {
		if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
			return err
		}
	}
	s.notifyAppended(chatID, msg)
	return nil
}

// SoftDelete marks a message deleted. Typing placeholders are physically
// removed instead, together with an immediately preceding continue marker, so
// no deleted typing ghost survives in the thread.
func (s *Service) SoftDelete(chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.chats[chatID]
	if !ok {
		return models.NewNotFoundError("chat", chatID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return models.NewNotFoundError("message", messageID)
	}

	if msgs[idx].IsTyping {
		return s.removePhysicallyLocked(chatID, idx)
	}

	msgs[idx].IsDeleted = true
	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
		return err
	}
	s.notifyUpdated(chatID, msgs[idx])
	return nil
}

// RemoveMessage physically removes a message (used for typing placeholders
// and the transient continue marker). Removing an absent message is a no-op.
func (s *Service) RemoveMessage(chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil
	}
	return s.removePhysicallyLocked(chatID, idx)
}

// removePhysicallyLocked splices out the message at idx; when it is a typing
// placeholder, a directly preceding continue marker goes with it.
func (s *Service) removePhysicallyLocked(chatID string, idx int) error {
	msgs := s.chats[chatID]
	removedID := msgs[idx].ID
	wasTyping := msgs[idx].IsTyping

	markerIdx := -1
	if wasTyping {
		for i := idx - 1; i >= 0; i-- {
			if msgs[i].IsSystem && msgs[i].Content == continueMarker {
				markerIdx = i
				break
			}
			if !msgs[i].IsSystem {
				break
			}
		}
	}

	var markerID string
	if markerIdx >= 0 {
		markerID = msgs[markerIdx].ID
		msgs = append(msgs[:markerIdx], msgs[markerIdx+1:]...)
		idx--
	}
	msgs = append(msgs[:idx], msgs[idx+1:]...)
	s.chats[chatID] = msgs

	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
		return err
	}
	if markerID != "" {
		s.notifyRemoved(chatID, markerID)
	}
	s.notifyRemoved(chatID, removedID)
	return nil
}

// Edit replaces a message's content. Only the most recent non-deleted message
// from its author (the user, or that specific character) may be edited: the
// generation context has already been built from anything older.
func (s *Service) Edit(chatID, messageID, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return models.NewValidationError("content", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.chats[chatID]
	if !ok {
		return models.NewNotFoundError("chat", chatID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return models.NewNotFoundError("message", messageID)
	}

	target := msgs[idx]
	if target.IsDeleted || target.IsSystem || target.IsTyping {
		return models.NewValidationError("message", "cannot be edited")
	}
	if !s.isLastFromAuthorLocked(msgs, idx) {
		return models.NewValidationError("message", "only the author's most recent message can be edited")
	}

	msgs[idx].Content = newContent
	msgs[idx].Edited = true
	msgs[idx].EditedAt = time.Now().UTC()

	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
		return err
	}
	s.notifyUpdated(chatID, msgs[idx])
	return nil
}

// isLastFromAuthorLocked reports whether no later non-deleted message shares
// the target's author.
func (s *Service) isLastFromAuthorLocked(msgs []models.Message, idx int) bool {
	target := msgs[idx]
	for i := idx + 1; i < len(msgs); i++ {
		m := msgs[i]
		if m.IsDeleted || m.IsTyping || m.IsSystem {
			continue
		}
		if target.IsUser && m.IsUser {
			return false
		}
		if target.CharacterID != "" && m.CharacterID == target.CharacterID {
			return false
		}
	}
	return true
}

// UpdateContent replaces a message's content in place, by stable id. Used by
// the streaming path to grow the pre-created response message; the history
// index refreshes at settlement, not per chunk.
func (s *Service) UpdateContent(chatID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.chats[chatID]
	if !ok {
		return models.NewNotFoundError("chat", chatID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return models.NewNotFoundError("message", messageID)
	}

	msgs[idx].Content = content
	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	s.notifyUpdated(chatID, msgs[idx])
	return nil
}

// FinalizeMessage refreshes the history index after a streamed response has
// fully settled.
func (s *Service) FinalizeMessage(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
		return err
	}
	return nil
}

// Messages returns a copy of the raw thread, deleted messages included.
func (s *Service) Messages(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.chats[chatID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Visible returns the renderable thread: no deleted messages.
func (s *Service) Visible(chatID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return visibleOf(s.chats[chatID])
}

func visibleOf(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

// LastUserTurn returns the most recent non-deleted user message.
func (s *Service) LastUserTurn(chatID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.chats[chatID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser && !msgs[i].IsDeleted {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}

// LastCharacterTurn returns the most recent non-deleted, non-typing message
// from the given character.
func (s *Service) LastCharacterTurn(chatID, characterID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.chats[chatID]
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.CharacterID == characterID && !m.IsUser && !m.IsDeleted && !m.IsTyping {
			return m, true
		}
	}
	return models.Message{}, false
}

// HasAnyExchange reports whether the thread holds at least one visible user
// message and one visible character message. Continue turns are gated on it.
func (s *Service) HasAnyExchange(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hasUser, hasCharacter bool
	for _, m := range s.chats[chatID] {
		if m.IsDeleted {
			continue
		}
		if m.IsUser && !m.IsContinue {
			hasUser = true
		}
		if !m.IsUser && !m.IsSystem && !m.IsTyping && m.CharacterID != "" {
			hasCharacter = true
		}
		if hasUser && hasCharacter {
			return true
		}
	}
	return false
}

func indexOf(msgs []models.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
