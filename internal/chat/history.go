package chat

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

const previewRunes = 50

// HistoryFor returns the history entries for a participant set, newest first.
func (s *Service) HistoryFor(participantIDs []string) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.chatHistory[ParticipantKey(participantIDs)]
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// RecomputeHistory rebuilds the history entries for a participant key from
// current thread contents.
func (s *Service) RecomputeHistory(participantKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeHistoryLocked(participantKey)
}

// recomputeHistoryLocked is the only writer of history entries. It derives
// every entry for the key from the message store; nothing is patched
// incrementally, so the index cannot drift from the threads it summarizes.
func (s *Service) recomputeHistoryLocked(participantKey string) error {
	if participantKey == "" {
		return nil
	}

	var entries []models.HistoryEntry
	for chatID, msgs := range s.chats {
		if KeyForChatID(chatID) != participantKey {
			continue
		}
		visible := visibleOf(msgs)
		if len(visible) == 0 {
			continue
		}
		entries = append(entries, s.buildEntryLocked(chatID, visible))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if len(entries) == 0 {
		delete(s.chatHistory, participantKey)
	} else {
		s.chatHistory[participantKey] = entries
	}
	return s.persistHistoryLocked()
}

func (s *Service) buildEntryLocked(chatID string, visible []models.Message) models.HistoryEntry {
	participantIDs := ParticipantsForChatID(chatID)

	names := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if c, err := s.registry.Get(id); err == nil {
			names = append(names, c.Name)
		}
	}

	last := visible[len(visible)-1]
	preview := last.Content
	// Prefer the most recent non-system message for the preview.
	for i := len(visible) - 1; i >= 0; i-- {
		if !visible[i].IsSystem {
			preview = visible[i].Content
			break
		}
	}

	ts := last.Timestamp
	return models.HistoryEntry{
		ChatID:             chatID,
		Timestamp:          ts,
		ParticipantIDs:     participantIDs,
		ParticipantNames:   strings.Join(names, ", "),
		MessageCount:       len(visible),
		LastMessagePreview: truncateRunes(preview, previewRunes),
		Date:               ts.Format("2006-01-02 15:04"),
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// DeleteHistoryEntry removes a history entry and its underlying thread. If
// the deleted thread was active, the most recent remaining thread for the
// same participants is resumed; failing that a fresh thread is started;
// failing that the active state is cleared.
func (s *Service) DeleteHistoryEntry(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return models.NewNotFoundError("chat", chatID)
	}

	key := KeyForChatID(chatID)
	wasActive := s.session.ActiveChatID == chatID

	delete(s.chats, chatID)
	if err := s.persistChatsLocked(); err != nil {
		return err
	}

	// Drop now-stale last-active pointers.
	changedLastActive := false
	for characterID, active := range s.lastActiveChats {
		if active == chatID {
			delete(s.lastActiveChats, characterID)
			changedLastActive = true
		}
	}
	if changedLastActive {
		if err := s.persistLastActiveLocked(); err != nil {
			return err
		}
	}

	if err := s.recomputeHistoryLocked(key); err != nil {
		return err
	}
	logger.Log.Info("history_entry_deleted", zap.String("chat_id", chatID))

	if !wasActive {
		return nil
	}
	return s.replaceActiveThreadLocked(key)
}

// replaceActiveThreadLocked re-anchors the session after its thread was
// deleted: resume the newest remaining thread for the same participants,
// else start a fresh one, else clear the active state.
func (s *Service) replaceActiveThreadLocked(participantKey string) error {
	if remaining := s.chatHistory[participantKey]; len(remaining) > 0 {
		return s.activateThreadLocked(remaining[0].ChatID)
	}

	participantIDs := strings.Split(participantKey, "+")
	names := make([]string, 0, len(participantIDs))
	live := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if c, err := s.registry.Get(id); err == nil {
			live = append(live, id)
			names = append(names, c.Name)
		}
	}
	if len(live) == 0 {
		s.session.ActiveChatID = ""
		s.session.ActiveCharacters = nil
		s.session.SelectedCharacterIDs = nil
		return nil
	}

	chatID := NewChatID(live, nowFunc())
	if err := s.ensureThreadLocked(chatID, names); err != nil {
		return err
	}
	return s.activateThreadLocked(chatID)
}
