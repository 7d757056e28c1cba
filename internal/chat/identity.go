package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

// Chat identity. The canonical key for a participant set is the sorted IDs
// joined with "+"; a concrete thread id is either that key (the lazily created
// default thread) or the key plus an "@<unix-millis>" suffix forcing a fresh
// thread for the same participants. Participant IDs are UUIDs, so "+" and "@"
// never collide with id content.

// NewChatID derives a fresh thread id for the same participant set.
func NewChatID(participantIDs []string, at time.Time) string {
	return fmt.Sprintf("%s@%d", ParticipantKey(participantIDs), at.UnixMilli())
}

// ParticipantKey returns the canonical grouping key for a participant set.
func ParticipantKey(participantIDs []string) string {
	ids := make([]string, len(participantIDs))
	copy(ids, participantIDs)
	sort.Strings(ids)
	return strings.Join(ids, "+")
}

// KeyForChatID recovers the participant key from a thread id.
func KeyForChatID(chatID string) string {
	key, _, _ := strings.Cut(chatID, "@")
	return key
}

// ParticipantsForChatID recovers the participant id set from a thread id.
func ParticipantsForChatID(chatID string) []string {
	key := KeyForChatID(chatID)
	if key == "" {
		return nil
	}
	return strings.Split(key, "+")
}

// EnsureThread creates an empty message list for chatID if absent and seeds a
// freshly created thread with a system "conversation started" message so the
// thread is never silently empty. participantNames feeds the seed message.
func (s *Service) EnsureThread(chatID string, participantNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureThreadLocked(chatID, participantNames)
}

func (s *Service) ensureThreadLocked(chatID string, participantNames []string) error {
	if msgs, ok := s.chats[chatID]; ok && len(msgs) > 0 {
		return nil
	}

	seed := models.Message{
		ID:        uuid.NewString(),
		Content:   "New conversation started with " + strings.Join(participantNames, ", "),
		IsSystem:  true,
		Timestamp: time.Now().UTC(),
	}
	s.chats[chatID] = []models.Message{seed}
	if err := s.persistChatsLocked(); err != nil {
		return err
	}
	if err := s.recomputeHistoryLocked(KeyForChatID(chatID)); err != nil {
		return err
	}

	logger.Log.Info("thread_created", zap.String("chat_id", chatID))
	s.notifyAppended(chatID, seed)
	return nil
}

// SetLastActive records chatID as the last active thread for a character.
// The upsert is idempotent.
func (s *Service) SetLastActive(characterID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLastActiveLocked(characterID, chatID)
}

func (s *Service) setLastActiveLocked(characterID, chatID string) error {
	if s.lastActiveChats[characterID] == chatID {
		return nil
	}
	s.lastActiveChats[characterID] = chatID
	return s.persistLastActiveLocked()
}

// LastActiveChat returns the last active thread id for a character, if any.
func (s *Service) LastActiveChat(characterID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lastActiveChats[characterID]
	return id, ok
}
