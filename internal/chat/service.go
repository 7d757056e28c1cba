// Package chat owns conversation state: chat-thread identity, the per-thread
// message store, the derived history index, and the active session. All
// mutations go through the persistence gateway before any caller reads back.
package chat

import (
	"sync"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
	"roleplay-chat/internal/registry"
	"roleplay-chat/internal/store"
)

// Notifier receives state-change events so the UI layer can re-render.
// Implementations must not block.
type Notifier interface {
	MessageAppended(chatID string, msg models.Message)
	MessageUpdated(chatID string, msg models.Message)
	MessageRemoved(chatID, messageID string)
}

// Service is the conversation core shared by the orchestrator and the API.
type Service struct {
	store    *store.Store
	registry *registry.Registry

	mu              sync.Mutex
	chats           map[string][]models.Message
	chatHistory     map[string][]models.HistoryEntry
	lastActiveChats map[string]string
	settings        models.Settings
	personal        models.PersonalContext
	session         Session

	notifier Notifier
}

// Session is the explicit session-state struct: which thread is active, which
// characters are selected, their snapshot, and the single response gate.
type Session struct {
	ActiveChatID         string
	SelectedCharacterIDs []string
	ActiveCharacters     []models.Character
	ResponseInProgress   bool
}

// New creates the service and loads all persisted conversation state.
func New(st *store.Store, reg *registry.Registry) (*Service, error) {
	s := &Service{store: st, registry: reg}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetNotifier wires the UI event sink.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Reload re-reads every persisted key, dropping in-memory state. Called at
// startup and after a bulk import. Stored settings are merged over defaults
// so new fields pick up their zero-configuration values.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = map[string][]models.Message{}
	s.chatHistory = map[string][]models.HistoryEntry{}
	s.lastActiveChats = map[string]string{}
	s.session = Session{}

	if _, err := s.store.Get(store.KeyChats, &s.chats); err != nil {
		return err
	}
	if _, err := s.store.Get(store.KeyChatHistory, &s.chatHistory); err != nil {
		return err
	}
	if _, err := s.store.Get(store.KeyLastActiveChats, &s.lastActiveChats); err != nil {
		return err
	}

	s.settings = models.DefaultSettings()
	if _, err := s.store.Get(store.KeySettings, &s.settings); err != nil {
		return err
	}
	s.personal = models.PersonalContext{}
	if _, err := s.store.Get(store.KeyPersonalContext, &s.personal); err != nil {
		return err
	}

	logger.Log.Info("chat_state_loaded",
		zap.Int("threads", len(s.chats)),
		zap.Int("history_keys", len(s.chatHistory)))
	return nil
}

// Settings returns the current settings.
func (s *Service) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings persists new settings.
func (s *Service) UpdateSettings(settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Put(store.KeySettings, settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// PersonalContext returns the configured user persona.
func (s *Service) PersonalContext() models.PersonalContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personal
}

// UpdatePersonalContext persists the user persona.
func (s *Service) UpdatePersonalContext(p models.PersonalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Put(store.KeyPersonalContext, p); err != nil {
		return err
	}
	s.personal = p
	return nil
}

// persistChatsLocked writes the full chat map through the gateway.
func (s *Service) persistChatsLocked() error {
	return s.store.Put(store.KeyChats, s.chats)
}

// persistHistoryLocked writes the history index through the gateway.
func (s *Service) persistHistoryLocked() error {
	return s.store.Put(store.KeyChatHistory, s.chatHistory)
}

// persistLastActiveLocked writes the last-active map through the gateway.
func (s *Service) persistLastActiveLocked() error {
	return s.store.Put(store.KeyLastActiveChats, s.lastActiveChats)
}

func (s *Service) notifyAppended(chatID string, msg models.Message) {
	if s.notifier != nil {
		s.notifier.MessageAppended(chatID, msg)
	}
}

func (s *Service) notifyUpdated(chatID string, msg models.Message) {
	if s.notifier != nil {
		s.notifier.MessageUpdated(chatID, msg)
	}
}

func (s *Service) notifyRemoved(chatID, messageID string) {
	if s.notifier != nil {
		s.notifier.MessageRemoved(chatID, messageID)
	}
}
