package store

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

// Export bundles every persisted key into a single document.
func (s *Store) Export() (*models.ExportBundle, error) {
	bundle := &models.ExportBundle{
		SchemaVersion:   SchemaVersion,
		ExportDate:      time.Now().UTC(),
		Chats:           map[string][]models.Message{},
		ChatHistory:     map[string][]models.HistoryEntry{},
		LastActiveChats: map[string]string{},
	}

	if _, err := s.Get(KeyAPIKey, &bundle.APIKey); err != nil {
		return nil, err
	}
	if _, err := s.Get(KeyCharacters, &bundle.Characters); err != nil {
		return nil, err
	}
	if _, err := s.Get(KeyChats, &bundle.Chats); err != nil {
		return nil, err
	}
	if _, err := s.Get(KeyChatHistory, &bundle.ChatHistory); err != nil {
		return nil, err
	}
	if _, err := s.Get(KeyLastActiveChats, &bundle.LastActiveChats); err != nil {
		return nil, err
	}

	var settings models.Settings
	if ok, err := s.Get(KeySettings, &settings); err != nil {
		return nil, err
	} else if ok {
		bundle.Settings = &settings
	}

	var personal models.PersonalContext
	if ok, err := s.Get(KeyPersonalContext, &personal); err != nil {
		return nil, err
	} else if ok {
		bundle.PersonalContext = &personal
	}

	logger.Log.Info("data_exported",
		zap.Int("characters", len(bundle.Characters)),
		zap.Int("chats", len(bundle.Chats)))
	return bundle, nil
}

// Import overwrites every persisted key from the bundle. Callers are expected
// to have confirmed the overwrite and must reload all in-memory state from
// the gateway afterwards.
func (s *Store) Import(bundle *models.ExportBundle) error {
	if bundle == nil {
		return fmt.Errorf("nil import bundle")
	}
	if bundle.SchemaVersion > SchemaVersion {
		return fmt.Errorf("import schema version %d is newer than supported version %d", bundle.SchemaVersion, SchemaVersion)
	}

	if err := s.Put(KeyAPIKey, bundle.APIKey); err != nil {
		return err
	}
	if err := s.Put(KeyCharacters, bundle.Characters); err != nil {
		return err
	}
	if err := s.Put(KeyChats, bundle.Chats); err != nil {
		return err
	}
	if err := s.Put(KeyChatHistory, bundle.ChatHistory); err != nil {
		return err
	}
	if err := s.Put(KeyLastActiveChats, bundle.LastActiveChats); err != nil {
		return err
	}

	settings := models.DefaultSettings()
	if bundle.Settings != nil {
		settings = *bundle.Settings
	}
	if err := s.Put(KeySettings, settings); err != nil {
		return err
	}

	personal := models.PersonalContext{}
	if bundle.PersonalContext != nil {
		personal = *bundle.PersonalContext
	}
	if err := s.Put(KeyPersonalContext, personal); err != nil {
		return err
	}

	if err := s.Put(keySchemaVersion, SchemaVersion); err != nil {
		return err
	}

	logger.Log.Info("data_imported",
		zap.Int("characters", len(bundle.Characters)),
		zap.Int("chats", len(bundle.Chats)))
	return nil
}
