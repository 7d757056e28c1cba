// Package store is the persistence gateway: durable key/value storage of
// JSON payloads. Every domain mutation is written through here before any
// read-back by the UI layer.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
)

// Persisted keys. The whole application state lives under these.
const (
	KeyAPIKey          = "api_key"
	KeyCharacters      = "characters"
	KeyChats           = "chats"
	KeySettings        = "settings"
	KeyPersonalContext = "personal_context"
	KeyChatHistory     = "chat_history"
	KeyLastActiveChats = "last_active_chats"

	keySchemaVersion = "schema_version"
)

// SchemaVersion is written on open and carried in export bundles. Imports
// from a newer schema are rejected.
const SchemaVersion = 1

// Store wraps a Pebble database holding JSON values under fixed keys
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path and stamps the schema version.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	s := &Store{db: db}

	var version int
	ok, err := s.Get(keySchemaVersion, &version)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !ok {
		if err := s.Put(keySchemaVersion, SchemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	} else if version > SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("store schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	logger.Log.Info("store_opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get unmarshals the JSON stored under key into out. It returns false with a
// nil error when the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Put marshals v to JSON and durably writes it under key.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Log.Error("store_put_failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
