// Package registry owns character records: CRUD plus persona enhancement.
// Characters are referenced by ID everywhere else; the registry is the only
// writer of the persisted character list.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
	"roleplay-chat/internal/store"
)

// ChatCascade receives character deletions so dependent conversation state
// (selection, snapshots, threads, last-active pointers) can be cleared.
type ChatCascade interface {
	CharacterDeleted(id string) error
	CharacterUpdated(character models.Character)
}

// Registry provides CRUD over character records
type Registry struct {
	store *store.Store

	mu         sync.RWMutex
	characters []models.Character
	cascade    ChatCascade
	generator  gen.Generator
	settings   func() models.Settings
}

// New creates a registry and loads the persisted character list.
func New(st *store.Store) (*Registry, error) {
	r := &Registry{store: st}
	if _, err := st.Get(store.KeyCharacters, &r.characters); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory list with the persisted one. Used after a
// bulk import rewrites the store underneath the registry.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var characters []models.Character
	if _, err := r.store.Get(store.KeyCharacters, &characters); err != nil {
		return err
	}
	r.characters = characters
	logger.Log.Info("registry_reloaded", zap.Int("characters", len(characters)))
	return nil
}

// SetChatCascade wires the conversation layer for delete/update propagation.
func (r *Registry) SetChatCascade(c ChatCascade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascade = c
}

// All returns a copy of every character, newest first.
func (r *Registry) All() []models.Character {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Character, len(r.characters))
	copy(out, r.characters)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns the character with the given id.
func (r *Registry) Get(id string) (models.Character, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.characters {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Character{}, models.NewNotFoundError("character", id)
}

// Create validates and stores a new character.
func (r *Registry) Create(name, userContext, profilePicture string) (models.Character, error) {
	name = strings.TrimSpace(name)
	userContext = strings.TrimSpace(userContext)
	if name == "" {
		return models.Character{}, models.NewValidationError("name", "must not be empty")
	}
	if userContext == "" {
		return models.Character{}, models.NewValidationError("user_context", "must not be empty")
	}

	character := models.Character{
		ID:             uuid.NewString(),
		Name:           name,
		UserContext:    userContext,
		ProfilePicture: profilePicture,
		CreatedAt:      time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.characters = append(r.characters, character)
	if err := r.persistLocked(); err != nil {
		r.characters = r.characters[:len(r.characters)-1]
		return models.Character{}, err
	}

	logger.Log.Info("character_created",
		zap.String("character_id", character.ID),
		zap.String("name", character.Name))
	return character, nil
}

// Update replaces a character's name, context and picture. The enhanced
// context is always cleared: enhanced text must never describe a persona the
// user no longer owns.
func (r *Registry) Update(id, name, userContext, profilePicture string) (models.Character, error) {
	name = strings.TrimSpace(name)
	userContext = strings.TrimSpace(userContext)
	if name == "" {
		return models.Character{}, models.NewValidationError("name", "must not be empty")
	}
	if userContext == "" {
		return models.Character{}, models.NewValidationError("user_context", "must not be empty")
	}

	r.mu.Lock()
	var updated models.Character
	found := false
	for i := range r.characters {
		if r.characters[i].ID != id {
			continue
		}
		r.characters[i].Name = name
		r.characters[i].UserContext = userContext
		r.characters[i].ProfilePicture = profilePicture
		r.characters[i].EnhancedContext = ""
		updated = r.characters[i]
		found = true
		break
	}
	if !found {
		r.mu.Unlock()
		return models.Character{}, models.NewNotFoundError("character", id)
	}
	if err := r.persistLocked(); err != nil {
		r.mu.Unlock()
		return models.Character{}, err
	}
	cascade := r.cascade
	r.mu.Unlock()

	if cascade != nil {
		cascade.CharacterUpdated(updated)
	}

	logger.Log.Info("character_updated", zap.String("character_id", id))
	return updated, nil
}

// Delete removes a character. Unknown ids are a no-op. Dependent conversation
// state is cleared through the cascade: selection, active snapshot, the
// last-active pointer, and every thread the character participates in.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	kept := r.characters[:0]
	found := false
	for _, c := range r.characters {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		r.mu.Unlock()
		return nil
	}
	r.characters = kept
	if err := r.persistLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	cascade := r.cascade
	r.mu.Unlock()

	if cascade != nil {
		if err := cascade.CharacterDeleted(id); err != nil {
			return err
		}
	}

	logger.Log.Info("character_deleted", zap.String("character_id", id))
	return nil
}

// persistLocked writes the character list through the gateway. Caller holds mu.
func (r *Registry) persistLocked() error {
	return r.store.Put(store.KeyCharacters, r.characters)
}

// setEnhancedContext stores enhancement output for a character.
func (r *Registry) setEnhancedContext(id, enhanced string) (models.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.characters {
		if r.characters[i].ID != id {
			continue
		}
		r.characters[i].EnhancedContext = enhanced
		if err := r.persistLocked(); err != nil {
			return models.Character{}, err
		}
		return r.characters[i], nil
	}
	return models.Character{}, models.NewNotFoundError("character", id)
}
