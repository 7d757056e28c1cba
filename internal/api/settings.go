package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"roleplay-chat/internal/chat"
	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/models"
	"roleplay-chat/internal/registry"
	"roleplay-chat/internal/store"
)

// SettingsHandler handles settings, personal context, API key and
// export/import requests.
type SettingsHandler struct {
	store     *store.Store
	chats     *chat.Service
	registry  *registry.Registry
	generator *gen.Client
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(st *store.Store, chats *chat.Service, reg *registry.Registry, generator *gen.Client) *SettingsHandler {
	return &SettingsHandler{store: st, chats: chats, registry: reg, generator: generator}
}

// GetSettings handles GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chats.Settings())
}

// UpdateSettings handles PUT /api/settings. The body is merged over the
// current settings, so partial updates keep unmentioned fields.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.chats.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.chats.UpdateSettings(settings); err != nil {
		writeError(w, err)
		return
	}
	h.generator.SetModel(settings.ModelVersion)
	writeJSON(w, http.StatusOK, settings)
}

// GetPersonalContext handles GET /api/personal-context
func (h *SettingsHandler) GetPersonalContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chats.PersonalContext())
}

// UpdatePersonalContext handles PUT /api/personal-context
func (h *SettingsHandler) UpdatePersonalContext(w http.ResponseWriter, r *http.Request) {
	var p models.PersonalContext
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.chats.UpdatePersonalContext(p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// APIKeyRequest carries a credential for the generation backend.
type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}

// SetAPIKey handles PUT /api/key. The key is stored and the generator is
// rebuilt with it.
func (h *SettingsHandler) SetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req APIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeError(w, models.NewValidationError("api_key", "api_key is required"))
		return
	}

	if err := h.generator.SetAPIKey(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Put(store.KeyAPIKey, key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyAPIKey handles POST /api/key/verify with one live round trip.
func (h *SettingsHandler) VerifyAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.generator.VerifyKey(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

// Export handles GET /api/export and returns the full data bundle.
func (h *SettingsHandler) Export(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.store.Export()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="roleplay-chat-export.json"`)
	writeJSON(w, http.StatusOK, bundle)
}

// Import handles POST /api/import. The bundle replaces every persisted key,
// then the in-memory layers reload from the store.
func (h *SettingsHandler) Import(w http.ResponseWriter, r *http.Request) {
	var bundle models.ExportBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.Import(&bundle); err != nil {
		writeError(w, err)
		return
	}
	if err := h.registry.Reload(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.chats.Reload(); err != nil {
		writeError(w, err)
		return
	}
	if bundle.APIKey != "" {
		if err := h.generator.SetAPIKey(r.Context(), bundle.APIKey); err != nil {
			writeError(w, err)
			return
		}
	}
	h.generator.SetModel(h.chats.Settings().ModelVersion)
	w.WriteHeader(http.StatusNoContent)
}
