package api

import (
	"encoding/json"
	"net/http"

	"roleplay-chat/internal/models"
	"roleplay-chat/internal/registry"
)

// CharacterHandler handles character-related HTTP requests.
type CharacterHandler struct {
	registry *registry.Registry
}

// NewCharacterHandler creates a new character handler.
func NewCharacterHandler(reg *registry.Registry) *CharacterHandler {
	return &CharacterHandler{registry: reg}
}

// CharacterRequest is the request body for creating or updating a character.
type CharacterRequest struct {
	Name           string `json:"name"`
	Context        string `json:"context"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// CharacterResponse represents a character in API responses.
type CharacterResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Context         string `json:"context"`
	EnhancedContext string `json:"enhanced_context,omitempty"`
	ProfilePicture  string `json:"profile_picture,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toCharacterResponse(c models.Character) CharacterResponse {
	return CharacterResponse{
		ID:              c.ID,
		Name:            c.Name,
		Context:         c.UserContext,
		EnhancedContext: c.EnhancedContext,
		ProfilePicture:  c.ProfilePicture,
		CreatedAt:       c.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Create handles POST /api/characters
func (h *CharacterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	character, err := h.registry.Create(req.Name, req.Context, req.ProfilePicture)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCharacterResponse(character))
}

// List handles GET /api/characters
func (h *CharacterHandler) List(w http.ResponseWriter, r *http.Request) {
	characters := h.registry.All()
	response := make([]CharacterResponse, len(characters))
	for i, c := range characters {
		response[i] = toCharacterResponse(c)
	}
	writeJSON(w, http.StatusOK, response)
}

// Get handles GET /api/characters/{id}
func (h *CharacterHandler) Get(w http.ResponseWriter, r *http.Request) {
	character, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCharacterResponse(character))
}

// Update handles PUT /api/characters/{id}
func (h *CharacterHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req CharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	character, err := h.registry.Update(r.PathValue("id"), req.Name, req.Context, req.ProfilePicture)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCharacterResponse(character))
}

// Delete handles DELETE /api/characters/{id}
func (h *CharacterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enhance handles POST /api/characters/{id}/enhance
func (h *CharacterHandler) Enhance(w http.ResponseWriter, r *http.Request) {
	character, err := h.registry.Enhance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCharacterResponse(character))
}
