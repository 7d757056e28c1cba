package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"roleplay-chat/internal/chat"
	"roleplay-chat/internal/models"
	"roleplay-chat/internal/orchestrator"
)

// ChatHandler handles session, message and history HTTP requests.
type ChatHandler struct {
	chats        *chat.Service
	orchestrator *orchestrator.Orchestrator
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats *chat.Service, orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{chats: chats, orchestrator: orch}
}

// StartChatRequest is the request body for opening a chat.
type StartChatRequest struct {
	CharacterIDs []string `json:"character_ids"`
	ForceNew     bool     `json:"force_new,omitempty"`
}

// SessionResponse describes the active session.
type SessionResponse struct {
	ActiveChatID         string             `json:"active_chat_id"`
	SelectedCharacterIDs []string           `json:"selected_character_ids"`
	ActiveCharacters     []models.Character `json:"active_characters"`
	ResponseInProgress   bool               `json:"response_in_progress"`
}

func (h *ChatHandler) sessionResponse() SessionResponse {
	s := h.chats.CurrentSession()
	return SessionResponse{
		ActiveChatID:         s.ActiveChatID,
		SelectedCharacterIDs: s.SelectedCharacterIDs,
		ActiveCharacters:     s.ActiveCharacters,
		ResponseInProgress:   s.ResponseInProgress,
	}
}

// StartChat handles POST /api/chats
func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.CharacterIDs) == 0 {
		writeError(w, models.NewValidationError("character_ids", "at least one character is required"))
		return
	}

	chatID, err := h.chats.StartChat(req.CharacterIDs, req.ForceNew)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"session": h.sessionResponse(),
	})
}

// Session handles GET /api/session
func (h *ChatHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// ClearSession handles DELETE /api/session
func (h *ChatHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	h.chats.ClearActiveChat()
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/chats/{id}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chats.Visible(r.PathValue("id")))
}

// SendTurnRequest is the request body for submitting a turn. An empty or
// whitespace-only text asks the characters to continue on their own.
type SendTurnRequest struct {
	Text string `json:"text"`
}

// SendTurn handles POST /api/turns
func (h *ChatHandler) SendTurn(w http.ResponseWriter, r *http.Request) {
	var req SendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.SendTurn(r.Context(), req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chats.Visible(h.chats.ActiveChatID()))
}

// RegenerateRequest names the character whose last response is redone.
type RegenerateRequest struct {
	CharacterID string `json:"character_id"`
}

// Regenerate handles POST /api/turns/regenerate
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CharacterID == "" {
		writeError(w, models.NewValidationError("character_id", "character_id is required"))
		return
	}

	if err := h.orchestrator.RegenerateLast(r.Context(), req.CharacterID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chats.Visible(h.chats.ActiveChatID()))
}

// EditMessageRequest is the request body for editing a message.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PUT /api/chats/{id}/messages/{message_id}
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.chats.Edit(r.PathValue("id"), r.PathValue("message_id"), req.Content); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chats.Visible(r.PathValue("id")))
}

// DeleteMessage handles DELETE /api/chats/{id}/messages/{message_id}
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.SoftDelete(r.PathValue("id"), r.PathValue("message_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/history. An optional character_ids query filters
// to threads of exactly those participants.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query().Get("character_ids")
	if ids == "" {
		active := h.chats.CurrentSession().SelectedCharacterIDs
		writeJSON(w, http.StatusOK, h.chats.HistoryFor(active))
		return
	}
	writeJSON(w, http.StatusOK, h.chats.HistoryFor(strings.Split(ids, ",")))
}

// ResumeChat handles POST /api/history/{chat_id}/resume
func (h *ChatHandler) ResumeChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.ResumeChat(r.PathValue("chat_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse())
}

// DeleteHistoryEntry handles DELETE /api/history/{chat_id}
func (h *ChatHandler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.DeleteHistoryEntry(r.PathValue("chat_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionResponse())
}
