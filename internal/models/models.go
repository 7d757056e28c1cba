package models

import "time"

// Character represents a roleplay persona
type Character struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	UserContext     string    `json:"user_context"`
	EnhancedContext string    `json:"enhanced_context,omitempty"`
	ProfilePicture  string    `json:"profile_picture,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Persona returns the text that should drive generation for this character:
// the enhanced context when present, otherwise the raw user-provided context.
func (c Character) Persona() string {
	if c.EnhancedContext != "" {
		return c.EnhancedContext
	}
	return c.UserContext
}

// Message represents a single entry in a chat thread.
// Exactly one of these holds per message: IsUser is true, IsSystem is true,
// or CharacterID is non-empty (a character message).
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	IsUser      bool      `json:"is_user"`
	CharacterID string    `json:"character_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsDeleted   bool      `json:"is_deleted"`
	IsSystem    bool      `json:"is_system,omitempty"`
	IsTyping    bool      `json:"is_typing,omitempty"`
	IsContinue  bool      `json:"is_continue,omitempty"`
	Edited      bool      `json:"edited,omitempty"`
	EditedAt    time.Time `json:"edited_at,omitzero"`
}

// HistoryEntry summarizes one chat thread for the history browser.
// Entries are derived from the message store, never patched in place.
type HistoryEntry struct {
	ChatID             string    `json:"chat_id"`
	Timestamp          time.Time `json:"timestamp"`
	ParticipantIDs     []string  `json:"participant_ids"`
	ParticipantNames   string    `json:"participant_names"`
	MessageCount       int       `json:"message_count"`
	LastMessagePreview string    `json:"last_message_preview"`
	Date               string    `json:"date"`
}

// PersonalContext describes the human side of the conversation
type PersonalContext struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
	Context     string `json:"context"`
}

// IsEmpty reports whether no personal context has been configured.
func (p PersonalContext) IsEmpty() bool {
	return p.Name == "" && p.Personality == "" && p.Context == ""
}

// Settings holds tunable generation and behavior parameters
type Settings struct {
	ModelVersion          string  `json:"model_version"`
	Temperature           float32 `json:"temperature"`
	TopK                  float32 `json:"top_k"`
	TopP                  float32 `json:"top_p"`
	ConversationTokens    int32   `json:"conversation_tokens"`
	EnhancedContextTokens int32   `json:"enhanced_context_tokens"`
	AllowGroupChats       bool    `json:"allow_group_chats"`
	// GenerationTimeoutSec bounds a single generation call so a hanging
	// request cannot leave the send gate held forever. Zero means the
	// default of 120 seconds.
	GenerationTimeoutSec int `json:"generation_timeout_sec"`
}

// DefaultSettings returns the baseline settings; stored settings are merged
// over these so new fields pick up defaults on upgrade.
func DefaultSettings() Settings {
	return Settings{
		ModelVersion:          "gemini-2.0-flash",
		Temperature:           1.0,
		TopK:                  1,
		TopP:                  0.90,
		ConversationTokens:    300,
		EnhancedContextTokens: 2000,
		GenerationTimeoutSec:  120,
	}
}

// GenerationTimeout returns the effective per-call timeout.
func (s Settings) GenerationTimeout() time.Duration {
	if s.GenerationTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(s.GenerationTimeoutSec) * time.Second
}

// GenerationConfig is the parameter block passed to the generation collaborator
type GenerationConfig struct {
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
}

// ConversationConfig derives the config used for chat responses.
func (s Settings) ConversationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     s.Temperature,
		TopK:            s.TopK,
		TopP:            s.TopP,
		MaxOutputTokens: s.ConversationTokens,
	}
}

// EnhanceConfig derives the config used for character enhancement.
func (s Settings) EnhanceConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     s.Temperature,
		TopK:            s.TopK,
		TopP:            s.TopP,
		MaxOutputTokens: s.EnhancedContextTokens,
	}
}

// Role tags one turn in a compiled turn sequence
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one role-tagged entry in a compiled turn sequence
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ExportBundle is the bulk export/import document covering every persisted key
type ExportBundle struct {
	SchemaVersion   int                       `json:"schema_version"`
	ExportDate      time.Time                 `json:"export_date"`
	APIKey          string                    `json:"api_key,omitempty"`
	Characters      []Character               `json:"characters"`
	Chats           map[string][]Message      `json:"chats"`
	Settings        *Settings                 `json:"settings,omitempty"`
	PersonalContext *PersonalContext          `json:"personal_context,omitempty"`
	ChatHistory     map[string][]HistoryEntry `json:"chat_history"`
	LastActiveChats map[string]string         `json:"last_active_chats"`
}
