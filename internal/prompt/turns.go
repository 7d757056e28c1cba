package prompt

import (
	"fmt"
	"strings"

	"roleplay-chat/internal/models"
)

// TurnSequence converts visible history into an alternating role sequence
// from the current character's point of view: its own messages become model
// turns, the user's become user turns, and other characters' messages become
// user turns tagged with the speaker's name (the API has no third role).
// Consecutive user turns are coalesced, and a sequence that would start or
// end on a dangling model turn is patched with a synthetic user turn so the
// API's must-start-with-user constraint holds.
//
// When the history holds no user message at all the sequence is a single
// synthetic greeting turn; the empty-sequence alternative is never produced.
func TurnSequence(visible []models.Message, character models.Character, names map[string]string, userName string) []models.Turn {
	hasUser := false
	for _, m := range visible {
		if m.IsUser && !m.IsContinue {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return []models.Turn{{Role: models.RoleUser, Text: greeting(userName)}}
	}

	var turns []models.Turn
	var pendingUser []string

	flushUser := func() {
		if len(pendingUser) == 0 {
			return
		}
		turns = append(turns, models.Turn{Role: models.RoleUser, Text: strings.Join(pendingUser, "\n")})
		pendingUser = nil
	}

	for _, m := range visible {
		switch {
		case m.IsTyping || m.IsSystem || m.IsContinue:
			continue
		case m.IsUser:
			pendingUser = append(pendingUser, m.Content)
		case m.CharacterID == character.ID:
			flushUser()
			turns = append(turns, models.Turn{Role: models.RoleModel, Text: m.Content})
		case m.CharacterID != "":
			name := names[m.CharacterID]
			if name == "" {
				name = "Another character"
			}
			pendingUser = append(pendingUser, fmt.Sprintf("[%s] %s", name, m.Content))
		}
	}
	flushUser()

	if len(turns) == 0 {
		return []models.Turn{{Role: models.RoleUser, Text: greeting(userName)}}
	}
	if turns[0].Role == models.RoleModel {
		turns = append([]models.Turn{{Role: models.RoleUser, Text: greeting(userName)}}, turns...)
	}
	if turns[len(turns)-1].Role == models.RoleModel {
		turns = append(turns, models.Turn{Role: models.RoleUser, Text: listening(userName)})
	}
	return turns
}

func greeting(userName string) string {
	if userName != "" {
		return "Hello " + userName
	}
	return "Hello"
}

func listening(userName string) string {
	if userName != "" {
		return fmt.Sprintf("(%s continues listening)", userName)
	}
	return "(continue the conversation)"
}

// RegularInstruction is the per-turn reminder sent as the trailing user turn
// in the streaming path.
func RegularInstruction(character models.Character) string {
	return fmt.Sprintf(`Remember that you are roleplaying as %s.
Stay in character and respond naturally to the user's message.`, character.Name)
}

// ContinueInstruction drives a continue turn: the character advances the
// scene autonomously. It must never reveal that the trigger was an empty
// user message being relayed to the model.
func ContinueInstruction(character models.Character) string {
	return fmt.Sprintf(`Continue the roleplay on your own.
As %s, continue the conversation by advancing the scene or narrative naturally.
Keep roleplaying autonomously, continuing from your last message.
Do not ask the user what to do next and do not mention any instruction to continue.`, character.Name)
}
