// Package prompt compiles raw message history into model-consumable form:
// a flat instruction prompt for first-turn and fallback calls, and a
// role-tagged turn sequence for multi-turn streaming calls. The compiler is
// pure; it holds no state and touches no storage.
package prompt

import (
	"fmt"
	"strings"

	"roleplay-chat/internal/models"
)

const (
	// excerptThreshold is the visible-message count above which the middle
	// of the conversation is elided from a flat prompt.
	excerptThreshold = 7
	// excerptHead is how many opening messages are always kept.
	excerptHead = 2
	// excerptTail is how many recent messages are always kept.
	excerptTail = 5
	// siblingPersonaRunes caps the persona summary of other group members.
	siblingPersonaRunes = 150
)

// FlatContext builds the single-string instruction prompt: persona block,
// optional user-persona block, roleplay conventions, a bounded history
// excerpt, and sibling personas for group chats.
func FlatContext(character models.Character, personal models.PersonalContext, visible []models.Message, siblings []models.Character, names map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s. You must maintain your character's personality and traits at all times.\n\n", character.Name)
	b.WriteString("CHARACTER PROFILE:\n")
	b.WriteString(character.Persona())
	b.WriteString("\n")

	if !personal.IsEmpty() {
		b.WriteString("\nABOUT THE PERSON YOU ARE TALKING TO:\n")
		if personal.Name != "" {
			fmt.Fprintf(&b, "Their name is %s. Always use their name when appropriate.\n", personal.Name)
		}
		if personal.Personality != "" {
			fmt.Fprintf(&b, "Their personality: %s\n", personal.Personality)
		}
		if personal.Context != "" {
			fmt.Fprintf(&b, "Additional context about them: %s\n", personal.Context)
		}
	}

	b.WriteString("\nROLEPLAY GUIDELINES:\n")
	fmt.Fprintf(&b, "- Stay in character at all times - you ARE %s\n", character.Name)
	b.WriteString("- Never break character or mention being an AI\n")
	b.WriteString("- Respond naturally based on your character's personality and the user's known traits\n")
	b.WriteString("- Use natural conversational language and emotional responses\n")
	b.WriteString("- For empty messages (continue), advance the conversation naturally while staying in character\n")
	b.WriteString("- Maintain continuity with previous messages and scene\n")
	b.WriteString("- Use *italics* for actions/emotions and __bold__ for emphasis\n")
	b.WriteString("- Use ## for scene descriptions when appropriate\n")
	b.WriteString("- Text in (parentheses) is out-of-character thoughts or context\n")

	writeExcerpt(&b, visible, character, personal, names)

	if len(siblings) > 1 {
		b.WriteString("\n\nOTHER CHARACTERS PRESENT:\n")
		for _, sibling := range siblings {
			if sibling.ID == character.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", sibling.Name, truncateRunes(sibling.Persona(), siblingPersonaRunes))
		}
	}

	return b.String()
}

// writeExcerpt appends the bounded history excerpt: everything when the
// conversation is short, otherwise the first exchange, an elision note, and
// the most recent messages.
func writeExcerpt(b *strings.Builder, visible []models.Message, character models.Character, personal models.PersonalContext, names map[string]string) {
	relevant := make([]models.Message, 0, len(visible))
	for _, m := range visible {
		if m.IsTyping || m.IsSystem {
			continue
		}
		relevant = append(relevant, m)
	}
	if len(relevant) == 0 {
		return
	}

	line := func(m models.Message) string {
		switch {
		case m.IsUser:
			name := personal.Name
			if name == "" {
				name = "User"
			}
			return name + ": " + m.Content
		case m.CharacterID == character.ID:
			return character.Name + ": " + m.Content
		default:
			name := names[m.CharacterID]
			if name == "" {
				name = "Unknown"
			}
			return name + ": " + m.Content
		}
	}

	if len(relevant) <= excerptThreshold {
		b.WriteString("\n\nRECENT CONVERSATION:\n")
		for _, m := range relevant {
			b.WriteString(line(m) + "\n")
		}
		return
	}

	b.WriteString("\n\nCONVERSATION START:\n")
	for _, m := range relevant[:excerptHead] {
		b.WriteString(line(m) + "\n")
	}
	b.WriteString("\n[Several messages exchanged, maintaining the conversation's flow and themes...]\n")
	b.WriteString("\nRECENT CONVERSATION:\n")
	for _, m := range relevant[len(relevant)-excerptTail:] {
		b.WriteString(line(m) + "\n")
	}
}

// FallbackPrompt is the minimal flat prompt used for the single retry after a
// streaming call fails mid-flight.
func FallbackPrompt(character models.Character, lastUserText string) string {
	if lastUserText == "" {
		lastUserText = "Please continue the conversation"
	}
	return fmt.Sprintf(`You are roleplaying as %s.
%s

The user most recently said: %q

Please respond as %s to this message. Keep it brief and in character.`,
		character.Name, character.Persona(), lastUserText, character.Name)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
