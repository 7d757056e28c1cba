package prompt

import (
	"strings"
	"testing"

	"go.uber.org/goleak"

	"roleplay-chat/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var nova = models.Character{ID: "nova", Name: "Nova", UserContext: "A starship pilot"}
var rex = models.Character{ID: "rex", Name: "Rex", UserContext: "A grumpy mechanic"}

var testNames = map[string]string{"nova": "Nova", "rex": "Rex"}

func user(content string) models.Message {
	return models.Message{IsUser: true, Content: content}
}

func from(characterID, content string) models.Message {
	return models.Message{CharacterID: characterID, Content: content}
}

func assertAlternating(t *testing.T, turns []models.Turn) {
	t.Helper()
	if len(turns) == 0 {
		t.Fatal("expected non-empty turn sequence")
	}
	if turns[0].Role != models.RoleUser {
		t.Errorf("expected sequence to start with a user turn, got %s", turns[0].Role)
	}
	if turns[len(turns)-1].Role != models.RoleUser {
		t.Errorf("expected sequence to end with a user turn, got %s", turns[len(turns)-1].Role)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Role == turns[i-1].Role {
			t.Errorf("expected alternating roles, got %s twice at %d", turns[i].Role, i)
		}
	}
}

func TestTurnSequence_NoUserMessage(t *testing.T) {
	visible := []models.Message{from("nova", "I speak first")}

	turns := TurnSequence(visible, nova, testNames, "")
	if len(turns) != 1 {
		t.Fatalf("expected single greeting turn, got %d", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[0].Text != "Hello" {
		t.Errorf("unexpected greeting turn: %+v", turns[0])
	}
}

func TestTurnSequence_GreetingUsesUserName(t *testing.T) {
	turns := TurnSequence(nil, nova, testNames, "Sam")
	if len(turns) != 1 || turns[0].Text != "Hello Sam" {
		t.Errorf("expected personalized greeting, got %+v", turns)
	}
}

func TestTurnSequence_SimpleExchange(t *testing.T) {
	visible := []models.Message{
		user("hello there"),
		from("nova", "greetings"),
		user("how are you"),
	}

	turns := TurnSequence(visible, nova, testNames, "")
	assertAlternating(t, turns)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[1].Role != models.RoleModel || turns[1].Text != "greetings" {
		t.Errorf("expected own message as model turn, got %+v", turns[1])
	}
}

func TestTurnSequence_OtherCharactersTaggedAndCoalesced(t *testing.T) {
	visible := []models.Message{
		user("hi both"),
		from("rex", "hmph"),
		from("nova", "welcome aboard"),
	}

	turns := TurnSequence(visible, nova, testNames, "")
	assertAlternating(t, turns)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	// The user message and Rex's line collapse into one user turn.
	if !strings.Contains(turns[0].Text, "hi both") || !strings.Contains(turns[0].Text, "[Rex] hmph") {
		t.Errorf("expected coalesced user turn with tagged speaker, got %q", turns[0].Text)
	}
	if turns[1].Text != "welcome aboard" {
		t.Errorf("expected own turn untagged, got %q", turns[1].Text)
	}
}

func TestTurnSequence_LeadingModelGetsGreeting(t *testing.T) {
	visible := []models.Message{
		from("nova", "I open the scene"),
		user("nice opening"),
	}

	turns := TurnSequence(visible, nova, testNames, "")
	assertAlternating(t, turns)
	if turns[0].Text != "Hello" {
		t.Errorf("expected synthetic greeting before leading model turn, got %q", turns[0].Text)
	}
}

func TestTurnSequence_TrailingModelGetsListening(t *testing.T) {
	visible := []models.Message{
		user("say something"),
		from("nova", "something"),
	}

	turns := TurnSequence(visible, nova, testNames, "Sam")
	assertAlternating(t, turns)
	last := turns[len(turns)-1]
	if !strings.Contains(last.Text, "Sam continues listening") {
		t.Errorf("expected listening turn, got %q", last.Text)
	}
}

func TestTurnSequence_SkipsTransientMessages(t *testing.T) {
	visible := []models.Message{
		user("hello"),
		{IsSystem: true, Content: "New conversation started with Nova"},
		{IsTyping: true, CharacterID: "nova"},
		{IsUser: true, IsContinue: true},
		from("nova", "hi"),
	}

	turns := TurnSequence(visible, nova, testNames, "")
	assertAlternating(t, turns)
	for _, turn := range turns {
		if strings.Contains(turn.Text, "New conversation started") {
			t.Errorf("expected system message to be excluded, got %q", turn.Text)
		}
	}
}

func TestInstructions_NameTheCharacter(t *testing.T) {
	if !strings.Contains(RegularInstruction(nova), "Nova") {
		t.Error("expected regular instruction to name the character")
	}
	cont := ContinueInstruction(nova)
	if !strings.Contains(cont, "Nova") {
		t.Error("expected continue instruction to name the character")
	}
	if strings.Contains(strings.ToLower(cont), "empty message") {
		t.Error("continue instruction must not reveal the empty-message trigger")
	}
}
