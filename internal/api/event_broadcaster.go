package api

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/models"
)

// Event is one Server-Sent Event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventBroadcaster fans chat state changes out to connected SSE clients.
// It implements chat.Notifier, so the conversation core pushes through it
// without knowing about HTTP.
type EventBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a client and returns its event channel.
func (b *EventBroadcaster) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	b.clients[ch] = struct{}{}
	logger.Log.Info("sse_client_subscribed", zap.Int("total_clients", len(b.clients)))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBroadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	logger.Log.Info("sse_client_unsubscribed", zap.Int("total_clients", len(b.clients)))
}

// Broadcast delivers an event to every connected client. Slow clients are
// skipped rather than blocking the conversation core.
func (b *EventBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			logger.Log.Warn("sse_client_channel_full", zap.String("type", event.Type))
		}
	}
}

// MessageAppended implements chat.Notifier.
func (b *EventBroadcaster) MessageAppended(chatID string, msg models.Message) {
	b.Broadcast(Event{Type: "message_appended", Data: map[string]any{
		"chat_id": chatID,
		"message": msg,
	}})
}

// MessageUpdated implements chat.Notifier.
func (b *EventBroadcaster) MessageUpdated(chatID string, msg models.Message) {
	b.Broadcast(Event{Type: "message_updated", Data: map[string]any{
		"chat_id": chatID,
		"message": msg,
	}})
}

// MessageRemoved implements chat.Notifier.
func (b *EventBroadcaster) MessageRemoved(chatID, messageID string) {
	b.Broadcast(Event{Type: "message_removed", Data: map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}})
}

// ClientCount returns the number of connected clients.
func (b *EventBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// FormatSSE renders an event in wire format.
func FormatSSE(event Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n"), nil
}
