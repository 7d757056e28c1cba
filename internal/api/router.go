package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roleplay-chat/internal/chat"
	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/orchestrator"
	"roleplay-chat/internal/registry"
	"roleplay-chat/internal/store"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Router holds the HTTP multiplexer and dependencies
type Router struct {
	mux              *http.ServeMux
	characterHandler *CharacterHandler
	chatHandler      *ChatHandler
	settingsHandler  *SettingsHandler
	eventsHandler    *EventsHandler
	broadcaster      *EventBroadcaster
	staticDir        string
}

// NewRouter creates a new router with all routes configured. The broadcaster
// is wired into the chat service so every state change reaches SSE clients.
func NewRouter(st *store.Store, reg *registry.Registry, chats *chat.Service, orch *orchestrator.Orchestrator, generator *gen.Client, staticDir string) *Router {
	broadcaster := NewEventBroadcaster()
	chats.SetNotifier(broadcaster)

	r := &Router{
		mux:              http.NewServeMux(),
		characterHandler: NewCharacterHandler(reg),
		chatHandler:      NewChatHandler(chats, orch),
		settingsHandler:  NewSettingsHandler(st, chats, reg, generator),
		eventsHandler:    NewEventsHandler(broadcaster),
		broadcaster:      broadcaster,
		staticDir:        staticDir,
	}
	r.setupRoutes()
	return r
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes() {
	// Health check and metrics
	r.mux.HandleFunc("GET /health", HealthHandler)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Character routes
	r.mux.HandleFunc("GET /api/characters", r.characterHandler.List)
	r.mux.HandleFunc("POST /api/characters", r.characterHandler.Create)
	r.mux.HandleFunc("GET /api/characters/{id}", r.characterHandler.Get)
	r.mux.HandleFunc("PUT /api/characters/{id}", r.characterHandler.Update)
	r.mux.HandleFunc("DELETE /api/characters/{id}", r.characterHandler.Delete)
	r.mux.HandleFunc("POST /api/characters/{id}/enhance", r.characterHandler.Enhance)

	// Session and chat routes
	r.mux.HandleFunc("POST /api/chats", r.chatHandler.StartChat)
	r.mux.HandleFunc("GET /api/session", r.chatHandler.Session)
	r.mux.HandleFunc("DELETE /api/session", r.chatHandler.ClearSession)
	r.mux.HandleFunc("GET /api/chats/{id}/messages", r.chatHandler.Messages)
	r.mux.HandleFunc("PUT /api/chats/{id}/messages/{message_id}", r.chatHandler.EditMessage)
	r.mux.HandleFunc("DELETE /api/chats/{id}/messages/{message_id}", r.chatHandler.DeleteMessage)

	// Turn routes
	r.mux.HandleFunc("POST /api/turns", r.chatHandler.SendTurn)
	r.mux.HandleFunc("POST /api/turns/regenerate", r.chatHandler.Regenerate)

	// History routes
	r.mux.HandleFunc("GET /api/history", r.chatHandler.History)
	r.mux.HandleFunc("POST /api/history/{chat_id}/resume", r.chatHandler.ResumeChat)
	r.mux.HandleFunc("DELETE /api/history/{chat_id}", r.chatHandler.DeleteHistoryEntry)

	// Settings, personal context and credential routes
	r.mux.HandleFunc("GET /api/settings", r.settingsHandler.GetSettings)
	r.mux.HandleFunc("PUT /api/settings", r.settingsHandler.UpdateSettings)
	r.mux.HandleFunc("GET /api/personal-context", r.settingsHandler.GetPersonalContext)
	r.mux.HandleFunc("PUT /api/personal-context", r.settingsHandler.UpdatePersonalContext)
	r.mux.HandleFunc("PUT /api/key", r.settingsHandler.SetAPIKey)
	r.mux.HandleFunc("POST /api/key/verify", r.settingsHandler.VerifyAPIKey)

	// Export/import routes
	r.mux.HandleFunc("GET /api/export", r.settingsHandler.Export)
	r.mux.HandleFunc("POST /api/import", r.settingsHandler.Import)

	// SSE events route
	r.mux.HandleFunc("GET /api/events", r.eventsHandler.HandleEvents)

	// Static file serving (for frontend)
	if r.staticDir != "" {
		r.mux.HandleFunc("GET /", r.serveStatic)
	}
}

// serveStatic serves static files from the static directory
func (r *Router) serveStatic(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join(r.staticDir, path)

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		// Serve index.html for SPA routing
		filePath = filepath.Join(r.staticDir, "index.html")
	}

	http.ServeFile(w, req, filePath)
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	// Add CORS headers for development
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Skip logging for static files, health checks, and SSE endpoints
	shouldLog := strings.HasPrefix(req.URL.Path, "/api/") && req.URL.Path != "/api/events"

	if shouldLog {
		logger.Log.Info("request_started",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path))
	}

	// Wrap response writer to capture status code
	wrapped := newResponseWriter(w)
	r.mux.ServeHTTP(wrapped, req)

	if shouldLog {
		logger.Log.Info("request_completed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)))
	}
}

// GetBroadcaster returns the event broadcaster
func (r *Router) GetBroadcaster() *EventBroadcaster {
	return r.broadcaster
}
