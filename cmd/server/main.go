package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"roleplay-chat/internal/api"
	"roleplay-chat/internal/chat"
	"roleplay-chat/internal/config"
	"roleplay-chat/internal/gen"
	"roleplay-chat/internal/logger"
	"roleplay-chat/internal/orchestrator"
	"roleplay-chat/internal/registry"
	"roleplay-chat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("")
		logger.Log.Fatal("config_load_failed", zap.Error(err))
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Log.Fatal("data_dir_create_failed", zap.Error(err))
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "chatdb"))
	if err != nil {
		logger.Log.Fatal("store_open_failed", zap.Error(err))
	}
	defer st.Close()

	reg, err := registry.New(st)
	if err != nil {
		logger.Log.Fatal("registry_load_failed", zap.Error(err))
	}

	chats, err := chat.New(st, reg)
	if err != nil {
		logger.Log.Fatal("chat_load_failed", zap.Error(err))
	}
	reg.SetChatCascade(chats)

	// Credential priority: env or secrets file, then the persisted key the
	// user entered through the UI.
	apiKey := cfg.Gemini.APIKey
	if apiKey == "" {
		if _, err := st.Get(store.KeyAPIKey, &apiKey); err != nil {
			logger.Log.Warn("api_key_load_failed", zap.Error(err))
		}
	}

	ctx := context.Background()
	generator, err := gen.NewClient(ctx, apiKey, chats.Settings().ModelVersion)
	if err != nil {
		logger.Log.Fatal("generator_init_failed", zap.Error(err))
	}
	if !generator.Ready() {
		logger.Log.Warn("no_api_key_configured")
	}

	reg.SetGenerator(generator)
	reg.SetSettingsSource(chats.Settings)

	orch := orchestrator.New(chats, reg, generator)

	router := api.NewRouter(st, reg, chats, orch, generator, cfg.StaticDir)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Log.Info("server_shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.Fatal("server_forced_shutdown", zap.Error(err))
		}

		close(done)
	}()

	logger.Log.Info("server_starting",
		zap.String("port", cfg.Port),
		zap.String("static_dir", cfg.StaticDir))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatal("server_failed", zap.Error(err))
	}

	<-done
	logger.Log.Info("server_stopped")
}
