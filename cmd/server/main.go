package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/chatfront/chatfront/internal/api"
	"github.com/chatfront/chatfront/internal/config"
	"github.com/chatfront/chatfront/internal/identity"
	"github.com/chatfront/chatfront/internal/llm"
	"github.com/chatfront/chatfront/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	chatStore, err := store.New(cfg.ChatHistoryDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize chat store",
			zap.Error(err),
			zap.String("dir", cfg.ChatHistoryDir))
	}

	ident, err := identity.New(cfg.IdentityDB)
	if err != nil {
		logger.Fatal("failed to initialize identity store",
			zap.Error(err),
			zap.String("dbPath", cfg.IdentityDB))
	}
	defer ident.Close()

	llmService, err := llm.New(llm.Config{
		BaseURL:           cfg.ManagerAPIURL,
		APIKey:            cfg.ManagerAPIKey,
		ModelsTimeout:     cfg.ModelsTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
		ModelCacheTTL:     cfg.ModelCacheTTL,
	}, chatStore, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	handler := api.NewHandler(chatStore, llmService, ident, logger, cfg.SubmitRate, cfg.SubmitBurst)

	logger.Info("starting server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("manager", cfg.ManagerAPIURL))
	if err := http.ListenAndServe(cfg.ListenAddr, handler.Routes()); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
