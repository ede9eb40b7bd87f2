// Package app assembles the runtime graph from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"funchatgo/internal/api"
	"funchatgo/internal/config"
	"funchatgo/internal/conversation"
	"funchatgo/internal/function"
	"funchatgo/internal/logger"
	"funchatgo/internal/memory"
	"funchatgo/internal/redis"
	"funchatgo/internal/service/ai"
	"funchatgo/internal/service/tools"
	"funchatgo/internal/worker"
)

// App owns the long-lived components of one process.
type App struct {
	Config       *config.Config
	Registry     *function.Registry
	Orchestrator *conversation.Orchestrator
	Manager      *worker.Manager

	rdb *redis.Client
}

// New builds the app with the configured provider model.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	provider, providerCfg := cfg.ActiveProvider()
	chatModel, err := ai.NewChatModel(ctx, provider, providerCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("chat model ready", "model", chatModel.Name())
	return NewWithModel(ctx, cfg, chatModel)
}

// NewWithModel builds the app around an existing model.
func NewWithModel(ctx context.Context, cfg *config.Config, model conversation.Model) (*App, error) {
	registry, err := tools.NewRegistry(ctx, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("init functions: %w", err)
	}

	orch := conversation.New(model, registry,
		conversation.WithSystemPrompt(cfg.Chat.SystemPrompt),
		conversation.WithMaxFollowUps(cfg.Chat.MaxFollowUps),
		conversation.WithMaxRecoveries(cfg.Chat.MaxRecoveries),
		conversation.WithStrategy(conversation.ParseStrategy(cfg.Chat.Dispatch)),
	)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
	}

	manager := worker.NewManager(orch, memory.NewRegistry(), worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.IdleTimeout(),
		TurnTimeout: cfg.BasicConfig.TurnTimeoutDuration(),
	}, rdb)

	return &App{
		Config:       cfg,
		Registry:     registry,
		Orchestrator: orch,
		Manager:      manager,
		rdb:          rdb,
	}, nil
}

// Router returns the HTTP routes backed by the manager.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	handler := api.NewHandler(a.Manager, a.Registry)
	if a.rdb != nil {
		handler.AddHealthCheck("redis", a.rdb.Ping)
	}
	handler.RegisterRoutes(router)
	return router
}

func (a *App) Close() {
	a.Manager.Close()
	if err := a.rdb.Close(); err != nil {
		logger.Warn("close redis", "error", err)
	}
}

func requestLogger() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}
