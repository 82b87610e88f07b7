package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"modabot/internal/aiprompt"
	"modabot/internal/bot"
	"modabot/internal/domain/modelcfg"
	"modabot/internal/http/handlers"
	httpapi "modabot/internal/http/httpapi"
	"modabot/internal/infra"
	"modabot/internal/modelscope"
	"modabot/internal/store"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	sqlRunner := infra.NewSQLRunner(dbpool, logger)
	taskStore := store.New(sqlRunner)
	schemaCtx, cancelSchema := context.WithTimeout(ctx, 30*time.Second)
	if err := taskStore.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}
	cancelSchema()

	registry, err := modelcfg.LoadRegistry(cfg.GenerateModelsJSON, cfg.EditModelsJSON)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid model configuration")
	}

	keyring, err := modelscope.NewKeyring(cfg.APIKeys)
	if err != nil {
		logger.Fatal().Err(err).Msg("no modelscope api keys configured")
	}
	client, err := modelscope.NewClient(modelscope.Options{
		BaseURL: cfg.ModelScopeBaseURL,
		Keyring: keyring,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build modelscope client")
	}

	var optimizer aiprompt.Optimizer = aiprompt.NewStaticOptimizer()
	if cfg.AIAPIKey != "" {
		optimizer, err = aiprompt.NewOpenAIOptimizer(aiprompt.OpenAIOptions{
			APIKey:   cfg.AIAPIKey,
			Model:    cfg.AIModel,
			BaseURL:  cfg.AIBaseURL,
			Fallback: aiprompt.NewStaticOptimizer(),
			OnFallback: func(reason string, cause error) {
				logger.Warn().Err(cause).Str("reason", reason).Msg("prompt optimizer fell back to static")
			},
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build prompt optimizer")
		}
	}

	orchestrator, err := bot.New(bot.Options{
		Client:    client,
		Store:     taskStore,
		Registry:  registry,
		Optimizer: optimizer,
		Config:    cfg,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	app := handlers.NewApp(orchestrator, &logger)
	router := httpapi.NewRouter(app, &logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("moda API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
