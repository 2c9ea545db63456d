package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/config"
	"github.com/clinicore/migration/pkg/common/database"
	"github.com/clinicore/migration/pkg/common/kafka"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/entitymap"
	"github.com/clinicore/migration/pkg/miglog"
	"github.com/clinicore/migration/pkg/pipeline"
	"github.com/clinicore/migration/pkg/provider"
	"github.com/clinicore/migration/pkg/target"
	"github.com/clinicore/migration/pkg/vault"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	credVault, err := vault.New(cfg.VaultKey)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid vault key")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	runRepo := pipeline.NewRunRepository(db)
	if err := runRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate run tables")
	}
	specRepo := pipeline.NewSpecRepository(db)
	artifactRepo := artifact.NewRepository(db)
	if err := artifactRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate artifact tables")
	}
	entityRepo := entitymap.NewRepository(db)
	if err := entityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate entity map tables")
	}
	logRepo := miglog.NewRepository(db)
	if err := logRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate migration log tables")
	}
	targetRepo := target.NewRepository(db)
	if err := targetRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate target tables")
	}

	runProducer := kafka.NewProducer(cfg.RunRequestTopic)
	defer runProducer.Close()
	eventProducer := kafka.NewProducer(cfg.EventTopic)
	defer eventProducer.Close()

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Runs:      runRepo,
		Specs:     specRepo,
		Artifacts: artifactRepo,
		Entities:  entityRepo,
		Log:       logRepo,
		Target:    targetRepo,
		Providers: buildRegistry(cfg),
		Vault:     credVault,
		Assistant: buildAssistant(cfg),
		Pause:     pipeline.NewRedisPauseFlag(database.GetRedis()),
		Events:    pipeline.NewKafkaPublisher(eventProducer),
	}, pipeline.Options{
		BatchSize:           cfg.BatchSize,
		PhoneDefaultCountry: cfg.PhoneDefaultCountry,
		NamePrefixLen:       cfg.NamePrefixLen,
	})

	handler := pipeline.NewHandler(orchestrator, runRepo, specRepo, artifactRepo,
		pipeline.NewKafkaPublisher(runProducer), cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("migration service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start migration service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down migration service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("migration service forced to shutdown")
	}
	logger.Log.Info("migration service stopped")
}

func buildRegistry(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	configs, err := provider.LoadRESTConfigs(cfg.ProvidersConfigPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load provider config")
	}
	for _, c := range configs {
		registry.Register(provider.NewRESTProvider(c))
	}
	logger.Log.WithField("vendors", registry.Vendors()).Info("provider registry ready")
	return registry
}

func buildAssistant(cfg *config.Config) *assist.Assistant {
	rules, err := assist.LoadFormRules(cfg.FormRulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load form classification rules")
	}
	client := assist.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelName)
	if !client.Enabled() {
		logger.Log.Info("no assistant configured, deterministic fallbacks only")
	}
	return assist.New(client, rules)
}
