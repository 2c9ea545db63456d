package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinicore/migration/pkg/artifact"
	"github.com/clinicore/migration/pkg/assist"
	"github.com/clinicore/migration/pkg/common/config"
	"github.com/clinicore/migration/pkg/common/database"
	"github.com/clinicore/migration/pkg/common/kafka"
	"github.com/clinicore/migration/pkg/common/logger"
	"github.com/clinicore/migration/pkg/common/models"
	"github.com/clinicore/migration/pkg/entitymap"
	"github.com/clinicore/migration/pkg/miglog"
	"github.com/clinicore/migration/pkg/pipeline"
	"github.com/clinicore/migration/pkg/provider"
	"github.com/clinicore/migration/pkg/target"
	"github.com/clinicore/migration/pkg/vault"
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

	consumer := kafka.NewConsumer(cfg.RunRequestTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down migration worker...")
		cancel()
	}()

	logger.Log.WithField("topic", cfg.RunRequestTopic).Info("migration worker consuming")
	err = consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		log := logger.Log.WithField("run_id", event.RunID)
		log.Info("run request received")

		// Run failures are carried by the run's own state machine; the
		// message is committed either way so a poisoned run cannot wedge
		// the queue.
		switch err := orchestrator.RunAll(ctx, event.RunID); {
		case errors.Is(err, pipeline.ErrApprovalRequired):
			log.Info("run awaiting mapping approval")
		case errors.Is(err, pipeline.ErrRunNotFound):
			log.Warn("run request for unknown run")
		case err != nil:
			log.WithError(err).Error("run failed")
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("consumer stopped")
	}
	logger.Log.Info("migration worker stopped")
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
