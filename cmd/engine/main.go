package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	asynqmod "promoflow-engine/pkg/asynq"
	"promoflow-engine/pkg/config"
	"promoflow-engine/pkg/db"
	"promoflow-engine/pkg/events"
	"promoflow-engine/pkg/gen"
	"promoflow-engine/pkg/logger"
	"promoflow-engine/pkg/redis"
	"promoflow-engine/services/campaign"
	"promoflow-engine/services/distribution"
	"promoflow-engine/services/ingest"
	"promoflow-engine/services/ledger"
	"promoflow-engine/services/oversight"
	"promoflow-engine/services/platform"
	"promoflow-engine/services/promoter"
	"promoflow-engine/services/scoring"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		gen.Module,
		db.Module,
		redis.Module,
		events.Module,
		asynqmod.Client,
		asynqmod.Server,
		platform.Module,
		scoring.Module,
		campaign.Module,
		promoter.Module,
		oversight.Module,
		ledger.Module,
		distribution.Module,
		ingest.Module,
		fx.Invoke(
			migrate,
			db.Otel,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&campaign.Campaign{},
		&campaign.Pool{},
		&promoter.Promoter{},
		&promoter.SocialAccount{},
		&promoter.Membership{},
		&oversight.Record{},
		&ledger.Snapshot{},
		&ledger.Activity{},
		&distribution.PoolMembership{},
		&distribution.FlowRateLog{},
		&ingest.EngagementRecord{},
		&ingest.Continuation{},
	)
}
