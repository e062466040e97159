package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rewardplane/internal/httpapi"
	"rewardplane/internal/server"
	"rewardplane/pkg/config"
	"rewardplane/pkg/db"
	"rewardplane/pkg/gen"
	"rewardplane/pkg/health"
	"rewardplane/pkg/logger"
	"rewardplane/pkg/redis"
	"rewardplane/pkg/sequence"
	"rewardplane/pkg/task"
	"rewardplane/services/authority"
	"rewardplane/services/balance"
	"rewardplane/services/engine"
	"rewardplane/services/ledger"
	"rewardplane/services/rule"
	"rewardplane/services/staking"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		health.Module,
		fx.Invoke(autoMigrate),

		ledger.Module,
		balance.Module,
		staking.Module,
		authority.Module,
		rule.Module,
		engine.Module,

		httpapi.Module,
		server.Module,
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

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&ledger.Entry{},
		&balance.Balance{},
		&staking.Stake{},
		&authority.Action{},
		&rule.PromoRule{},
	)
}
