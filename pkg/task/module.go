package task

import (
	"context"
	"os"

	"rewardplane/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client wires the enqueue side; the API process carries only this half.
var Client = fx.Module("task:client",
	fx.Provide(provideClient, NewEnqueuer),
)

func provideClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(redisOpt(cfg))

	if err := client.Ping(); err != nil {
		zap.L().Error("[task] redis unreachable", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("[task] queue client connected", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

// Server wires the consume side for the worker process. Handlers register
// themselves on the shared mux before the server starts.
var Server = fx.Module("task:server",
	fx.Provide(provideServeMux),
	fx.Invoke(runServer),
)

func provideServeMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func runServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency:    10,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		Queues: map[string]int{
			"critical": 10,
			"default":  5,
			"low":      3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			zap.L().Error("[task] task permanently failed", zap.String("task_type", task.Type()), zap.Error(err))
		}),
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(mux); err != nil {
					zap.L().Error("[task] server failed to start", zap.Error(err))
					os.Exit(1)
				}
			}()
			zap.L().Info("[task] server started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Stop()
			return nil
		},
	})
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
