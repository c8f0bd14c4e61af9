package worker

import (
	"context"

	"github.com/nimbushost/fleet/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("worker",
	fx.Provide(NewInflight),
	fx.Provide(func(holder *config.OrchestratorHolder, inflight *Inflight, log *zap.Logger) *Pool {
		cfg := holder.Get()
		return NewPool(cfg.WorkerCount, cfg.QueueSize, inflight, log)
	}),
	fx.Invoke(func(lc fx.Lifecycle, pool *Pool) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				pool.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return pool.Stop(ctx)
			},
		})
	}),
)
