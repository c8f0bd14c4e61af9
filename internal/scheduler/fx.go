package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/nimbushost/fleet/internal/config"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RunScheduler),
)

func ProvideConfig(holder *config.OrchestratorHolder) Config {
	cfg := DefaultConfig()
	orch := holder.Get()
	if orch.SweepInterval > 0 {
		cfg.RunInterval = orch.SweepInterval
	}
	if orch.ExpiryInterval > 0 {
		cfg.ExpiryInterval = orch.ExpiryInterval
	}
	return cfg
}

func RunScheduler(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
