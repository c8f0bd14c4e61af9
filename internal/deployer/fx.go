package deployer

import (
	"github.com/nimbushost/fleet/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("deployer",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Runner {
		return NewScriptRunner(cfg.DeployScript, cfg.ManageScript, log)
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) RuntimeProbe {
		return NewDockerProbe(cfg.DockerBin, log)
	}),
)
