package instance

import (
	"go.uber.org/fx"

	"github.com/nimbushost/fleet/internal/instance/repository"
	"github.com/nimbushost/fleet/internal/instance/service"
	"github.com/nimbushost/fleet/internal/worker"
)

var Module = fx.Module("instance.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(pool *worker.Pool) service.Dispatcher { return pool }),
	fx.Provide(service.NewService),
)
