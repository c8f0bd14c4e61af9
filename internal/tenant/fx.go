package tenant

import (
	"github.com/nimbushost/fleet/internal/tenant/repository"
	"github.com/nimbushost/fleet/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
