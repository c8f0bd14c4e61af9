package billing

import (
	"github.com/nimbushost/fleet/internal/billing/repository"
	"github.com/nimbushost/fleet/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
