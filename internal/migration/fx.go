package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/config"
	instancedomain "github.com/nimbushost/fleet/internal/instance/domain"
	"github.com/nimbushost/fleet/internal/seed"
	tenantdomain "github.com/nimbushost/fleet/internal/tenant/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := conn.AutoMigrate(
				&tenantdomain.Tenant{},
				&billingdomain.Plan{},
				&billingdomain.Subscription{},
				&billingdomain.Payment{},
				&instancedomain.Instance{},
				&instancedomain.DeploymentLog{},
			); err != nil {
				return err
			}
		}

		return seed.EnsurePlans(conn)
	}),
)
