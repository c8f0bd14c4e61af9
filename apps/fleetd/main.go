package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/nimbushost/fleet/internal/billing"
	"github.com/nimbushost/fleet/internal/clock"
	"github.com/nimbushost/fleet/internal/config"
	"github.com/nimbushost/fleet/internal/deployer"
	"github.com/nimbushost/fleet/internal/instance"
	"github.com/nimbushost/fleet/internal/locks"
	"github.com/nimbushost/fleet/internal/migration"
	"github.com/nimbushost/fleet/internal/observability/metrics"
	"github.com/nimbushost/fleet/internal/scheduler"
	"github.com/nimbushost/fleet/internal/server"
	"github.com/nimbushost/fleet/internal/tenant"
	"github.com/nimbushost/fleet/internal/worker"
	"github.com/nimbushost/fleet/pkg/db"
	"github.com/nimbushost/fleet/pkg/log"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locks.Module,
		metrics.Module,

		// Functional domains
		tenant.Module,
		billing.Module,
		deployer.Module,
		worker.Module,
		instance.Module,
		scheduler.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
