package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/camera"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	"github.com/sentravision/sentra-cloud/internal/edge"
	"github.com/sentravision/sentra-cloud/internal/edge/presence"
	"github.com/sentravision/sentra-cloud/internal/event"
	"github.com/sentravision/sentra-cloud/internal/license"
	"github.com/sentravision/sentra-cloud/internal/logger"
	"github.com/sentravision/sentra-cloud/internal/migration"
	"github.com/sentravision/sentra-cloud/internal/monitoring"
	"github.com/sentravision/sentra-cloud/internal/notifier"
	"github.com/sentravision/sentra-cloud/internal/organization"
	"github.com/sentravision/sentra-cloud/internal/ratelimit"
	"github.com/sentravision/sentra-cloud/internal/secrets"
	"github.com/sentravision/sentra-cloud/internal/server"
	"github.com/sentravision/sentra-cloud/pkg/db"
	"github.com/sentravision/sentra-cloud/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		secrets.Module,
		telemetry.Module,
		ratelimit.Module,
		migration.Module,

		// Functional domains
		organization.Module,
		license.Module,
		camera.Module,
		edge.Module,
		presence.Module,
		monitoring.Module,
		notifier.Module,
		event.Module,

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
