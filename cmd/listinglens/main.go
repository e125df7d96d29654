package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/listinglens/listinglens/internal/clock"
	"github.com/listinglens/listinglens/internal/config"
	"github.com/listinglens/listinglens/internal/migration"
	"github.com/listinglens/listinglens/internal/observability"
	"github.com/listinglens/listinglens/internal/scheduler"
	"github.com/listinglens/listinglens/internal/server"
	"github.com/listinglens/listinglens/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure.
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// API surface pulls in every feature module it serves.
		server.Module,

		// Background processing and schema management.
		scheduler.Module,
		migration.Module,
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
