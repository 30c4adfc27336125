package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/ticketgraph/internal/server"
	"github.com/OFFIS-RIT/ticketgraph/internal/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	cfg := bootstrap.LoadConfig()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Queue: cfg.RabbitMQ.Host != ""})
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	if err := server.Run(ctx, app); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
	logger.Info("Shutdown complete")
}
