package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	"github.com/OFFIS-RIT/ticketgraph/internal/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger/console"
)

// metricsProcessor logs model usage after every message.
type metricsProcessor struct {
	next     queue.Processor
	aiClient ai.GraphAIClient
}

func (p metricsProcessor) Process(ctx context.Context, queueName string, body []byte) error {
	err := p.next.Process(ctx, queueName, body)

	metrics := p.aiClient.GetMetrics()
	aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", fmt.Sprintf("%02d:%02d:%02d", int(aiDuration.Hours()), int(aiDuration.Minutes())%60, int(aiDuration.Seconds())%60),
	)
	p.aiClient.ResetMetrics()
	return err
}

func (p metricsProcessor) DeadLetter(ctx context.Context, queueName string, body []byte) {
	if dl, ok := p.next.(queue.DeadLetterer); ok {
		dl.DeadLetter(ctx, queueName, body)
	}
}

func main() {
	util.LoadEnv()

	cfg := bootstrap.LoadConfig()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Queue: true})
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer app.Close(context.WithoutCancel(ctx))

	ch, err := app.AMQP.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	_ = ch.Close()

	handler := &queue.Handler{
		Graph:        app.Graph,
		Extractor:    app.Extractor,
		Analytics:    app.Analytics,
		ReembedBatch: cfg.Sweep.Batch,
	}
	if app.S3Loader != nil {
		handler.Files = app.S3Loader
		handler.Uploads = app.Uploads

		publish := func(queueName string, msg any) error {
			return queue.Publish(app.AMQP, queueName, msg)
		}
		n, err := queue.RecoverUploads(ctx, app.Uploads, cfg.UploadPrefix, cfg.MaskPII, publish)
		if err != nil {
			logger.Error("Failed to recover uploads", "err", err)
		} else if n > 0 {
			logger.Info("Recovered uploads", "count", n)
		}
	}

	go queue.RunSweep(ctx, app.Locker, app.Graph, cfg.Sweep.Interval, cfg.Sweep.Batch)

	if err := queue.Consume(ctx, app.AMQP, queue.Queues, metricsProcessor{next: handler, aiClient: app.AI}); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
