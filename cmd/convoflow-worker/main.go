package main

import (
	"context"
	"os"

	"github.com/go-telegram/bot"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "convoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes conversation automations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (redis://... or memory)",
				Value:   "memory",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "telegram-token",
				Usage:   "Telegram bot token for the outbound gateway",
				Value:   "",
				Sources: cli.EnvVars("TELEGRAM_BOT_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rootLogger := log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(rootLogger, "convoflow-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing convoflow worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "convoflow-worker", rootLogger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			flags, err := cmd.NewKVStore(ctx, command.String("database-url"))
			if err != nil {
				return err
			}

			gw, err := newGateway(command.String("telegram-token"), flags)
			if err != nil {
				return err
			}

			worker := NewWorkerManager(workerID, persistence, flags, eventBus, gw, rootLogger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newGateway(telegramToken string, flags kv.Store) (gateway.Gateway, error) {
	if telegramToken == "" {
		return gateway.NewMemoryGateway(), nil
	}

	b, err := bot.New(telegramToken)
	if err != nil {
		return nil, err
	}

	return gateway.NewTelegramGateway(b, flags), nil
}
