package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/log"
)

const defaultPort = 9090

func main() {
	command := &cli.Command{
		Name:                  "convoflow-api",
		EnableShellCompletion: true,
		Usage:                 "Ingest automation events, user responses and workflow definitions",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rootLogger := log.Setup(command.String("log-level"))
			logger := log.WithModule(rootLogger, "convoflow-api")

			logger.InfoContext(ctx, "Initializing convoflow API")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "convoflow-api", rootLogger)
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

			api := NewAPI(logger, persistence, eventBus)

			if err := api.SubscribeLifecycle(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to subscribe to lifecycle events", "error", err)

				return err
			}

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
