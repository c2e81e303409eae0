package main

import (
	"context"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/pipecast/pipecast/pkg/cmd"
	"github.com/pipecast/pipecast/pkg/log"
	"github.com/pipecast/pipecast/pkg/taskqueue"
)

const defaultPort = 9091

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("api")

	app := &cli.Command{
		Name:                  "pipecast-api",
		Usage:                 "Start and review research-to-publish workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the delayed task queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing PipeCast API")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// Approving a scheduled workflow enqueues its publish dispatch
			// from the API process, so it needs the queue client too.
			scheduler := taskqueue.NewClient(asynq.RedisClientOpt{Addr: command.String("redis-addr")}, logger)
			defer func() {
				if err := scheduler.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close task queue client", "error", err)
				}
			}()

			api := NewAPI(
				logger,
				persistence,
				eventBus,
				scheduler,
			)

			err := api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
