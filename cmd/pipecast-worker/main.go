package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/pipecast/pipecast/pkg/cmd"
	"github.com/pipecast/pipecast/pkg/config"
	"github.com/pipecast/pipecast/pkg/jobs"
	"github.com/pipecast/pipecast/pkg/log"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/pipeline"
	"github.com/pipecast/pipecast/pkg/stagelock"
	"github.com/pipecast/pipecast/pkg/taskqueue"
)

const queueConcurrency = 10

func main() {
	_ = godotenv.Load()

	app := &cli.Command{
		Name:                  "pipecast-worker",
		Usage:                 "Run workflow stages: research, analysis, scripting, video, publishing",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Usage:   "Redis address for the task queue and stage locks",
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("pipecast-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing PipeCast Worker")

			cfg := config.Load()

			err := cfg.Validate()
			if err != nil {
				return err
			}

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

			redisAddr := command.String("redis-addr")

			scheduler := taskqueue.NewClient(asynq.RedisClientOpt{Addr: redisAddr}, logger)
			defer func() {
				if err := scheduler.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close task queue client", "error", err)
				}
			}()

			locker, err := stagelock.NewRedisLocker(ctx, redisAddr, "", 0)
			if err != nil {
				return fmt.Errorf("failed to connect stage locker: %w", err)
			}

			defer func() {
				if err := locker.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close stage locker", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "pipecast-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			providers := cmd.NewProviders(cfg, logger)

			engine := pipeline.NewEngine(pipeline.Deps{
				Logger:            logger,
				Persistence:       persistence,
				EventBus:          eventBus,
				Collectors:        providers.Collectors,
				Generator:         providers.Generator,
				Renderer:          providers.Renderer,
				Publishers:        providers.Publishers,
				Media:             providers.Media,
				Scheduler:         scheduler,
				Tracer:            tracer,
				WorkerID:          workerID,
				VideoPollInterval: cfg.VideoGen.PollInterval,
				MaxRenderTime:     cfg.VideoGen.MaxRenderTime,
				DefaultAvatarID:   cfg.VideoGen.DefaultAvatarID,
				DefaultVoiceID:    cfg.VideoGen.DefaultVoiceID,
			})

			// Delayed work (video poll ticks, fixed-time publishes) arrives
			// over asynq rather than the event bus.
			queueServer := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
				Concurrency: queueConcurrency,
			})

			err = queueServer.Start(taskqueue.NewServeMux(engine, logger))
			if err != nil {
				return fmt.Errorf("failed to start task queue server: %w", err)
			}
			defer queueServer.Shutdown()

			refresher := jobs.NewEngagementRefresher(persistence, providers.Publishers, logger,
				cfg.EngagementRefreshEvery, cfg.EngagementBatchSize)

			err = refresher.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start engagement refresher: %w", err)
			}
			defer refresher.Stop()

			worker := NewWorkerManager(
				workerID,
				eventBus,
				engine,
				locker,
				logger,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)
			}

			return nil
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
