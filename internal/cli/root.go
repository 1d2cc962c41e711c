// Package cli implements recipectl, the operator tool for inspecting and
// repairing the ingredient pipeline.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"recipebox/backend/features/job"
	"recipebox/backend/features/recipe"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/logger"
	"recipebox/backend/internal/worker"
	"recipebox/backend/internal/workflow"
)

type Jobs interface {
	List(ctx context.Context, f job.Filter) ([]job.Job, error)
	Retry(ctx context.Context, id string) error
}

type Batches interface {
	Fail(ctx context.Context, recipeID string, cause error) error
	Status(ctx context.Context, recipeID string) (workflow.BatchStatus, error)
}

type Pruner interface {
	PruneOnce(ctx context.Context)
}

// Backend is what the commands operate on.
type Backend struct {
	Jobs    Jobs
	Batches Batches
	Pruner  Pruner
	Close   func()
}

// Opener connects to the backing services. Commands call it lazily so that
// --help works without a database.
type Opener func(ctx context.Context) (*Backend, error)

var isDebug bool

func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "recipectl",
		Short:         "Operate the recipe ingredient pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	root.AddCommand(newJobsCmd(open), newRecipesCmd(open), newPruneCmd(open))
	return root
}

func Execute() {
	if err := NewRootCmd(openBackend).Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func withBackend(open Opener, fn func(cmd *cobra.Command, b *Backend, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := open(cmd.Context())
		if err != nil {
			return err
		}
		if b.Close != nil {
			defer b.Close()
		}
		return fn(cmd, b, args)
	}
}

func openBackend(ctx context.Context) (*Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if isDebug {
		level = "debug"
	}
	slog.SetDefault(logger.New(os.Stderr, "text", level))

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)

	recipeRepo := recipe.NewPostgresRepo(db)
	pushClient := push.NewClient(cfg.PushGatewayURL, cfg.PushGatewayAPIKey)
	assembler := assembly.NewAssembler(recipeRepo, pushClient, assembly.Messages{
		ReadyTitle:  cfg.ReadyTitle,
		ReadyBody:   cfg.ReadyBody,
		FailedTitle: cfg.FailedTitle,
		FailedBody:  cfg.FailedBody,
	})
	driver := workflow.NewDriver(workflow.NewPostgresRepo(db), producer, assembler)

	return &Backend{
		Jobs:    job.NewService(job.NewPostgresRepo(db), producer, slog.Default()),
		Batches: driver,
		Pruner:  worker.NewPruner(driver, recipeRepo, cfg.PruneInterval),
		Close: func() {
			producer.Stop()
			db.Close()
		},
	}, nil
}
