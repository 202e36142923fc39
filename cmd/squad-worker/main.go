// squad-worker drains routed events from the river_job table and runs the
// agent squad on each one. It pairs with the gateway's riverqueue publisher
// driver for deployments that want durable, Postgres-backed agent work.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"sdlcsquad/internal"
	"sdlcsquad/pkg/agents"
	"sdlcsquad/pkg/githubapp"
	"sdlcsquad/pkg/storage"
	"sdlcsquad/pkg/storage/conversations"
	"sdlcsquad/pkg/tools"
	"sdlcsquad/pkg/worker"
)

var jobKind = "sdlcsquad.event"

// EventArgs is the routed event envelope as inserted by the gateway.
type EventArgs internal.Event

func (EventArgs) Kind() string { return jobKind }

// EventWorker runs the squad handler on each dequeued event.
type EventWorker struct {
	river.WorkerDefaults[EventArgs]
	handle worker.Handler
}

func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventArgs]) error {
	args := internal.Event(job.Args)
	return w.handle(ctx, &worker.Event{
		Source:     args.Source,
		Type:       args.Name,
		Action:     args.Action,
		DeliveryID: args.DeliveryID,
		Agent:      args.Agent,
		Params:     args.Params,
		Payload:    args.RawPayload,
		Normalized: args.Data,
	})
}

func main() {
	logger := internal.NewLogger("squad-worker")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	maxWorkers := flag.Int("max-workers", 5, "Max concurrent jobs")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := config.GitHub.Validate(); err != nil {
		logger.Fatalf("github config: %v", err)
	}
	queueCfg := config.Watermill.RiverQueue
	if queueCfg.DSN == "" {
		logger.Fatalf("watermill.riverqueue.dsn is required")
	}
	jobKind = queueCfg.Kind

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	key, err := config.GitHub.PrivateKeyPEM()
	if err != nil {
		logger.Fatalf("private key: %v", err)
	}
	app := githubapp.New(githubapp.Config{
		AppID:          config.GitHub.AppID,
		PrivateKey:     key,
		InstallationID: config.GitHub.InstallationID,
		Owner:          config.GitHub.Owner,
		Repo:           config.GitHub.Repo,
		BaseURL:        config.GitHub.BaseURL,
		OnRefresh:      internal.IncTokenRefresh,
	})
	defer app.Close()

	gateway := tools.New(config.GitHub.Owner, config.GitHub.Repo, app,
		tools.WithBaseURL(config.GitHub.BaseURL))
	defer gateway.Close()

	var store storage.Store
	if config.Storage.Driver == "" || config.Storage.Driver == "memory" {
		store = storage.NewMemoryStore()
	} else {
		store, err = conversations.Open(conversations.Config{
			Driver:      config.Storage.Driver,
			DSN:         config.Storage.DSN,
			Table:       config.Storage.Table,
			AutoMigrate: config.Storage.AutoMigrate,
		})
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}
	}
	defer store.Close()

	squad := agents.NewSquad(agents.SquadConfig{
		RepoFullName: config.GitHub.RepoFullName(),
		Completer: agents.NewAnthropicCompleter(agents.AnthropicConfig{
			APIKey:    config.LLM.APIKey,
			Model:     config.LLM.Model,
			BaseURL:   config.LLM.BaseURL,
			MaxTokens: config.LLM.MaxTokens,
		}),
		Registry: agents.NewToolsRegistry(gateway),
		Store:    store,
		Logger:   internal.NewLogger("squad"),
	})

	dbPool, err := pgxpool.New(ctx, queueCfg.DSN)
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer dbPool.Close()

	workers := river.NewWorkers()
	river.AddWorker(workers, &EventWorker{handle: worker.NewSquadHandler(squad, logger)})

	client, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		Queues: map[string]river.QueueConfig{
			queueCfg.Queue: {MaxWorkers: *maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		logger.Fatalf("river client: %v", err)
	}

	if err := client.Start(ctx); err != nil {
		logger.Fatalf("river start: %v", err)
	}
	logger.Printf("consuming queue=%s kind=%s", queueCfg.Queue, jobKind)

	<-ctx.Done()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := client.Stop(stopCtx); err != nil {
		logger.Printf("river stop: %v", err)
	}
}
