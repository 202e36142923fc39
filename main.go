package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sdlcsquad/internal"
	"sdlcsquad/pkg/agents"
	"sdlcsquad/pkg/githubapp"
	"sdlcsquad/pkg/storage"
	"sdlcsquad/pkg/storage/conversations"
	"sdlcsquad/pkg/tools"
	"sdlcsquad/pkg/webhook"
	"sdlcsquad/pkg/worker"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := config.GitHub.Validate(); err != nil {
		logger.Fatalf("github config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	// The in-process worker and the publisher must share one gochannel
	// instance; a fresh one per side would never see the other's messages.
	var inProcess *gochannel.GoChannel
	if usesDriver(config.Watermill, "gochannel") {
		inProcess = internal.NewInProcessPubSub(config.Watermill.GoChannel)
		internal.RegisterPublisherDriver("gochannel", func(cfg internal.WatermillConfig, l watermill.LoggerAdapter) (message.Publisher, func() error, error) {
			return inProcess, nil, nil
		})
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

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

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := app.VerifyInstallation(verifyCtx); err != nil {
		logger.Printf("installation verify failed (continuing): %v", err)
	}
	cancelVerify()

	gateway := tools.New(config.GitHub.Owner, config.GitHub.Repo, app,
		tools.WithBaseURL(config.GitHub.BaseURL))
	defer gateway.Close()

	store, err := openStore(config.Storage)
	if err != nil {
		logger.Fatalf("storage: %v", err)
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

	dispatcher := webhook.NewDispatcher()
	registerHandlers(dispatcher, app, config.GitHub, internal.NewLogger("handlers"))

	hook := webhook.NewServer(config.GitHub.WebhookSecret, dispatcher, logger,
		webhook.WithRules(ruleEngine),
		webhook.WithPublisher(publisher),
		webhook.WithMaxBody(config.Server.MaxBodyBytes),
	)

	mux := http.NewServeMux()
	var webhookHandler http.Handler = hook
	if config.Server.RateLimitRPS > 0 {
		webhookHandler = internal.NewRateLimitHandler(hook,
			config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	}
	mux.Handle(config.Server.WebhookPath, webhookHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if inProcess != nil {
		topics := ruleTopics(config.Rules)
		if len(topics) > 0 {
			w := worker.New(
				worker.WithSubscriber(inProcess),
				worker.WithTopics(topics...),
				worker.WithConcurrency(4),
				worker.WithDefaultHandler(worker.NewSquadHandler(squad, nil)),
			)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Printf("worker stopped: %v", err)
				}
			}()
			logger.Printf("in-process worker consuming %v", topics)
		}
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s, webhook on %s", addr, config.Server.WebhookPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

func openStore(cfg internal.StorageConfig) (storage.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	default:
		return conversations.Open(conversations.Config{
			Driver:      cfg.Driver,
			DSN:         cfg.DSN,
			Table:       cfg.Table,
			AutoMigrate: cfg.AutoMigrate,
		})
	}
}

func usesDriver(cfg internal.WatermillConfig, name string) bool {
	if strings.EqualFold(cfg.Driver, name) {
		return true
	}
	for _, driver := range cfg.Drivers {
		if strings.EqualFold(driver, name) {
			return true
		}
	}
	return false
}

func ruleTopics(rules []internal.Rule) []string {
	seen := make(map[string]struct{}, len(rules))
	topics := make([]string, 0, len(rules))
	for _, rule := range rules {
		if rule.Emit == "" {
			continue
		}
		if _, ok := seen[rule.Emit]; ok {
			continue
		}
		seen[rule.Emit] = struct{}{}
		topics = append(topics, rule.Emit)
	}
	return topics
}
