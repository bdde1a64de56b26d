// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// The currency-agent command serves the currency conversion agent over the
// A2A protocol: JSON-RPC on /, the agent card on the well-known path.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomhq/loom/pkg/a2a/agentcard"
	"github.com/loomhq/loom/pkg/a2a/server"
	"github.com/loomhq/loom/pkg/a2a/types"
	"github.com/loomhq/loom/pkg/agents/currency"
	"github.com/loomhq/loom/pkg/config"
	"github.com/loomhq/loom/pkg/llm"
	"github.com/loomhq/loom/pkg/telemetry"
	"github.com/loomhq/loom/providers/openai"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *host, *port); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, host string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		watcher.OnChange(func(*config.Config) {
			logger.Warn("configuration file changed, restart to apply", "path", configPath)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, cfg.Agent.Version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	agent := currency.NewAgent(provider,
		currency.WithModel(cfg.LLM.Model),
		currency.WithLogger(logger),
	)
	executor := &server.StreamExecutor{
		Agent:        agent,
		ArtifactName: "conversion_result",
		Logger:       logger,
	}

	store, pushStore, closeStore, err := buildStores(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	handlerOpts := []server.HandlerOption{server.WithHandlerLogger(logger)}
	if pushStore != nil {
		handlerOpts = append(handlerOpts, server.WithPushConfigStore(pushStore))
	}
	if cfg.Telemetry.Enabled {
		metrics, err := telemetry.NewTaskMetrics()
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, server.WithTaskMetrics(metrics))
	}
	handler := server.NewDefaultHandler(executor, store, handlerOpts...)

	card := buildCard(cfg, pushStore != nil)
	rpc := server.NewJSONRPCServer(handler, card, logger)

	mux := http.NewServeMux()
	mux.Handle("/", rpc)
	mux.Handle(agentcard.WellKnownPath, agentcard.PublishHandler(card))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("currency agent listening", "addr", addr, "store", cfg.Server.Store)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	case "openai", "":
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		opts := []openai.Option{openai.WithAPIKey(apiKey), openai.WithModel(cfg.LLM.Model)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		return openai.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildStores selects the task store backend and, when push notifications
// are enabled, a matching push config store.
func buildStores(cfg *config.Config) (server.TaskStore, server.PushConfigStore, func() error, error) {
	switch cfg.Server.Store {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Server.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := server.NewSQLiteTaskStore(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		var pushStore server.PushConfigStore
		if cfg.Server.PushNotifications {
			pushStore, err = server.NewSQLitePushConfigStore(db)
			if err != nil {
				db.Close()
				return nil, nil, nil, err
			}
		}
		return store, pushStore, db.Close, nil
	case "memory", "":
		var pushStore server.PushConfigStore
		if cfg.Server.PushNotifications {
			pushStore = server.NewMemoryPushConfigStore()
		}
		return server.NewMemoryTaskStore(), pushStore, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown task store %q", cfg.Server.Store)
	}
}

func buildCard(cfg *config.Config, push bool) *types.AgentCard {
	url := cfg.Agent.URL
	if url == "" {
		url = fmt.Sprintf("http://%s:%d/", cfg.Server.Host, cfg.Server.Port)
	}
	return agentcard.Build(agentcard.Config{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		URL:         url,
		Version:     cfg.Agent.Version,
		Capabilities: types.AgentCapabilities{
			Streaming:         true,
			PushNotifications: push,
		},
		DefaultInputModes:  currency.SupportedContentTypes,
		DefaultOutputModes: currency.SupportedContentTypes,
		Skills: []types.AgentSkill{{
			ID:          "convert_currency",
			Name:        "Currency Exchange Rates Tool",
			Description: "Helps with exchange values between various currencies",
			Tags:        []string{"currency conversion", "currency exchange"},
			Examples:    []string{"What is exchange rate between USD and GBP?"},
		}},
	})
}
