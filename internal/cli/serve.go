package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/z1w2r3/suna-sub001/internal/config"
	"github.com/z1w2r3/suna-sub001/internal/logger"
	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
	"github.com/z1w2r3/suna-sub001/pkg/agent"
	"github.com/z1w2r3/suna-sub001/pkg/coretools"
	"github.com/z1w2r3/suna-sub001/pkg/gateway"
	"github.com/z1w2r3/suna-sub001/pkg/llm"
	"github.com/z1w2r3/suna-sub001/pkg/processor"
	"github.com/z1w2r3/suna-sub001/pkg/runs"
	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the HTTP gateway",
	Long: `Run the engine in the foreground: SQLite-backed threads, the run
registry and stale-run janitor, and the HTTP/WebSocket gateway with
Prometheus metrics. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Root().PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled in configuration")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir, err = config.DefaultDataDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer lg.Close()
	log := lg.Logger()

	if terr := tracing.InitOpenTelemetry("agentcore"); terr != nil {
		log.Warn().Err(terr).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		defer tracing.ShutdownOpenTelemetry(context.Background())
	}

	auditPath := filepath.Join(dataDir, "audit.log")
	if aerr := observability.InitAuditLogger(auditPath); aerr != nil {
		log.Warn().Err(aerr).Msg("Failed to initialize audit logger, using default stderr")
	}

	store, err := thread.NewSQLiteStore(thread.SQLiteConfig{
		Path:   filepath.Join(dataDir, "agentcore.db"),
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	provider, providerDefaults, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	workspace := filepath.Join(dataDir, "workspace")
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := coretools.Register(registry, coretools.Options{WorkspaceRoot: workspace}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	proc, err := processor.New(processor.Options{
		Config:   processorConfig(cfg.Processor),
		Registry: registry,
		Store:    store,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to build processor: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:         provider,
		Store:            store,
		Registry:         registry,
		Processor:        proc,
		Logger:           log,
		MaxAutoContinues: cfg.Processor.MaxAutoContinues,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	runsReg := runs.NewRegistry(log)

	if cfg.Janitor.Enabled {
		ttl, perr := time.ParseDuration(cfg.Janitor.RunTTL)
		if perr != nil {
			return fmt.Errorf("invalid janitor run_ttl: %w", perr)
		}
		janitor, jerr := runs.NewJanitor(runsReg, cfg.Janitor.Schedule, ttl, log)
		if jerr != nil {
			return fmt.Errorf("failed to build janitor: %w", jerr)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	secret := cfg.Gateway.SharedSecret
	if secret == "" {
		secret, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate shared secret: %w", err)
		}
		log.Warn().
			Str("shared_secret", secret).
			Msg("No gateway shared secret configured; using a generated one for this session")
	}

	srv, err := gateway.NewServer(gateway.Config{
		Port:         cfg.Gateway.Port,
		SharedSecret: secret,
		MetricsPath:  cfg.Gateway.MetricsPath,
		Store:        store,
		Runner:       runner,
		Registry:     runsReg,
		Logger:       log,
		RunDefaults: agent.RunParams{
			Model:       providerDefaults.Model,
			Temperature: providerDefaults.Temp,
			MaxTokens:   providerDefaults.MaxTokens,
			Stream:      true,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	watcher, werr := config.NewWatcher(loader, log, func(updated *config.Config) {
		if lvl, perr := zerolog.ParseLevel(updated.Logging.Level); perr == nil {
			zerolog.SetGlobalLevel(lvl)
			log.Info().Str("level", lvl.String()).Msg("Applied updated log level")
		}
		observability.RecordConfigAudit(context.Background(), "reload", "file-watcher", map[string]interface{}{
			"log_level": updated.Logging.Level,
		})
	})
	if werr != nil {
		log.Warn().Err(werr).Msg("Config file watching unavailable")
	} else {
		defer watcher.Stop()
	}

	log.Info().
		Int("port", cfg.Gateway.Port).
		Str("data_dir", dataDir).
		Str("provider", provider.Name()).
		Int("tools", registry.Count()).
		Msg("Agentcore serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutdown signal received")
	return srv.Stop()
}

// buildProvider resolves the configured default provider and its run
// defaults.
func buildProvider(cfg *config.Config) (llm.Provider, config.ProviderConfig, error) {
	name := cfg.Providers.Default
	if name == "" {
		name = "anthropic"
	}

	switch name {
	case "mock":
		return llm.NewMockProvider(), config.ProviderConfig{Model: "mock-model", MaxTokens: 4096}, nil
	case "anthropic", "openai":
	default:
		return nil, config.ProviderConfig{}, fmt.Errorf("unsupported provider: %s", name)
	}

	pc := cfg.Providers.Anthropic
	if name == "openai" {
		pc = cfg.Providers.OpenAI
	}
	if pc.APIKey == "" {
		return nil, config.ProviderConfig{}, fmt.Errorf("%s API key is not configured", name)
	}

	provider, err := llm.NewProvider(name, pc.APIKey)
	if err != nil {
		return nil, config.ProviderConfig{}, err
	}
	return provider, pc, nil
}

// processorConfig maps the file configuration onto the processor's config,
// keeping defaults for anything unset.
func processorConfig(pc config.ProcessorConfig) processor.Config {
	base := processor.DefaultConfig()
	base.XMLEnabled = pc.XMLEnabled
	base.NativeEnabled = pc.NativeEnabled
	base.AutoExecute = pc.AutoExecute
	base.ExecuteWhileStreaming = pc.ExecuteWhileStreaming
	if pc.Strategy != "" {
		base.Strategy = processor.Strategy(pc.Strategy)
	}
	if pc.ResultPlacement != "" {
		base.ResultPlacement = processor.ResultPlacement(pc.ResultPlacement)
	}
	base.MaxCallsPerResponse = pc.MaxCallsPerResponse
	if len(pc.TerminatingTools) > 0 {
		base.TerminatingTools = pc.TerminatingTools
	}
	return base
}
