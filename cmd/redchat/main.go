package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"RedChat/internal/backend"
	"RedChat/internal/cache"
	"RedChat/internal/chatbot"
	"RedChat/internal/config"
	"RedChat/internal/server"
	"RedChat/internal/session"
	"RedChat/internal/telemetry"
)

var version = "1.0.0"

type flags struct {
	configPath  string
	addr        string
	backend     string
	model       string
	store       string
	dsn         string
	logLevel    string
	asyncTitles bool
	cache       bool
	debug       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "redchat",
		Short:         "Chat server with per-session conversation history",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to YAML config file")
	fs.StringVar(&f.addr, "addr", "", "Listen address (default :5000)")
	fs.StringVar(&f.backend, "backend", "", "LLM backend (groq|openai|grok|anthropic|ollama)")
	fs.StringVar(&f.model, "model", "", "Model name for the selected backend")
	fs.StringVar(&f.store, "store", "", "Conversation store (memory|sqlite)")
	fs.StringVar(&f.dsn, "dsn", "", "SQLite data source name")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.BoolVar(&f.asyncTitles, "async-titles", false, "Generate titles after responding")
	fs.BoolVar(&f.cache, "cache", false, "Cache identical completion requests")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return cmd
}

// loadConfig layers defaults, the config file, the environment and then
// any flags set on the command line
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fs.Changed("backend") {
		cfg.LLM.Backend = f.backend
	}
	if fs.Changed("model") {
		cfg.LLM.Model = f.model
	}
	if fs.Changed("store") {
		cfg.Store.Driver = f.store
	}
	if fs.Changed("dsn") {
		cfg.Store.DSN = f.dsn
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if fs.Changed("async-titles") {
		cfg.AsyncTitles = f.asyncTitles
	}
	if fs.Changed("cache") {
		cfg.Cache.Enabled = f.cache
	}
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}

	cfg.ApplyBackendDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	tel, err := telemetry.InitTelemetry(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down telemetry", "error", err)
		}
	}()

	store, err := session.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	gateway, err := backend.New(cfg.LLM, logger, tel.Tracer, tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	if cfg.Cache.Enabled {
		gateway = cache.NewGateway(gateway, cfg.Cache.TTL, logger)
	}

	svc, err := chatbot.NewService(store, gateway, chatbot.Options{
		Persona:     cfg.Persona,
		AsyncTitles: cfg.AsyncTitles,
		Logger:      logger,
		Tracer:      tel.Tracer,
		Meter:       tel.Meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}
	defer svc.Close()

	logger.Info("starting redchat",
		"version", version,
		"addr", cfg.Addr,
		"backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
		"store", cfg.Store.Driver,
		"async_titles", cfg.AsyncTitles,
		"cache", cfg.Cache.Enabled,
	)
	if cfg.LLM.APIKey == "" && cfg.LLM.Backend != config.BackendOllama {
		logger.Warn("no API key configured, chat requests will fail",
			"env", config.APIKeyEnv(cfg.LLM.Backend))
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := server.New(svc, logger).Run(ctx, cfg.Addr); err != nil {
		return err
	}
	logger.Info("redchat stopped")
	return nil
}
