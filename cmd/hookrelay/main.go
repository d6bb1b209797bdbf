package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/hookrelay/internal/api"
	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/delivery"
	"github.com/shohag/hookrelay/internal/ingest"
	"github.com/shohag/hookrelay/internal/mapping"
	"github.com/shohag/hookrelay/internal/metrics"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/ratelimit"
	"github.com/shohag/hookrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookrelay",
		Short: "HookRelay: outbound deal webhooks and inbound lead ingestion",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(outboundCmd(&configPath))
	rootCmd.AddCommand(inboundCmd(&configPath))
	rootCmd.AddCommand(dispatchCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HookRelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			if cfg.Metrics.Enabled {
				metrics.Register()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			limiter, closeLimiter, err := ratelimit.New(cfg.RateLimit)
			if err != nil {
				return fmt.Errorf("failed to setup rate limiter: %w", err)
			}
			defer closeLimiter()
			if fw, ok := limiter.(*ratelimit.FixedWindow); ok && cfg.RateLimit.SweepInterval > 0 {
				go fw.RunSweeper(ctx, cfg.RateLimit.SweepInterval)
			}

			receiver := ingest.NewReceiver(store, limiter, log)
			dispatcher := delivery.NewDispatcher(cfg.Delivery, store, log)
			tester := delivery.NewTester(cfg.Delivery, store, log)

			var scheduler *delivery.Scheduler
			if cfg.Delivery.Retry.Enabled {
				scheduler = delivery.NewScheduler(cfg.Delivery, store, dispatcher, log)
				scheduler.Start(ctx)
			}

			server := api.NewServer(cfg, store, receiver, dispatcher, tester, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("concurrency", cfg.Delivery.Concurrency).
				Bool("retries", cfg.Delivery.Retry.Enabled).
				Str("storage", cfg.Storage.Driver).
				Str("ratelimit", cfg.RateLimit.Driver).
				Msg("HookRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			if scheduler != nil {
				scheduler.Stop()
			}
			cancel()

			log.Info().Msg("HookRelay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func outboundCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbound",
		Short: "Manage outbound webhooks",
	}

	// outbound create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an outbound webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			url, _ := cmd.Flags().GetString("url")
			events, _ := cmd.Flags().GetStringSlice("events")
			method, _ := cmd.Flags().GetString("method")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			if name == "" || url == "" || len(events) == 0 {
				return fmt.Errorf("--name, --url and --events are required")
			}
			method = strings.ToUpper(method)
			if method != http.MethodPost && method != http.MethodPut {
				return fmt.Errorf("--method must be POST or PUT")
			}
			if maxRetries < 0 || maxRetries > models.MaxRetriesLimit {
				return fmt.Errorf("--max-retries must be between 0 and %d", models.MaxRetriesLimit)
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			wh := &models.OutboundWebhook{
				ID:           models.NewID("out"),
				Name:         name,
				URL:          url,
				Method:       method,
				Events:       events,
				Secret:       models.NewSecret(),
				Headers:      map[string]string{},
				IPAllowlist:  []string{},
				IsActive:     true,
				RetryEnabled: true,
				MaxRetries:   maxRetries,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if err := store.CreateOutboundWebhook(context.Background(), wh); err != nil {
				return fmt.Errorf("failed to create outbound webhook: %w", err)
			}

			return printJSON(wh)
		},
	}
	createCmd.Flags().String("name", "", "webhook name")
	createCmd.Flags().String("url", "", "destination URL")
	createCmd.Flags().StringSlice("events", nil, "subscribed events, * for all")
	createCmd.Flags().String("method", http.MethodPost, "POST or PUT")
	createCmd.Flags().Int("max-retries", 3, "retry budget per event")

	// outbound list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List outbound webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			hooks, err := store.ListOutboundWebhooks(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list outbound webhooks: %w", err)
			}

			if len(hooks) == 0 {
				fmt.Println("No outbound webhooks found.")
				return nil
			}

			for _, wh := range hooks {
				state := "active"
				if !wh.IsActive {
					state = "inactive"
				} else if wh.Degraded() {
					state = "degraded"
				}
				fmt.Printf("  %s  %s  %s %s  [%s]  %s\n",
					wh.ID, wh.Name, wh.Method, wh.URL, strings.Join(wh.Events, ","), state)
			}
			return nil
		},
	}

	// outbound test <id>
	testCmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Send a sample test event to an outbound webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := delivery.NewTester(cfg.Delivery, store, log).Test(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("test failed: %w", err)
			}
			return printJSON(res)
		},
	}

	cmd.AddCommand(createCmd, listCmd, testCmd)
	return cmd
}

func inboundCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbound",
		Short: "Manage inbound webhooks",
	}

	// inbound create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an inbound webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			pipelineID, _ := cmd.Flags().GetString("pipeline")
			phaseID, _ := cmd.Flags().GetString("phase")
			hmacSecret, _ := cmd.Flags().GetString("hmac-secret")
			rawMappings, _ := cmd.Flags().GetString("mappings")

			wh, err := newInboundWebhook(name, pipelineID, phaseID, hmacSecret, rawMappings)
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.CreateInboundWebhook(context.Background(), wh); err != nil {
				return fmt.Errorf("failed to create inbound webhook: %w", err)
			}

			if err := printJSON(wh); err != nil {
				return err
			}
			fmt.Printf("\nReceive path: /receive/%s/%s\n", wh.PipelineID, wh.SecretToken)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "webhook name")
	createCmd.Flags().String("pipeline", "", "pipeline the deals are created in")
	createCmd.Flags().String("phase", "", "initial phase")
	createCmd.Flags().String("hmac-secret", "", "require X-Webhook-Signature with this secret")
	createCmd.Flags().String("mappings", "", `field mappings as JSON, e.g. [{"source":"name","target":"contact_name"}]`)

	// inbound list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List inbound webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			hooks, err := store.ListInboundWebhooks(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list inbound webhooks: %w", err)
			}

			if len(hooks) == 0 {
				fmt.Println("No inbound webhooks found.")
				return nil
			}

			for _, wh := range hooks {
				fmt.Printf("  %s  %s  pipeline=%s  requests_today=%d  active=%t\n",
					wh.ID, wh.Name, wh.PipelineID, wh.RequestsToday, wh.IsActive)
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

// newInboundWebhook builds an inbound webhook from CLI flags, refusing the
// same mappings the management API refuses.
func newInboundWebhook(name, pipelineID, phaseID, hmacSecret, rawMappings string) (*models.InboundWebhook, error) {
	if name == "" || pipelineID == "" {
		return nil, fmt.Errorf("--name and --pipeline are required")
	}

	mappings := []models.FieldMapping{}
	if rawMappings != "" {
		if err := json.Unmarshal([]byte(rawMappings), &mappings); err != nil {
			return nil, fmt.Errorf("invalid --mappings: %w", err)
		}
	}
	if err := mapping.Validate(mappings); err != nil {
		return nil, fmt.Errorf("invalid --mappings: %w", err)
	}

	now := time.Now().UTC()
	return &models.InboundWebhook{
		ID:                 models.NewID("in"),
		Name:               name,
		PipelineID:         pipelineID,
		PhaseID:            phaseID,
		FieldMappings:      mappings,
		DefaultTags:        []string{},
		DefaultTemperature: models.TemperatureWarm,
		SecretToken:        models.NewSecretToken(),
		HMACSecret:         hmacSecret,
		IPAllowlist:        []string{},
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func dispatchCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <event>",
		Short: "Dispatch a deal event to every subscribed outbound webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deal, _ := cmd.Flags().GetString("deal")
			if !json.Valid([]byte(deal)) {
				return fmt.Errorf("--deal must be valid JSON")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := delivery.NewDispatcher(cfg.Delivery, store, log).
				Dispatch(cmd.Context(), args[0], json.RawMessage(deal))
			if err != nil {
				return fmt.Errorf("dispatch failed: %w", err)
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().String("deal", "{}", "deal as JSON")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show webhook and delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return printJSON(stats)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HookRelay v%s\n", version)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "memory":
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
