package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/agentmemory/internal/metrics"
	"github.com/hrygo/agentmemory/internal/observability"
	"github.com/hrygo/agentmemory/internal/profile"
	"github.com/hrygo/agentmemory/plugin/embedding"
	"github.com/hrygo/agentmemory/server"
	embeddingrunner "github.com/hrygo/agentmemory/server/runner/embedding"
	"github.com/hrygo/agentmemory/store"
	"github.com/hrygo/agentmemory/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:           "agentmemory",
		Short:         "Persistent episodic, semantic, working and procedural memory for trading agents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setup()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server with background cleanup",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the memory tables and indexes if missing",
		RunE:  runMigrate,
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention cleanup pass",
		RunE:  runCleanup,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print per-kind memory statistics",
		RunE:  runStats,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and pool usage",
		RunE:  runHealth,
	}

	reembedCmd = &cobra.Command{
		Use:   "reembed",
		Short: "Recompute embeddings of all semantic memories",
		RunE:  runReembed,
	}

	instanceProfile *profile.Profile
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("driver", "postgres", "database driver")
	flags.String("dsn", "", "database source name, overrides the db-* flags")
	flags.String("db-host", "localhost", "database host")
	flags.Int("db-port", 5432, "database port")
	flags.String("db-name", "agentmemory", "database name")
	flags.String("db-user", "", "database user")
	flags.String("db-password", "", "database password")
	flags.Bool("db-ssl", false, "require TLS to the database")
	flags.Int("max-pool-size", profile.DefaultMaxPoolSize, "maximum open connections")
	flags.Duration("idle-timeout", profile.DefaultIdleTimeout, "close connections idle this long")
	flags.Int("max-uses", profile.DefaultMaxUses, "recycle a connection after this many checkouts, 0 disables")
	flags.Duration("connection-timeout", profile.DefaultConnectionTimeout, "connect and acquire timeout")
	flags.Duration("query-timeout", profile.DefaultQueryTimeout, "per statement timeout")
	flags.Bool("allow-exit-on-idle", false, "close the pool without waiting for in-flight work")
	flags.Int("connect-retries", profile.DefaultConnectRetries, "startup connection attempts")
	flags.Duration("retry-backoff", profile.DefaultRetryBackoff, "wait between startup connection attempts")
	flags.Int("embedding-dimension", profile.DefaultEmbeddingDimension, "embedding vector length")
	flags.Duration("episodic-retention", 90*24*time.Hour, "delete episodic memories older than this")
	flags.Duration("semantic-retention", 30*24*time.Hour, "minimum age of low confidence semantic memories before deletion")
	flags.Float64("semantic-min-confidence", profile.DefaultSemanticMinConfidence, "semantic memories below this confidence are eligible for deletion, 0 disables")
	flags.Duration("cleanup-interval", 5*time.Minute, "period of the background cleanup job")

	serveCmd.Flags().String("addr", "", "address of the admin server")
	serveCmd.Flags().Int("port", 8081, "port of the admin server")
	serveCmd.Flags().Duration("stats-cache-ttl", 30*time.Second, "cache statistics responses this long, 0 disables")
	serveCmd.Flags().Bool("reembed", false, "run the re-embedding runner in the background")
	reembedCmd.Flags().Int("batch-size", 8, "memories embedded per request")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd, reembedCmd} {
		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			panic(err)
		}
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("agentmemory")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, migrateCmd, cleanupCmd, statsCmd, healthCmd, reembedCmd)
}

func setup() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, viper.GetString("mode"), level))

	minConfidence := viper.GetFloat64("semantic-min-confidence")
	instanceProfile = &profile.Profile{
		Mode:                  viper.GetString("mode"),
		Addr:                  viper.GetString("addr"),
		Port:                  viper.GetInt("port"),
		Driver:                viper.GetString("driver"),
		DSN:                   viper.GetString("dsn"),
		DBHost:                viper.GetString("db-host"),
		DBPort:                viper.GetInt("db-port"),
		DBName:                viper.GetString("db-name"),
		DBUser:                viper.GetString("db-user"),
		DBPassword:            viper.GetString("db-password"),
		DBSSL:                 viper.GetBool("db-ssl"),
		MaxPoolSize:           viper.GetInt("max-pool-size"),
		IdleTimeout:           viper.GetDuration("idle-timeout"),
		MaxUses:               viper.GetInt("max-uses"),
		ConnectionTimeout:     viper.GetDuration("connection-timeout"),
		QueryTimeout:          viper.GetDuration("query-timeout"),
		AllowExitOnIdle:       viper.GetBool("allow-exit-on-idle"),
		ConnectRetries:        viper.GetInt("connect-retries"),
		RetryBackoff:          viper.GetDuration("retry-backoff"),
		EmbeddingDimension:    viper.GetInt("embedding-dimension"),
		EpisodicRetention:     viper.GetDuration("episodic-retention"),
		SemanticRetention:     viper.GetDuration("semantic-retention"),
		SemanticMinConfidence: &minConfidence,
		CleanupInterval:       viper.GetDuration("cleanup-interval"),
		StatisticsCacheTTL:    viper.GetDuration("stats-cache-ttl"),
	}
	instanceProfile.FromEnv()
	return instanceProfile.Validate()
}

// openStore connects, ensures the schema and returns a ready store.
func openStore(ctx context.Context, collector metrics.Collector) (*store.Store, error) {
	slog.Debug("opening store", "profile", instanceProfile.String())
	driver, err := db.NewDBDriver(ctx, instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(driver, instanceProfile, store.WithMetrics(collector), store.WithLogger(slog.Default()))
	if err := storeInstance.Init(ctx); err != nil {
		if closeErr := storeInstance.Close(); closeErr != nil {
			slog.Warn("failed to close store", "error", closeErr)
		}
		return nil, err
	}
	return storeInstance, nil
}

// withStore runs fn on a ready store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeInstance, err := openStore(ctx, metrics.NewNoopCollector())
	if err != nil {
		return err
	}
	defer func() {
		if err := storeInstance.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()
	return fn(ctx, storeInstance)
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newEmbeddingRunner(s *store.Store) (*embeddingrunner.Runner, error) {
	if !instanceProfile.IsEmbeddingEnabled() {
		return nil, errors.New("embedding service is not configured, set AGENTMEMORY_EMBEDDING_API_KEY")
	}
	service, err := embedding.NewService(embedding.NewConfigFromProfile(instanceProfile))
	if err != nil {
		return nil, err
	}
	return embeddingrunner.NewRunner(s, service).WithBatchSize(viper.GetInt("batch-size")), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewPrometheusCollector()
	storeInstance, err := openStore(ctx, collector)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithRegistry(collector.Registry())}
	if viper.GetBool("reembed") {
		runner, err := newEmbeddingRunner(storeInstance)
		if err != nil {
			storeInstance.Close()
			return err
		}
		opts = append(opts, server.WithEmbeddingRunner(runner))
	}

	s, err := server.NewServer(ctx, instanceProfile, storeInstance, opts...)
	if err != nil {
		storeInstance.Close()
		return errors.Wrap(err, "failed to create server")
	}
	if err := s.Start(ctx); err != nil {
		s.Shutdown(context.Background())
		return errors.Wrap(err, "failed to start server")
	}
	printGreetings()

	<-ctx.Done()
	slog.Info("received shutdown signal")
	s.Shutdown(context.Background())
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		tables, err := s.GetDriver().ListTables(ctx)
		if err != nil {
			return err
		}
		slog.Info("schema is up to date", "tables", tables)
		return nil
	})
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		result, err := s.RunCleanup(ctx)
		return reportCleanup(cmd, result, err)
	})
}

// reportCleanup prints the counts of the rules that succeeded, even when another
// one failed, and returns the cleanup error.
func reportCleanup(cmd *cobra.Command, result *store.CleanupResult, err error) error {
	if result == nil {
		return err
	}
	if printErr := printJSON(cmd, result); printErr != nil && err == nil {
		return printErr
	}
	return err
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		stats, err := s.GetStatistics(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	})
}

func runHealth(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		status := s.CheckHealth(ctx)
		if err := printJSON(cmd, status); err != nil {
			return err
		}
		if !status.Connected {
			return errors.New("database is not reachable")
		}
		return nil
	})
}

func runReembed(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, s *store.Store) error {
		runner, err := newEmbeddingRunner(s)
		if err != nil {
			return err
		}
		processed, err := runner.RunOnce(ctx)
		slog.Info("re-embedding finished", "processed", processed)
		return err
	})
}

func printGreetings() {
	fmt.Printf("agentmemory admin server listening on %s:%d (mode %s)\n", instanceProfile.Addr, instanceProfile.Port, instanceProfile.Mode)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("agentmemory failed", "error", err)
		os.Exit(1)
	}
}
