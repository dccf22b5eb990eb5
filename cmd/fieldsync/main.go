package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/netmon"
	"github.com/iudanet/fieldsync/internal/client/offline"
	"github.com/iudanet/fieldsync/internal/client/storage/boltdb"
	"github.com/iudanet/fieldsync/internal/client/storage/sqlite"
	"github.com/iudanet/fieldsync/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	configFile := flag.String("config", "", "Path to YAML config file")
	serverURL := flag.String("server", "", "Server URL (overrides config)")
	dbPath := flag.String("db", "", "Path to local database (overrides config)")

	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Получаем команду
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]

	if err := run(command, *configFile, *serverURL, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command, configFile, serverURL, dbPath string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx := context.Background()

	// Открываем выбранный адаптер хранилища
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Создаем API клиент
	apiClient := api.NewClient(cfg.Server.BaseURL,
		api.WithTimeout(cfg.Server.RequestTimeout),
		api.WithHealthPath(cfg.Server.HealthPath),
	)

	monitor := netmon.New(func(ctx context.Context) bool {
		return apiClient.Ping(ctx) == nil
	}, cfg.Sync.ProbeInterval, logger)

	session := offline.NewSession(apiClient, store, monitor, nil, offline.Options{
		MaxRetries:    cfg.Sync.MaxRetries,
		SweepInterval: cfg.Cache.SweepInterval,
		DrainInterval: cfg.Sync.DrainInterval,
	}, logger)

	if err := session.Init(ctx); err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()

	// Выполняем команду
	switch command {
	case "status":
		return runStatus(ctx, session)
	case "sync":
		return runSync(ctx, session)
	case "queue":
		return runQueue(ctx, session)
	case "sweep":
		return runSweep(ctx, session)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// openStore открывает адаптер Durable Store согласно конфигурации
func openStore(ctx context.Context, cfg *config.Config) (offline.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := boltdb.New(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func runStatus(ctx context.Context, session *offline.Session) error {
	pending, err := session.PendingCount(ctx)
	if err != nil {
		return err
	}

	state := "offline"
	if session.Online() {
		state = "online"
	}

	fmt.Printf("Connectivity:       %s\n", state)
	fmt.Printf("Pending operations: %d\n", pending)
	return nil
}

func runSync(ctx context.Context, session *offline.Session) error {
	fmt.Println("Draining sync queue...")

	summary, err := session.SyncNow(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Synced:  %d\n", summary.Synced)
	fmt.Printf("Failed:  %d\n", summary.Failed)
	fmt.Printf("Pending: %d\n", summary.Pending)
	return nil
}

func runQueue(ctx context.Context, session *offline.Session) error {
	ops, err := session.ListPending(ctx)
	if err != nil {
		return err
	}

	if len(ops) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	for _, op := range ops {
		created := time.UnixMilli(op.CreatedAt).Format(time.RFC3339)
		fmt.Printf("#%d  %s %s  type=%s  created=%s  retries=%d\n",
			op.ID, op.Method, op.Endpoint, op.Type, created, op.RetryCount)
		if op.LastError != "" {
			fmt.Printf("     last error: %s\n", op.LastError)
		}
	}
	return nil
}

func runSweep(ctx context.Context, session *offline.Session) error {
	removed, err := session.Cache().SweepExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired cache entries\n", removed)
	return nil
}

func printVersion() {
	fmt.Printf("fieldsync client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build date: %s\n", BuildDate)
	fmt.Printf("Git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println("Usage: fieldsync [flags] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status  Show connectivity state and pending operation count")
	fmt.Println("  sync    Drain the sync queue now")
	fmt.Println("  queue   List pending operations")
	fmt.Println("  sweep   Remove expired cache entries")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
