package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/config"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/db"
	"github.com/w4cha/csv-manager/internal/logging"
	"github.com/w4cha/csv-manager/op"
	"github.com/w4cha/csv-manager/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := mainImpl(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "csvmgr-server: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet declares the command line. Flags named after a config key
// override it, e.g. --server-addr for server.addr.
func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("csvmgr-server", pflag.ContinueOnError)
	flags.String("config", "csvmanager.yaml", "Config file")
	flags.Bool("memory", false, "Keep tables in memory only")
	flags.Bool("version", false, "Show version and exit")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS key file")
	flags.String(config.FlagName("data_dir"), "data", "Directory holding the table files")
	flags.Bool(config.FlagName("history"), true, "Record every change in a git repository")
	flags.String(config.FlagName("log.level"), "info", "Log level: debug, info, warn or error")
	flags.String(config.FlagName("server.addr"), "127.0.0.1:3306", "Address to listen on")
	flags.Int(config.FlagName("server.max_connections"), 100, "Connections served at once, 0 for no limit")
	flags.Float64(config.FlagName("server.rate_limit"), 0, "Requests per second per connection, 0 for no limit")
	flags.Int(config.FlagName("server.rate_burst"), 10, "Request burst per connection")
	flags.String(config.FlagName("server.metrics_addr"), "", "Address serving /metrics, empty to disable")
	flags.Bool(config.FlagName("server.watch"), false, "Reload tables changed by other processes")
	flags.String(config.FlagName("auth.jwt_secret"), "", "Require AUTH JWT tokens signed with this secret")
	return flags
}

func mainImpl(args []string) error {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return err
	}
	if v, _ := flags.GetBool("version"); v {
		fmt.Printf("csvmgr server v%s\n", Version)
		return nil
	}
	configFile, _ := flags.GetString("config")
	memory, _ := flags.GetBool("memory")

	cfg, err := config.LoadFlags(config.DefaultPrefix, flags, ".env", configFile)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(level)
	delimiter, err := cfg.DelimiterRune()
	if err != nil {
		return err
	}

	var persistence *ps.Persistence
	if memory {
		logger.Info("using memory persistence")
		persistence, err = ps.NewMemoryPersistence()
	} else {
		logger.Info("using file persistence", "dir", cfg.DataDir, "history", cfg.History)
		persistence, err = ps.NewFilePersistence(cfg.DataDir, cfg.History)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	identity := core.Identity{Name: "csvmgr server", Email: "server@csvmgr.local"}
	instance := csvmanager.Open(persistence,
		csvmanager.WithIdentity(identity),
		csvmanager.WithLogger(logger),
		csvmanager.WithQueryOptions(cfg.QueryOptions()),
		csvmanager.WithS3(&db.S3Config{
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
		}),
		csvmanager.WithTableOptions(op.WithDelimiter(delimiter), op.WithLimits(cfg.Limits())),
	)

	server := NewServer(instance, identity,
		WithLogger(logger),
		WithAuth(&AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
		}),
		WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		WithMaxConnections(cfg.Server.MaxConnections),
	)

	certFile, _ := flags.GetString("tls-cert")
	keyFile, _ := flags.GetString("tls-key")
	if certFile != "" && keyFile != "" {
		err = server.StartTLS(cfg.Server.Addr, certFile, keyFile)
	} else {
		err = server.Start(cfg.Server.Addr)
	}
	if err != nil {
		return err
	}
	defer server.Stop()

	if cfg.Server.MetricsAddr != "" {
		if _, err := server.ServeMetrics(cfg.Server.MetricsAddr); err != nil {
			return err
		}
	}
	if cfg.Server.Watch && !memory {
		if err := server.Watch(cfg.DataDir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.DataDir, err)
		}
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║   csvmgr server v%-20s ║\n", Version)
	fmt.Println("║   Delimited tables over JSON lines    ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listening on %s\n", server.Addr())
	fmt.Println(`Send {"table":..,"op":..,"text":..} (one per line), 'quit' to disconnect`)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	return nil
}
