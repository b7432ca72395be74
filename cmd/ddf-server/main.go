// Package main is the entry point for the DDF dataset query server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "github.com/gapminder/ddf-server/internal/catalog/memcat"
	"github.com/gapminder/ddf-server/internal/catalog/mysqlcat"

	"github.com/gapminder/ddf-server/internal/api"
	"github.com/gapminder/ddf-server/internal/assets"
	"github.com/gapminder/ddf-server/internal/assets/local"
	"github.com/gapminder/ddf-server/internal/assets/s3assets"
	"github.com/gapminder/ddf-server/internal/cache"
	"github.com/gapminder/ddf-server/internal/catalog"
	"github.com/gapminder/ddf-server/internal/cluster"
	"github.com/gapminder/ddf-server/internal/config"
	"github.com/gapminder/ddf-server/internal/table"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ddf-server %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// A default logger exists before config.Load so config-loading errors
	// themselves have somewhere to go; it is replaced below once the
	// configured log level and external-log destination are known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.Logging.ExternalLog != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.Logging.ExternalLog,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	baseLogger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))

	node := cluster.New(version)
	logger = slog.New(baseLogger.Handler().WithAttrs(attrsOf(node.LogFields())))
	slog.SetDefault(logger)

	logger.Info("starting ddf-server",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Type),
		slog.String("address", cfg.Address()),
	)

	if *configPath != "" {
		go watchConfig(*configPath, logger)
	}

	cat, err := createCatalog(cfg, logger)
	if err != nil {
		logger.Error("failed to create catalog backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var pool *sql.DB
	if mysqlStore, ok := cat.(*mysqlcat.Store); ok {
		pool = mysqlStore.DB()
	}
	tables := table.NewLoader(pool)

	assetStore, err := createAssetStore(cfg)
	if err != nil {
		logger.Error("failed to create asset store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var schemaCache *cache.DatasetSchemaCache
	var compiledCache *cache.CompiledQueryCache
	if cfg.Caching.Allow > 0 {
		schemaCache = cache.NewDatasetSchemaCache(cfg.Caching.Allow, cfg.Caching.TTL)
		compiledCache = cache.NewCompiledQueryCache(cfg.Caching.Allow, cfg.Caching.TTL)
	}
	admission := api.NewAdmission(cfg.Admission)

	handler := api.NewHandler(api.HandlerConfig{
		Catalog:            cat,
		Tables:             tables,
		AssetStore:         assetStore,
		SchemaCache:        schemaCache,
		CompiledQueryCache: compiledCache,
		Admission:          admission,
		CachingAllow:       cfg.Caching.Allow > 0,
		LoaderToken:        cfg.Server.LoaderIOToken,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(ctx, cfg, handler, admission, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		if err := cat.Close(); err != nil {
			logger.Error("catalog close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
}

// createCatalog builds the configured catalog backend. mysql is registered
// directly (rather than through the blank-import/factory pair memcat uses)
// because the server also needs the raw *sql.DB it opens, to hand to
// table.Loader so catalog writes and table DDL commit against the same
// database.
func createCatalog(cfg *config.Config, logger *slog.Logger) (catalog.Catalog, error) {
	switch catalog.Type(cfg.Storage.Type) {
	case catalog.TypeMySQL:
		logger.Info("connecting to MySQL",
			slog.String("host", cfg.Storage.MySQL.Host),
			slog.Int("port", cfg.Storage.MySQL.Port),
			slog.String("database", cfg.Storage.MySQL.Database),
		)
		mysqlCfg := mysqlcat.DefaultConfig()
		mysqlCfg.Host = cfg.Storage.MySQL.Host
		mysqlCfg.Port = cfg.Storage.MySQL.Port
		mysqlCfg.Database = cfg.Storage.MySQL.Database
		mysqlCfg.Username = cfg.Storage.MySQL.User
		mysqlCfg.Password = cfg.Storage.MySQL.Password
		mysqlCfg.SocketPath = cfg.Storage.MySQL.SocketPath
		mysqlCfg.TLS = cfg.Storage.MySQL.TLS
		if cfg.Storage.MySQL.MaxOpenConns > 0 {
			mysqlCfg.MaxOpenConns = cfg.Storage.MySQL.MaxOpenConns
		}
		if cfg.Storage.MySQL.MaxIdleConns > 0 {
			mysqlCfg.MaxIdleConns = cfg.Storage.MySQL.MaxIdleConns
		}
		if cfg.Storage.MySQL.ConnMaxLifetime > 0 {
			mysqlCfg.ConnMaxLifetime = time.Duration(cfg.Storage.MySQL.ConnMaxLifetime) * time.Second
		}
		return mysqlcat.NewStore(mysqlCfg)
	default:
		logger.Info("using in-memory catalog")
		return catalog.Create(catalog.TypeMemory, nil)
	}
}

// attrsOf converts a flat key/value slice (as LogFields returns) into
// slog.Attr so it can be bound onto a handler with WithAttrs.
func attrsOf(kv []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		attrs = append(attrs, slog.Any(key, kv[i+1]))
	}
	return attrs
}

// watchConfig logs when the configuration file on disk changes underneath a
// running process, so an operator editing it in place (e.g. rotating the
// admission thresholds) can see the drift without restarting the server to
// discover it. It does not reload Config live: several fields (storage
// backend, asset store) are only safe to change with a fresh process.
func watchConfig(path string, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		logger.Warn("failed to watch config file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				logger.Info("configuration file changed on disk; restart to apply", slog.String("path", path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func createAssetStore(cfg *config.Config) (assets.Store, error) {
	switch assets.Type(cfg.Assets.Store) {
	case assets.TypeS3:
		return s3assets.New(context.Background(), cfg.Assets.Bucket, cfg.Assets.Prefix, cfg.Assets.Region)
	default:
		dir := cfg.Assets.Dir
		if dir == "" {
			dir = "./assets"
		}
		return local.New(dir)
	}
}
