package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/config"
	"github.com/promptgate/enhance-gateway/internal/database"
	"github.com/promptgate/enhance-gateway/internal/eventbus"
	"github.com/promptgate/enhance-gateway/internal/logging"
	"github.com/promptgate/enhance-gateway/internal/ratelimit"
	"github.com/promptgate/enhance-gateway/internal/server"
	"github.com/promptgate/enhance-gateway/internal/usage"
)

// Server command flags
var (
	serverEnvFile    string
	serverListenAddr string
	serverLogLevel   string
	serverLogFile    string
	serverConfigPath string
	debugMode        bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway server",
	Long:  `Start the gateway server using configuration from the environment.`,
	Run:   runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverEnvFile, "env", config.EnvOrDefault("ENV", ".env"), "Path to .env file")
	serverCmd.Flags().StringVar(&serverListenAddr, "addr", config.EnvOrDefault("LISTEN_ADDR", ""), "Address to listen on (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", ""), "Log level: debug, info, warn, error (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogFile, "log-file", config.EnvOrDefault("LOG_FILE", ""), "Path to log file (overrides env var, default: stdout)")
	serverCmd.Flags().StringVarP(&serverConfigPath, "config", "c", config.EnvOrDefault("GATEWAY_CONFIG_PATH", ""), "Path to YAML overlay config (origins, subjects, system prompt)")
	serverCmd.Flags().BoolVarP(&debugMode, "debug", "v", config.EnvBoolOrDefault("DEBUG", false), "Enable debug logging (overrides log-level)")
}

func runServer(cmd *cobra.Command, args []string) {
	// Load .env file if it exists
	if _, err := os.Stat(serverEnvFile); err == nil {
		if err := godotenv.Load(serverEnvFile); err != nil {
			log.Printf("Warning: Error loading %s file: %v", serverEnvFile, err)
		} else {
			log.Printf("Loaded environment from %s", serverEnvFile)
		}
	}

	// Apply command line overrides to environment variables
	if serverListenAddr != "" {
		mustSetenv("LISTEN_ADDR", serverListenAddr)
	}
	if serverLogLevel != "" {
		mustSetenv("LOG_LEVEL", serverLogLevel)
	}
	if serverLogFile != "" {
		mustSetenv("LOG_FILE", serverLogFile)
	}
	if debugMode || os.Getenv("DEBUG") == "1" {
		mustSetenv("LOG_LEVEL", "debug")
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if serverConfigPath != "" {
		overlay, err := config.LoadOverlayFromFile(serverConfigPath)
		if err != nil {
			log.Fatalf("Failed to load config overlay %s: %v", serverConfigPath, err)
		}
		overlay.Apply(cfg)
	}

	zapLogger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "inappropriate ioctl for device") {
				log.Printf("Error syncing zap logger: %v", err)
			}
		}
	}()

	// Fail fast if the configured address is already in use
	if ln, err := net.Listen("tcp", cfg.ListenAddr); err != nil {
		zapLogger.Fatal("Listen address unavailable (already in use?)",
			zap.String("addr", cfg.ListenAddr), zap.Error(err))
	} else {
		_ = ln.Close()
	}

	if cfg.UpstreamAPIKey != "" {
		zapLogger.Info("upstream credential loaded",
			zap.String("api_key", logging.ObfuscateSecret(cfg.UpstreamAPIKey)))
	}

	db, err := database.NewFromConfig(database.ConfigFromEnv())
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// Rate-limit windows live in the database by default; Redis is available
	// for multi-instance deployments. Usage counters always use the database.
	var windows ratelimit.WindowStore = db
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		windows = ratelimit.NewRedisWindowStore(client, "")
		zapLogger.Info("using redis rate-limit backend", zap.String("addr", cfg.RedisAddr))
	}

	bus := eventbus.NewInMemoryEventBus(cfg.EventBusBufferSize)
	aggregator := usage.NewAggregator(usage.DefaultAggregatorConfig(), db, bus, zapLogger)
	aggregator.Start()

	srv, err := server.NewWithLogger(cfg, server.Dependencies{
		Windows: windows,
		Usage:   db,
		Bus:     bus,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize server", zap.Error(err))
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("server stopped", zap.Error(err))
			done <- syscall.SIGTERM
		}
	}()
	fmt.Printf("Gateway listening on %s\n", cfg.ListenAddr)

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := aggregator.Stop(ctx); err != nil {
		zapLogger.Error("usage aggregator shutdown failed", zap.Error(err))
	}
}

func mustSetenv(key, value string) {
	if err := os.Setenv(key, value); err != nil {
		log.Fatalf("Failed to set %s environment variable: %v", key, err)
	}
}
