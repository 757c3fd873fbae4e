package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tandem/internal/config"
	"github.com/MarcoPoloResearchLab/tandem/internal/database"
	"github.com/MarcoPoloResearchLab/tandem/internal/logging"
	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	"github.com/MarcoPoloResearchLab/tandem/internal/roster"
	"github.com/MarcoPoloResearchLab/tandem/internal/server"
	"github.com/MarcoPoloResearchLab/tandem/internal/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tandem-api",
		Short: "Tandem collaborative editing server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Room store backend (memory, sqlite)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path or DSN")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Origins allowed to connect")
	cmd.PersistentFlags().Int("send-buffer", defaults.GetInt("websocket.send_buffer"), "Outbound frames queued per connection")
	cmd.PersistentFlags().Int("queue-size", defaults.GetInt("session.queue_size"), "Pending session events before readers block")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "websocket.send_buffer", "send-buffer")
	bindFlag(cmd, "session.queue_size", "queue-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := session.NewEngine(session.EngineConfig{
		Store:  store,
		Roster: roster.New(roster.Config{}),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	loop, err := session.NewLoop(engine, appConfig.SessionQueueSize, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       loop,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		WebSocket: server.WebSocketConfig{
			MaxMessageBytes: appConfig.MaxMessageBytes,
			SendBuffer:      appConfig.SendBuffer,
			PongWait:        appConfig.PongWait,
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return loop.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_driver", appConfig.StoreDriver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// openStore builds the configured room store and returns a release function.
func openStore(appConfig config.AppConfig, logger *zap.Logger) (rooms.Store, func(), error) {
	if appConfig.StoreDriver != config.StoreDriverSQLite {
		return rooms.NewMemoryStore(), func() {}, nil
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	store, err := rooms.NewSQLiteStore(rooms.SQLiteStoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqlDB.Close() }, nil
}
