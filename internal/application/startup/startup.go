// Package startup prepares the application server
package startup

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/livedesk-go/internal/application/container"
	schema "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/database"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/routes"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/server"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

const banner = "\033[32m" + `
  ██      ██ ██   ██ ██████ ██████  ██████ ██████ ██  ██
  ██      ██ ██   ██ ██     ██   ██ ██     ██     ██ ██
  ██      ██ ██   ██ ████   ██   ██ ████   ██████ ████
  ██      ██  ██ ██  ██     ██   ██ ██         ██ ██ ██
  ███████ ██   ███   ██████ ██████  ██████ ██████ ██  ██
` + "\033[97m" + `
  made by At Risk Media
` + "\033[0m"

// NewLogger builds the channeled logger described by cfg.
func NewLogger(cfg config.LoggingConfig) (*logging.ChanneledLogger, error) {
	lc := logging.DefaultLoggerConfig()
	lc.DefaultLevel = logging.ParseLevel(cfg.Level)
	lc.JSONFormat = cfg.JSON
	lc.OutputToFile = cfg.ToFile
	if cfg.Directory != "" {
		lc.LogDirectory = cfg.Directory
	}
	lc.RecentEntries = cfg.RecentEntries
	for channel, level := range cfg.ChannelLevels {
		lc.ChannelLevels[logging.Channel(channel)] = logging.ParseLevel(level)
	}
	return logging.NewChanneledLogger(lc)
}

// Migrate creates every table and index the stores need. It is idempotent.
func Migrate(ctx context.Context, cfg *config.Config, logger *logging.ChanneledLogger) error {
	start := time.Now()
	if cfg.Database.Driver == database.DriverLibSQL {
		if err := database.TestTursoConnectionWithLogger(cfg.Database.TursoURL, cfg.Database.TursoToken, logger); err != nil {
			return errors.Wrap(err, "libsql connection check")
		}
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer db.Close()

	if err := schema.NewTableCreator().CreateSchema(ctx, db.DB); err != nil {
		logger.LogStartupPhase("migrate", time.Since(start), false)
		return errors.Wrap(err, "create schema")
	}
	logger.LogStartupPhase("migrate", time.Since(start), true)
	logger.Database().Info().Strs("tables", schema.NewTableCreator().Tables()).Msg("Schema ready")
	return nil
}

// Serve migrates the schema, wires the container and runs the HTTP server,
// the job workers and the cache sweeper until SIGINT or SIGTERM.
func Serve(cfg *config.Config) error {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer logger.Close()

	start := time.Now().UTC()
	os.Stdout.WriteString(banner + "\n")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 1: Schema
	logger.Startup().Info().Str("driver", cfg.Database.Driver).Msg("Migrating database schema")
	if err := Migrate(ctx, cfg, logger); err != nil {
		return err
	}

	// Step 2: Container
	phase := time.Now()
	appContainer, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.LogStartupPhase("container", time.Since(phase), false)
		return errors.Wrap(err, "initialize container")
	}
	defer func() {
		if err := appContainer.Close(); err != nil {
			logger.Shutdown().Error().Err(err).Msg("Error closing backends")
		}
	}()
	logger.LogStartupPhase("container", time.Since(phase), true)

	// Step 3: Agent token secret
	jwtSecret := cfg.Security.JWTSecret
	if jwtSecret == "" {
		if jwtSecret, err = security.GenerateSecureKey(64); err != nil {
			return err
		}
		logger.Auth().Warn().Msg("JWT_SECRET not set; generated an ephemeral secret, agent tokens will not survive a restart")
	}

	// Step 4: Background workers and HTTP server
	httpServer := server.New(cfg.Server, routes.SetupRoutes(appContainer, jwtSecret), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return appContainer.Runtime.Run(gctx)
	})
	if appContainer.Cleanup != nil {
		g.Go(func() error {
			return appContainer.Cleanup.Start(gctx)
		})
	}
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Shutdown().Info().Msg("Shutdown signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Shutdown().Error().Err(err).Msg("Error during server shutdown")
		}
		return appContainer.Runtime.Close()
	})

	select {
	case <-appContainer.Runtime.Running():
		logger.Startup().Info().
			Str("addr", httpServer.Addr()).
			Str("cache", appContainer.Cache.Backend()).
			Str("queue", cfg.Queue.Backend).
			Dur("totalDuration", time.Since(start)).
			Msg("Application startup complete")
	case <-gctx.Done():
	}

	err = g.Wait()
	logger.Shutdown().Info().Dur("totalUptime", time.Since(start)).Msg("Application shutdown complete")
	return err
}
