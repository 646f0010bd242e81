package app

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vision-caption-client/internal/config"
	"vision-caption-client/internal/observability/logging"
)

const serviceName = "vision-caption-client"

// Application holds process-wide state for the client.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Vision caption client application created")
	return a
}

// setupLogger configures the global zerolog logger. ZEROLOG_LOG_LEVEL
// overrides the configured level; ENV=dev forces console output.
func (a *Application) setupLogger() {
	logCfg := logging.DefaultConfig()
	if a.Cfg != nil {
		logCfg.Level = a.Cfg.Observability.LogLevel
		logCfg.Format = a.Cfg.Observability.LogFormat
	}
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			logCfg.Level = strings.ToLower(envLevel)
		}
	}
	if os.Getenv("ENV") == "dev" {
		logCfg.Format = "console"
	}

	logging.Init(logCfg)

	a.Logger = logging.WithComponent("application").With().
		Str("service", serviceName).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", logCfg.Format).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start records the startup time.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Vision caption client starting")

	return nil
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().
		Dur("uptime", a.Uptime()).
		Msg("Vision caption client shutting down")
}
