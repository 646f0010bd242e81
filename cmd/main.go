package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcapi "vision-caption-client/internal/api/grpc"
	"vision-caption-client/internal/app"
	"vision-caption-client/internal/config"
	"vision-caption-client/internal/events"
	apihttp "vision-caption-client/internal/http"
	"vision-caption-client/internal/observability"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/service/camera"
	"vision-caption-client/internal/service/camera/file"
	"vision-caption-client/internal/service/camera/mock"
	"vision-caption-client/internal/service/capture"
	"vision-caption-client/internal/service/caption"
	"vision-caption-client/internal/service/output"
	"vision-caption-client/internal/service/transport"
	"vision-caption-client/internal/session"
)

const shutdownTimeout = 10 * time.Second

var (
	version  = "0.1.0"
	cfgFile  string
	endpoint string
	interval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "vision-caption-client",
	Short: "Streams camera frames to a captioning service and speaks the captions",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a capture session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vision-caption-client v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vision-caption.yaml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "inference service URL, overrides ENDPOINT_URL")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "capture cadence, overrides CAPTURE_INTERVAL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if endpoint != "" {
		cfg.Endpoint.URL = endpoint
	}
	if interval > 0 {
		cfg.Capture.Interval = interval
	}
	return cfg, nil
}

func runClient(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Shutdown()

	m := metrics.DefaultMetrics

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicCaption: cfg.Kafka.TopicCaption,
		TopicDrop:    cfg.Kafka.TopicDrop,
		Principal:    cfg.Kafka.Principal,
		Metrics:      m,
	})

	source, err := newSource(cfg.Capture)
	if err != nil {
		return err
	}

	health := grpcapi.NewHealthServer(m)

	sess, err := session.New(sessionConfig(cfg), session.Deps{
		Source:    source,
		Haptic:    output.NewLogHaptic(),
		Speech:    newSpeech(cfg.Speech),
		Publisher: publisher,
		Metrics:   m,
		OnStateChange: func(_, to transport.State) {
			health.SetConnected(to == transport.StateOpen)
		},
	})
	if err != nil {
		return err
	}

	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.Service.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen on observability address: %w", err)
	}
	obs := observability.NewServer(cfg.Service.HTTPAddr,
		apihttp.NewRouter(application, sess, prometheus.DefaultGatherer))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return obs.Run(gctx, httpLis, shutdownTimeout)
	})
	g.Go(func() error {
		return health.Serve(grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		health.Stop()
		return nil
	})
	g.Go(func() error {
		startErr := sess.Start(gctx)
		if startErr == nil {
			log.Info().Str("sessionId", sess.ID()).Msg("Session running")
			<-gctx.Done()
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Session did not close cleanly")
		}
		return startErr
	})

	return g.Wait()
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()

	sc.Transport.URL = cfg.Endpoint.URL
	sc.Transport.Reconnect = cfg.Endpoint.Reconnect
	sc.Transport.MaxAttempts = cfg.Endpoint.MaxAttempts
	sc.Transport.InitialBackoff = cfg.Endpoint.InitialBackoff
	sc.Transport.MaxBackoff = cfg.Endpoint.MaxBackoff
	sc.Transport.HandshakeTimeout = cfg.Endpoint.HandshakeTimeout

	sc.Capture = capture.Config{
		Interval: cfg.Capture.Interval,
		Params: camera.Params{
			Quality:        cfg.Capture.Quality,
			SkipProcessing: cfg.Capture.SkipProcessing,
			Width:          cfg.Capture.Width,
			Height:         cfg.Capture.Height,
		},
		Policy:      capture.Policy(cfg.Capture.Policy),
		MaxInFlight: int64(cfg.Capture.MaxInFlight),
	}

	sc.Captions = caption.Limits{
		MaxActive:  cfg.Captions.MaxActive,
		MaxHistory: cfg.Captions.MaxHistory,
	}

	sc.Output = output.Config{
		Policy:     output.Policy(cfg.Speech.Policy),
		QueueDepth: cfg.Speech.QueueDepth,
		Voice:      output.Voice{Rate: cfg.Speech.Rate, Language: cfg.Speech.Language},
	}
	return sc
}

func newSource(cfg config.CaptureConfig) (camera.Source, error) {
	if cfg.Source == "dir" {
		src, err := file.New(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open frame directory: %w", err)
		}
		log.Info().Str("dir", cfg.Dir).Int("frames", src.Len()).Msg("Replaying frames from directory")
		return src, nil
	}
	log.Info().Msg("Using synthetic frame source")
	return mock.New(), nil
}

func newSpeech(cfg config.SpeechConfig) output.SpeechSink {
	if cfg.Command != "" {
		return output.NewCommandSpeech(cfg.Command)
	}
	return output.NewLogSpeech()
}
