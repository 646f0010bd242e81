// Command inferencesim is a stand-in for the captioning service. It listens
// for WebSocket capture frames and streams canned captions back.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vision-caption-client/internal/observability/logging"
)

var (
	addr       string
	safeProb   float64
	tokenDelay time.Duration
	captions   []string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "inferencesim",
	Short: "Simulated captioning service for the vision caption client",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Level: logLevel, Format: "console"})
		log := logging.WithComponent("inferencesim")

		sim := NewSimulator(captions, safeProb, tokenDelay, log)
		srv := &http.Server{
			Addr:              addr,
			Handler:           sim,
			ReadHeaderTimeout: 5 * time.Second,
		}

		log.Info().
			Str("addr", addr).
			Float64("safeProbability", safeProb).
			Dur("tokenDelay", tokenDelay).
			Msg("Inference simulator starting")
		return srv.ListenAndServe()
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":2222", "listen address")
	rootCmd.Flags().Float64Var(&safeProb, "safe-probability", 0.5, "fraction of frames classified safe (no caption)")
	rootCmd.Flags().DurationVar(&tokenDelay, "token-delay", 80*time.Millisecond, "delay between caption tokens")
	rootCmd.Flags().StringArrayVar(&captions, "caption", nil, "caption to cycle through (repeatable)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
