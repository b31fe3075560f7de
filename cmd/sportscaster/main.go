// Command sportscaster runs the live sports commentator: a control API
// over the browser capture pipeline, plus terminal clients for backend
// sessions and profile onboarding.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version = "dev"
	commit  = "unknown"

	cfg         *config.Config
	logLevel    string
	profilePath string
)

var rootCmd = &cobra.Command{
	Use:   "sportscaster",
	Short: "Live AI commentary for sports video",
	Long: `Sportscaster captures the video playing in a browser tab, streams frames
to the commentary backend and plays back what it says.

  sportscaster serve                  # control API over the browser capture
  sportscaster watch <youtube-url>    # backend-hosted session in the terminal
  sportscaster profile                # onboarding chat, saves profile.yaml
  sportscaster health                 # check backend and browser`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if profilePath != "" {
			loaded.ProfilePath = profilePath
		}
		if err := setupLogger(loaded); err != nil {
			return fmt.Errorf("logger setup failed: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Viewer profile file")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(c *config.Config) error {
	if dir := filepath.Dir(c.LogFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: c.SlogLevel()})
	slog.SetDefault(slog.New(h))
	return nil
}
