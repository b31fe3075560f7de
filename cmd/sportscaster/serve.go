package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/api"
	"github.com/dgnsrekt/sportscaster/internal/backend"
	"github.com/dgnsrekt/sportscaster/internal/browser"
	"github.com/dgnsrekt/sportscaster/internal/capture"
	"github.com/dgnsrekt/sportscaster/internal/cdp"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/dgnsrekt/sportscaster/internal/controller"
	"github.com/dgnsrekt/sportscaster/internal/delayloader"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/netutil"
	"github.com/dgnsrekt/sportscaster/internal/offscreen"
	"github.com/dgnsrekt/sportscaster/internal/pageagent"
	"github.com/dgnsrekt/sportscaster/internal/relay"
	"github.com/dgnsrekt/sportscaster/internal/sidepanel"
	"github.com/dgnsrekt/sportscaster/internal/snapshot"
	"github.com/spf13/cobra"
)

var serveRender bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API over the browser capture pipeline",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRender, "render", false, "Print the commentary panel to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	slog.Info("sportscaster config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"backend_url", cfg.BackendURL,
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout", cfg.EvalTimeout,
		"delay_ms", cfg.DelayMS,
		"snapshot_dir", cfg.SnapshotDir,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress:  cfg.CDPAddress,
			CDPPort:     cfg.CDPPort,
			BrowserPath: cfg.BrowserPath,
			ProfileDir:  cfg.ProfileDir,
			Headless:    cfg.Headless,
		})
		if err := launcher.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer launcher.Stop()
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindFallbacks, cfg.BindAuto)
	if err != nil {
		return fmt.Errorf("select bind address %s: %w", cfg.BindAddr, err)
	}

	cdpClient := cdpcontrol.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := cdpClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect CDP %s: %w", cfg.GetCDPURL(), err)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	backendClient, err := backend.NewClient(cfg.BackendURL, nil)
	if err != nil {
		return err
	}
	if err := backendClient.Health(ctx); err != nil {
		slog.Warn("backend not healthy yet", "url", backendClient.BaseURL(), "error", err)
	}

	snapStore, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("create snapshot store %s: %w", cfg.SnapshotDir, err)
	}

	bus := relay.NewBus()
	host := offscreen.NewHost(ctx, bus, offscreen.Deps{
		Open: func(_ context.Context, handle, tabID string) (capture.Source, error) {
			return capture.NewTabSource(cdpClient, handle, tabID), nil
		},
		Dial: func(ctx context.Context) (offscreen.Link, error) {
			sock, err := backend.Dial(ctx, backendClient.LiveURL(), backend.WithFrameTimestamps())
			if err != nil {
				return nil, err
			}
			return sock, nil
		},
		Watch:   cdpClient.OnHandleDetached,
		Sport:   cfg.Sport,
		Persona: cfg.Persona,
		Profile: loadProfile(cfg.ProfilePath),
	})
	coord := relay.NewCoordinator(bus, relay.NewSessionStore(bus), cdpClient, host)

	agent := pageagent.New(bus, cdpClient, cdpClient, pageagent.WithPreview(func(ctx context.Context, tabID string) (capture.Source, error) {
		handle, err := cdpClient.CaptureHandle(ctx, tabID)
		if err != nil {
			return nil, err
		}
		return capture.NewTabSource(cdpClient, handle, tabID), nil
	}, cfg.PreviewFPS))

	panelOpts := []sidepanel.Option{sidepanel.WithCaptions(agent)}
	if serveRender {
		panelOpts = append(panelOpts, sidepanel.WithOutput(os.Stdout, 80))
	}
	if audio := newAudioQueue(cfg.AudioPlayer); audio != nil {
		defer audio.Close()
		panelOpts = append(panelOpts, sidepanel.WithAudio(audio))
	}
	var loader *delayloader.Loader
	if cfg.DelayedViewer {
		viewerTab := cdp.NewViewerTab(cfg.GetCDPURL())
		defer viewerTab.Close()
		loader = delayloader.New(viewerTab,
			delayloader.WithDelay(startDelay(cfg.DelayMS)),
			delayloader.OnChange(func(s delayloader.Snapshot) {
				slog.Debug("delayed viewer", "state", s.StateName, "video_id", s.VideoID, "remaining_s", s.Remaining)
			}),
		)
		panelOpts = append(panelOpts, sidepanel.WithViewer(loader))
	}
	panel := sidepanel.New(bus, panelOpts...)

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"background": coord.Run,
		"content":    agent.Run,
		"sidepanel":  panel.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				slog.Error("endpoint stopped", "endpoint", name, "error", err)
				stop()
			}
		}()
	}

	deps := controller.Deps{
		Capture: coord,
		Panel:   panel,
		Page:    agent,
		Snaps:   snapStore,
		Stats: func() capture.Stats {
			if w := host.Worker(); w != nil {
				return w.Stats()
			}
			return capture.Stats{}
		},
	}
	if loader != nil {
		deps.Delay = loader
	}
	svc := controller.NewService(deps)
	h := api.NewServer(svc, api.Options{Bus: bus, CORSOrigins: cfg.CORSOrigins})
	srv := &http.Server{Addr: bindAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sportscaster listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("sportscaster server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coord.StopCapture(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("sportscaster shutdown failed", "error", err)
	}
	stop()
	wg.Wait()
	host.Wait()
	return serveErr
}

func newAudioQueue(player string) *display.AudioQueue {
	sink := display.NewFFPlaySink(player)
	if !sink.Available() {
		slog.Warn("audio player not found, commentary will be silent", "player", sink.Command)
		return nil
	}
	return display.NewAudioQueue(sink)
}

func startDelay(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if err := delayloader.ValidDelay(d); err != nil {
		slog.Warn("invalid SPORTSCASTER_DELAY_MS, using default", "delay_ms", ms, "error", err)
		return delayloader.DefaultDelay
	}
	return d
}

func loadProfile(path string) *config.Profile {
	p, ok, err := config.LoadProfile(path)
	if err != nil {
		slog.Warn("profile unreadable, using defaults", "path", path, "error", err)
	}
	if !ok {
		def := config.DefaultProfile()
		return &def
	}
	return &p
}
