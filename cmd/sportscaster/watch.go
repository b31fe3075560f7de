package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/sportscaster/internal/backend"
	"github.com/dgnsrekt/sportscaster/internal/viewer"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <youtube-url>",
	Short: "Start a backend session for a YouTube URL and stream its commentary",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(cfg.BackendURL, nil)
	if err != nil {
		return err
	}

	v := viewer.New(client)
	fmt.Println(infoStyle.Render("Downloading video..."))
	sess, err := v.Submit(ctx, args[0])
	if err != nil {
		if errors.Is(err, viewer.ErrEmptyURL) {
			return err
		}
		return errors.New(v.Error())
	}
	fmt.Println(okStyle.Render(v.Status()))

	opts := []viewer.PlayerOption{
		viewer.WithPlayerOutput(os.Stdout, 80),
		viewer.OnStatus(func(s string) { slog.Info("session status", "session_id", sess.SessionID, "status", s) }),
	}
	if audio := newAudioQueue(cfg.AudioPlayer); audio != nil {
		defer audio.Close()
		opts = append(opts, viewer.WithPlayerAudio(audio))
	}
	p := viewer.NewPlayer(sess, client.SessionURL(sess.SessionID), client.ResolveURL(sess.VideoURL), opts...)
	fmt.Println(infoStyle.Render("Video: " + p.VideoURL()))

	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	text, _ := p.Status()
	fmt.Println(infoStyle.Render(text))
	return nil
}
