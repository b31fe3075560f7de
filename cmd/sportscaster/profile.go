package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgnsrekt/sportscaster/internal/backend"
	"github.com/dgnsrekt/sportscaster/internal/config"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Build a viewer profile through the onboarding chat",
	Long: `Chat with the commentator so it can tailor commentary to you. Type
"skip" to save the default profile.`,
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)
}

// chatter is the part of the backend client the onboarding chat needs.
type chatter interface {
	ProfileChat(ctx context.Context, history []backend.ChatMessage) (backend.ChatReply, error)
}

func runProfile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(cfg.BackendURL, nil)
	if err != nil {
		return err
	}
	audio := newAudioQueue(cfg.AudioPlayer)
	if audio != nil {
		defer audio.Close()
	}
	p, err := onboard(ctx, client, os.Stdin, os.Stdout, audio)
	if err != nil {
		return err
	}
	if err := config.SaveProfile(cfg.ProfilePath, p); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, okStyle.Render("Profile saved to "+cfg.ProfilePath))
	return nil
}

// onboard runs the chat until the backend returns a profile, the user
// types "skip" or input ends.
func onboard(ctx context.Context, c chatter, in io.Reader, out io.Writer, audio *display.AudioQueue) (config.Profile, error) {
	var history []backend.ChatMessage
	scanner := bufio.NewScanner(in)
	for {
		reply, err := c.ProfileChat(ctx, history)
		if err != nil {
			return config.Profile{}, fmt.Errorf("profile chat: %w", err)
		}
		if reply.Text != "" {
			fmt.Fprintln(out, hostStyle.Render("Host: ")+reply.Text)
			history = append(history, backend.ChatMessage{Role: "assistant", Text: reply.Text})
		}
		if audio != nil && reply.Audio != "" {
			audio.Enqueue(reply.Audio)
		}
		if reply.Done && reply.Profile != nil {
			return *reply.Profile, nil
		}

		line, ok, err := readLine(scanner, out)
		if err != nil {
			return config.Profile{}, err
		}
		if !ok || strings.EqualFold(line, "skip") {
			return config.DefaultProfile(), nil
		}
		history = append(history, backend.ChatMessage{Role: "user", Text: line})
	}
}

func readLine(scanner *bufio.Scanner, out io.Writer) (string, bool, error) {
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return "", false, scanner.Err()
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, true, nil
		}
	}
}
