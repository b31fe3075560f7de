package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dgnsrekt/sportscaster/internal/backend"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend and the browser are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		failed := false
		client, err := backend.NewClient(cfg.BackendURL, nil)
		if err == nil {
			err = client.Health(ctx)
		}
		if err != nil {
			failed = true
			fmt.Println(errStyle.Render("backend  "), cfg.BackendURL, err)
		} else {
			fmt.Println(okStyle.Render("backend  "), cfg.BackendURL)
		}

		cdpClient := cdpcontrol.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
		defer func() { _ = cdpClient.Close() }()
		tabs, err := cdpClient.ListTabs(ctx)
		if err != nil {
			failed = true
			fmt.Println(errStyle.Render("browser  "), cfg.GetCDPURL(), err)
		} else {
			fmt.Println(okStyle.Render("browser  "), cfg.GetCDPURL(), fmt.Sprintf("(%d tabs)", len(tabs)))
		}

		if failed {
			return fmt.Errorf("health check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
