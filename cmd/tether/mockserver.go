package main

import (
	"os/signal"
	"syscall"
	"tether/internal/api"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	mockPort      int
	mockAccessTTL time.Duration
	mockRotate    bool
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local backend for trying the client out",
	Long: `Run a local backend that issues short-lived JWT credentials (user demo,
password demo), serves the refresh endpoint, a protected echo resource and
an event channel that broadcasts every envelope it receives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := api.NewServer(api.Options{AccessTTL: mockAccessTTL, RotateRefresh: mockRotate})
		stopCh, done := api.RunServerInterruptible(mockPort, srv)
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			close(stopCh)
			return <-done
		case err := <-done:
			return err
		}
	},
}

func init() {
	mockServerCmd.Flags().IntVar(&mockPort, "port", 8000, "listen port")
	mockServerCmd.Flags().DurationVar(&mockAccessTTL, "access-ttl", time.Minute, "access token lifetime")
	mockServerCmd.Flags().BoolVar(&mockRotate, "rotate", false, "rotate refresh tokens on every refresh")
}
