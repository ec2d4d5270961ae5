package main

import (
	"context"
	"fmt"
	"os"
	"tether/internal/backends"
	"tether/internal/types"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	tokenAccess  string
	tokenRefresh string
	tokenReveal  bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or change the stored credential",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := backends.CredentialBackendFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		cred, err := store.Get(cmd.Context())
		if err != nil {
			return err
		}

		backend := os.Getenv(backends.CredentialBackendEnvKey)
		if backend == "" {
			backend = backends.BackendFile
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"FIELD", "VALUE"})
		t.AppendRow(table.Row{"backend", backend})
		t.AppendRow(table.Row{"access", mask(cred.AccessToken, tokenReveal)})
		t.AppendRow(table.Row{"refresh", mask(cred.RefreshToken, tokenReveal)})
		t.Render()
		if cred.IsZero() {
			return types.ErrNoCredential
		}
		return nil
	},
}

var tokenSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a credential pair obtained elsewhere",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := backends.CredentialBackendFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		return store.Set(cmd.Context(), types.Credential{AccessToken: tokenAccess, RefreshToken: tokenRefresh})
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := backends.CredentialBackendFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		return store.Clear(cmd.Context())
	},
}

var tokenSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions holding a credential (shared backends only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := backends.CredentialBackendFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		lister, ok := store.(interface {
			ListSessions(ctx context.Context) ([]string, error)
		})
		if !ok {
			return fmt.Errorf("%w: backend cannot list sessions", types.ErrInvalidBackend)
		}
		sessions, err := lister.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"SESSION"})
		for _, name := range sessions {
			t.AppendRow(table.Row{name})
		}
		t.Render()
		return nil
	},
}

func init() {
	tokenShowCmd.Flags().BoolVar(&tokenReveal, "reveal", false, "print tokens in full")
	tokenSetCmd.Flags().StringVar(&tokenAccess, "access", "", "access token")
	tokenSetCmd.Flags().StringVar(&tokenRefresh, "refresh", "", "refresh token")
	_ = tokenSetCmd.MarkFlagRequired("access")
	tokenCmd.AddCommand(tokenShowCmd, tokenSetCmd, tokenClearCmd, tokenSessionsCmd)
}

func mask(tok string, reveal bool) string {
	switch {
	case tok == "":
		return "-"
	case reveal || len(tok) <= 12:
		return tok
	default:
		return fmt.Sprintf("%s…%s (%d chars)", tok[:6], tok[len(tok)-4:], len(tok))
	}
}
