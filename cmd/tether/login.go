package main

import (
	"fmt"
	"net/http"
	"tether/internal/gateway"
	"tether/internal/types"

	"github.com/spf13/cobra"
)

var (
	loginUser     string
	loginPassword string
	loginPath     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a credential pair with username and password",
	Example: `  tether login -u demo -p demo
  tether login -u alice -p secret --path /auth/token/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		resp, err := sess.Gateway.Call(ctx, gateway.Operation{
			Method: http.MethodPost,
			Path:   loginPath,
			Body:   map[string]string{"username": loginUser, "password": loginPassword},
		})
		if err != nil {
			return err
		}
		var out struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		}
		if err := resp.Decode(&out); err != nil {
			return err
		}
		if err := sess.Login(ctx, types.Credential{AccessToken: out.Access, RefreshToken: out.Refresh}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", loginUser)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password")
	loginCmd.Flags().StringVar(&loginPath, "path", "/users/login/", "login endpoint, relative to base_url")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")
}
