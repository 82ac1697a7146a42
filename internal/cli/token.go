package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/carelog/internal/auth"
	"github.com/tjfontaine/carelog/internal/config"
)

var tokenTTL time.Duration

func init() {
	cmd := &cobra.Command{
		Use:   "token USER",
		Short: "Mint a bearer token for a user",
		Long:  "Signs a token with auth.jwt_secret for calling the /v1 API during development.",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Token lifetime")

	RootCmd.AddCommand(cmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	a := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if a == nil {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := a.Issue(args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
