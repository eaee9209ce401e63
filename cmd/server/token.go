package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"horse-wager/internal/api"
	"horse-wager/internal/config"
	"horse-wager/internal/model"
)

func newTokenCmd() *cobra.Command {
	var (
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Issue a signed bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			role := model.RoleUser
			if admin {
				role = model.RoleAdmin
			}
			tok, err := api.IssueToken([]byte(config.JWTSecretFromEnv()), args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "issue an admin token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
