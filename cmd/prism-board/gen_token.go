package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"prism-board/api"
)

func genTokenCmd() *cobra.Command {
	var (
		id  api.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "gen-token",
		Short: "Print an HS256 token for local or test auth mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := tokenSecret(os.Getenv)
			if err != nil {
				return err
			}
			token, err := api.SignToken(secret, id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&id.UserID, "user", "u", "", "subject of the token")
	cmd.Flags().StringVar(&id.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&id.Name, "name", "", "name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// tokenSecret picks the secret the server verifies with.
func tokenSecret(getenv func(string) string) ([]byte, error) {
	if s := getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return []byte(s), nil
	}
	if s := getenv("TEST_JWT_SECRET"); s != "" {
		return []byte(s), nil
	}
	return nil, errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
}
