package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/api"
)

var (
	tokenSecret string
	tokenUser   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a caller bearer token",
	Long: `Issue an HS256 bearer token accepted by the /bridge routes. The secret is
read from --secret or BRIDGE_JWT_SECRET.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("BRIDGE_JWT_SECRET")
		}
		if secret == "" {
			return errors.New("a signing secret is required (--secret or BRIDGE_JWT_SECRET)")
		}
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		tok, err := api.IssueToken([]byte(secret), tokenUser, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user_id claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", api.DefaultTokenTTL, "Token lifetime")
}
