package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/livepresence/internal/auth"
)

var (
	tokenUsername string
	tokenTTL      time.Duration
	tokenIssuer   string
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development session token",
	Long: `Mint a signed session token for user-id using JWT_SECRET from the
environment. The server must share the same secret and issuer.

Examples:
  JWT_SECRET=... realtime-cli token alice --username "Dr. Alice"
  export REALTIME_TOKEN=$(realtime-cli token bob --ttl 1h)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		svc := auth.NewService(secret, tokenIssuer, tokenTTL)
		token, expiresAt, err := svc.Issue(args[0], tokenUsername)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenUsername, "username", "u", "", "Display name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", envOr("JWT_ISSUER", "livepresence"), "Token issuer")
}
