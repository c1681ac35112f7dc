package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <recipient-id> <message>...",
	Short: "Send one chat message and print the outcome",
	Long: `Connect, send one direct message and print the server's verdict.

Examples:
  realtime-cli send bob "rounds start at 9"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Connect(ctx); err != nil {
			return err
		}
		msg, err := c.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("message %s: %w", msg.DeliveryState, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s id=%d seq=%d\n", msg.DeliveryState, msg.MessageID, msg.Seq)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 15*time.Second, "Overall timeout")
}
