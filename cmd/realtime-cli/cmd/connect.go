package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/livepresence/internal/client"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect and stream presence and chat events",
	Long: `Open the presence and chat channels and print every event until interrupted.

Examples:
  realtime-cli connect --token $REALTIME_TOKEN
  realtime-cli connect --url https://presence.example.com --log-level info`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		printEvents(cmd.OutOrStdout(), c.Notifier())

		if err := c.Connect(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

// newClient builds a client from REALTIME_* settings overridden by flags.
func newClient() (*client.Client, error) {
	cfg, err := client.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.URL = serverURL
	}
	if tokenFlag == "" {
		return nil, errors.New("a token is required: use --token or REALTIME_TOKEN")
	}
	cfg.Token = client.StaticToken(tokenFlag)
	return client.New(cfg), nil
}

func printEvents(w io.Writer, n *client.Notifier) {
	stamp := func() string { return time.Now().Format("15:04:05.000") }

	n.OnStateChanged(func(e client.StateChanged) {
		if e.Err != nil {
			fmt.Fprintf(w, "%s %-8s state=%s error=%v\n", stamp(), e.Channel, e.State, e.Err)
			return
		}
		fmt.Fprintf(w, "%s %-8s state=%s\n", stamp(), e.Channel, e.State)
	})
	n.OnSnapshot(func(e client.SnapshotApplied) {
		fmt.Fprintf(w, "%s presence snapshot version=%d users=%d\n", stamp(), e.Snapshot.Version, len(e.Snapshot.Records))
		for _, r := range e.Snapshot.Records {
			fmt.Fprintf(w, "  %-16s online=%-5t last_seen=%s\n", r.UserID, r.IsOnline, lastSeen(r.LastSeen))
		}
	})
	n.OnPresenceChanged(func(e client.PresenceChanged) {
		for _, r := range e.Delta.Changes {
			fmt.Fprintf(w, "%s presence %s online=%t last_seen=%s\n", stamp(), r.UserID, r.IsOnline, lastSeen(r.LastSeen))
		}
	})
	n.OnMessageReceived(func(e client.MessageReceived) {
		fmt.Fprintf(w, "%s chat from=%s seq=%d: %s\n", stamp(), e.Message.SenderID, e.Message.Seq, e.Message.Body)
	})
	n.OnOrderingViolation(func(e client.OrderingViolated) {
		fmt.Fprintf(w, "%s chat gap from=%s seq=%d..%d\n", stamp(), e.Violation.SenderID, e.Violation.FromSeq, e.Violation.ToSeq)
	})
	n.OnSendFailed(func(e client.SendFailed) {
		fmt.Fprintf(w, "%s send failed ref=%s: %v\n", stamp(), e.ClientRef, e.Reason)
	})
}

func lastSeen(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(time.DateTime)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
