package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/nfrund/livepresence/internal/pubsub"
	// Registers the websocket lifecycle and incoming frame topics.
	_ "github.com/nfrund/livepresence/internal/websocket"
)

var (
	topicsFormat string
	topicsModule string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the server's internal bus topics",
	Long: `List the topics the server publishes on its in-process bus, with the
payload fields each one carries.

Examples:
  realtime-cli topics
  realtime-cli topics --module ws --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list := pubsub.Topics()
		if topicsModule != "" {
			list = lo.Filter(list, func(t pubsub.TopicInfo, _ int) bool { return t.Module == topicsModule })
		}

		out := cmd.OutOrStdout()
		switch topicsFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Topics []pubsub.TopicInfo `json:"topics"`
				Count  int                `json:"count"`
			}{list, len(list)})
		case "table":
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tFIELDS\tDESCRIPTION")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.TypeName, strings.Join(t.PayloadFields, ","), t.Description)
			}
			return w.Flush()
		default:
			return fmt.Errorf("unsupported output format %q, use table or json", topicsFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsCmd.Flags().StringVarP(&topicsModule, "module", "m", "", "Filter topics by module prefix")
}
