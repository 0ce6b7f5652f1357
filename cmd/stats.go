package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/internal/app"
	"github.com/Zerofisher/hcisnoop/stats"
)

// stats command flags
var (
	statsInputFile string
	statsFilter    string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Packet statistics",
	Long:    `Analyze the packets of a capture file and display statistics.`,
	GroupID: "analysis",
}

var statsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show packet counts per type",
	Long:  `Display packet and byte counts for each HCI packet type.`,
	Example: `  hcisnoop stats summary -r snoop.log
  hcisnoop stats summary -r snoop.log -Y "frame.len > 100"`,
	RunE: runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintSummary(cmd.OutOrStdout()) }),
}

var statsHandlesCmd = &cobra.Command{
	Use:     "handles",
	Short:   "Show connection handle statistics",
	Long:    `Display packet and byte counts for each ACL and ISO connection handle.`,
	Example: `  hcisnoop stats handles -r snoop.log`,
	RunE:    runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintHandles(cmd.OutOrStdout()) }),
}

var statsEventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Show event code statistics",
	Long:    `Display how often each HCI event code occurs.`,
	Example: `  hcisnoop stats events -r snoop.log`,
	RunE:    runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintEvents(cmd.OutOrStdout()) }),
}

func init() {
	// Persistent flags for stats command (inherited by all subcommands)
	statsCmd.PersistentFlags().StringVarP(&statsInputFile, "read", "r", "",
		"Input capture file (required)")
	statsCmd.PersistentFlags().StringVarP(&statsFilter, "filter", "Y", "",
		"Packet filter expression")
	statsCmd.MarkPersistentFlagRequired("read")

	// Add subcommands
	statsCmd.AddCommand(statsSummaryCmd)
	statsCmd.AddCommand(statsHandlesCmd)
	statsCmd.AddCommand(statsEventsCmd)
}

// runStats collects statistics over the input file and hands them to show.
func runStats(show func(*stats.Manager, *cobra.Command)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, err := app.RunStats(statsInputFile, statsFilter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d packets from %s\n\n", m.TotalPackets()+m.Filtered(), statsInputFile)
		show(m, cmd)
		return nil
	}
}
