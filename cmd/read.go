package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/export"
	"github.com/Zerofisher/hcisnoop/internal/app"
)

// read command flags
var (
	readFilter string
	readCount  int
)

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Print packets from a capture file",
	Long: `Read packets from a btsnoop, pcap or pcapng capture written by extract and
print one line per packet. The format is detected from the file header.`,
	Example: `  hcisnoop read snoop.log
  hcisnoop read snoop.log -Y "evt.code == 0x3e"

For other output modes, use subcommands:
  hcisnoop read text snoop.log -c 10 -x
  hcisnoop read json snoop.log
  hcisnoop read fields snoop.log -e frame.number -e acl.handle`,
	Args:    cobra.ExactArgs(1),
	GroupID: "analysis",
	RunE:    runReadText,
}

// text subcommand flags
var readTextHex bool

var readTextCmd = &cobra.Command{
	Use:   "text <file>",
	Short: "Output packets as text",
	Long:  `Output packets in human-readable text format to stdout.`,
	Example: `  hcisnoop read text snoop.log
  hcisnoop read text snoop.log -c 10 -x`,
	Args: cobra.ExactArgs(1),
	RunE: runReadText,
}

// json subcommand flags
var readJSONHex bool

var readJSONCmd = &cobra.Command{
	Use:   "json <file>",
	Short: "Output packets as JSON",
	Long:  `Output packets in JSON format to stdout.`,
	Example: `  hcisnoop read json snoop.log
  hcisnoop read json snoop.log -c 10 -x`,
	Args: cobra.ExactArgs(1),
	RunE: runReadJSON,
}

// fields subcommand flags
var readFieldsExtract []string

var readFieldsCmd = &cobra.Command{
	Use:   "fields <file>",
	Short: "Extract specific fields from packets",
	Long:  `Extract and output specific fields from packets, tab separated.`,
	Example: `  hcisnoop read fields snoop.log -e frame.number -e frame.type
  hcisnoop read fields snoop.log -e evt.code -Y evt -c 100`,
	Args: cobra.ExactArgs(1),
	RunE: runReadFields,
}

func init() {
	// Persistent flags for read command (inherited by subcommands)
	readCmd.PersistentFlags().StringVarP(&readFilter, "filter", "Y", "",
		"Packet filter expression")
	readCmd.PersistentFlags().IntVarP(&readCount, "count", "c", 0,
		"Stop after n packets (0 = unlimited)")

	readCmd.Flags().BoolVarP(&readTextHex, "hex", "x", false, "Show hex dump")
	readTextCmd.Flags().BoolVarP(&readTextHex, "hex", "x", false, "Show hex dump")
	readJSONCmd.Flags().BoolVarP(&readJSONHex, "hex", "x", false, "Include raw bytes")
	readFieldsCmd.Flags().StringArrayVarP(&readFieldsExtract, "field", "e", nil,
		"Field to extract (can be specified multiple times)")

	// Add subcommands
	readCmd.AddCommand(readTextCmd)
	readCmd.AddCommand(readJSONCmd)
	readCmd.AddCommand(readFieldsCmd)
}

// runReadText outputs packets as text
func runReadText(cmd *cobra.Command, args []string) error {
	return app.RunExport(cmd.OutOrStdout(), app.ExportConfig{
		Path:     args[0],
		Filter:   readFilter,
		Format:   export.FormatText,
		MaxCount: readCount,
		ShowHex:  readTextHex,
	})
}

// runReadJSON outputs packets as JSON
func runReadJSON(cmd *cobra.Command, args []string) error {
	return app.RunExport(cmd.OutOrStdout(), app.ExportConfig{
		Path:     args[0],
		Filter:   readFilter,
		Format:   export.FormatJSON,
		MaxCount: readCount,
		ShowHex:  readJSONHex,
	})
}

// runReadFields extracts specific fields from packets
func runReadFields(cmd *cobra.Command, args []string) error {
	return app.RunExport(cmd.OutOrStdout(), app.ExportConfig{
		Path:     args[0],
		Filter:   readFilter,
		Format:   export.FormatFields,
		MaxCount: readCount,
		Fields:   readFieldsExtract,
	})
}
