package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/internal/report"
	"github.com/Zerofisher/hcisnoop/pkg/store/sqlite"
)

var reportCmd = &cobra.Command{
	Use:   "report <capture file>",
	Short: "Generate a report from an extraction index",
	Long: `Generate a Markdown or JSON report from the index written by
"extract --index" next to a capture file.`,
	Example: `  hcisnoop report snoop.log
  hcisnoop report snoop.log --format json -o report.json`,
	GroupID: "analysis",
	Args:    cobra.ExactArgs(1),
	RunE:    runReport,
}

var (
	reportFormat string
	reportOutput string
	reportTop    int
)

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "Output format: markdown, json")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default: stdout)")
	reportCmd.Flags().IntVar(&reportTop, "top", 10, "Number of handles and events to list")
}

func runReport(cmd *cobra.Command, args []string) error {
	capturePath := args[0]

	indexPath := sqlite.IndexPath(capturePath)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return fmt.Errorf("no index at %s (run extract with --index)", indexPath)
	}

	st, err := sqlite.NewFromCapture(capturePath, true)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer st.Close()

	data, err := report.Generate(st, reportTop)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	// Output
	var out io.Writer = cmd.OutOrStdout()
	if reportOutput != "" && reportOutput != "-" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch reportFormat {
	case "markdown", "md":
		return report.WriteMarkdown(out, data)
	case "json":
		return report.WriteJSON(out, data)
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}
