package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/capture"
	"github.com/Zerofisher/hcisnoop/internal/app"
	"github.com/Zerofisher/hcisnoop/internal/config"
	"github.com/Zerofisher/hcisnoop/ringbuf"
	"github.com/Zerofisher/hcisnoop/stats"
)

// extract command flags
var (
	extractAll     bool
	extractAddr    string
	extractStamped bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract packets from the snoop ring buffer",
	Long: `Frame the HCI packets held in a snoop ring buffer and write them to a
capture file. By default only data written since the last read (tail..head)
is extracted; --all rescans the whole buffer storage.

Nothing is written when there is no new data or the buffer was never used.`,
	Example: `  hcisnoop extract --image ram.bin --image-base 0x20000000 --addr 0x20004a10
  hcisnoop extract -p /dev/ttyBT0 -f snoop.log
  hcisnoop extract -a --format pcapng -f snoop.pcapng
  hcisnoop extract -t
  hcisnoop extract -Y "acl and acl.handle == 0x40" --stats
  hcisnoop extract --index`,
	Args:    cobra.NoArgs,
	GroupID: "target",
	RunE:    runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringP("path", "p", "", "buffer name, usually the device path (default "+config.DefaultDevice+")")
	f.StringP("file", "f", "", "output file (default "+config.DefaultOutput+")")
	f.BoolVarP(&extractAll, "all", "a", false, "extract the whole buffer history, not just unread data")
	f.String("format", "", "output format: btsnoop, pcap, pcapng (default btsnoop)")
	f.StringP("filter", "Y", "", "only write packets matching this expression")
	f.Bool("index", false, "write a SQLite index next to the output (<file>.idx.db)")
	f.Bool("stats", false, "print packet statistics after extraction")
	f.BoolVarP(&extractStamped, "timestamp", "t", false, "name the output snoop_<date>_<time> instead of using --file")
	f.StringVar(&extractAddr, "addr", "", "address of the buffer's circbuf control block in target memory")

	mustBind("device", f.Lookup("path"))
	mustBind("output.path", f.Lookup("file"))
	mustBind("output.format", f.Lookup("format"))
	mustBind("output.filter", f.Lookup("filter"))
	mustBind("output.index", f.Lookup("index"))
	mustBind("output.stats", f.Lookup("stats"))
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := capture.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	output := cfg.Output.Path
	if extractStamped {
		output = capture.GenerateFilename("snoop", format)
	}

	src, loc, err := openTarget(cfg.Device, extractAddr)
	if err != nil {
		return err
	}

	mode := ringbuf.Incremental
	if extractAll {
		mode = ringbuf.FullHistory
	}

	var statsMgr *stats.Manager
	if cfg.Output.Stats {
		statsMgr = stats.NewManager()
	}

	res, err := app.RunExtract(cmd.Context(), app.ExtractConfig{
		Buffer:  cfg.Device,
		Output:  output,
		Format:  format,
		Mode:    mode,
		Filter:  cfg.Output.Filter,
		Index:   cfg.Output.Index,
		Locator: loc,
		Source:  src,
		Stats:   statsMgr,
		Log:     logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Status)
	if res.Result != nil && res.Result.Desyncs+res.Result.Truncated > 0 {
		fmt.Fprintf(out, "skipped %d bytes, %d truncated packets\n", res.Result.Desyncs, res.Result.Truncated)
	}
	if res.Index != nil {
		fmt.Fprintf(out, "index %s (run %s)\n", res.Index.IndexPath, res.Index.RunID)
	}
	if statsMgr != nil && res.Written {
		fmt.Fprintln(out)
		statsMgr.PrintSummary(out)
	}
	return nil
}
