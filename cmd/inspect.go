package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Zerofisher/hcisnoop/internal/app"
)

var inspectAddr string

var inspectCmd = &cobra.Command{
	Use:   "inspect [buffer...]",
	Short: "Show ring buffer cursors without extracting",
	Long: `Print the descriptor of each named buffer (base, size, head, tail) and the
window an incremental or full extraction would scan. With no arguments
every configured buffer is shown.`,
	Example: `  hcisnoop inspect
  hcisnoop inspect /dev/ttyBT0 --image ram.bin --image-base 0x20000000 --addr 0x20004a10`,
	GroupID: "target",
	RunE:    runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectAddr, "addr", "",
		"address of the circbuf control block for the device buffer")
}

func runInspect(cmd *cobra.Command, args []string) error {
	_, loc, err := openTarget(cfg.Device, inspectAddr)
	if err != nil {
		return err
	}
	return app.PrintInspect(cmd.OutOrStdout(), app.Inspect(loc, args))
}
