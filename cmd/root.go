// Package cmd provides the CLI commands for hcisnoop using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Zerofisher/hcisnoop/internal/app"
	"github.com/Zerofisher/hcisnoop/internal/config"
	"github.com/Zerofisher/hcisnoop/internal/log"
	"github.com/Zerofisher/hcisnoop/memory"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hcisnoop",
	Short: "Recover HCI traffic from a Bluetooth snoop ring buffer",
	Long: `hcisnoop recovers H4 framed HCI packets (ACL, Event, ISO) from the
in-memory circular snoop buffer of a halted target and writes them as a
btsnoop capture that standard Bluetooth analyzers can open.

Target memory comes from a raw RAM dump (--image) or a live process (--pid).
Buffers are named, usually by their device path, and located through
the circbuf control block address or a static descriptor in the config file.

Examples:
  hcisnoop extract --image ram.bin --image-base 0x20000000 --addr 0x20004a10
  hcisnoop extract -a -f history.log                  # rescan the whole buffer
  hcisnoop inspect                                    # show buffer cursors
  hcisnoop read text snoop_circlebuffer_default.log   # print recovered packets
  hcisnoop stats summary -r snoop_circlebuffer_default.log
  hcisnoop report snoop_circlebuffer_default.log          # needs extract --index`,
	Version:      Version,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			return config.ValidationErrors(errs)
		}
		logger, err = log.Init(cfg.Log)
		return err
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "target", Title: "Target Commands:"},
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/hcisnoop/config.yaml)")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("image", "", "raw memory image of the target")
	pf.String("image-base", "", "address of the first byte of --image")
	pf.Int("pid", 0, "read memory of a live process (linux)")

	mustBind("log.level", pf.Lookup("log-level"))
	mustBind("log.format", pf.Lookup("log-format"))
	mustBind("source.image", pf.Lookup("image"))
	mustBind("source.base", pf.Lookup("image-base"))
	mustBind("source.pid", pf.Lookup("pid"))

	// Add subcommands
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(listCmd)
}

func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

// targetBuffers returns the configured buffers, plus one for name at addr
// when --addr was given on the command line.
func targetBuffers(name, addr string) ([]config.BufferConfig, error) {
	buffers := cfg.Buffers
	if addr == "" {
		return buffers, nil
	}
	a, err := strconv.ParseUint(addr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	return append([]config.BufferConfig{{Name: name, Address: a}}, buffers...), nil
}

// openTarget opens target memory and the buffer locator.
func openTarget(name, addr string) (memory.Source, ringbuf.Locator, error) {
	buffers, err := targetBuffers(name, addr)
	if err != nil {
		return nil, nil, err
	}
	src, err := app.SetupSource(app.SourceConfig{
		Image: cfg.Source.Image,
		Base:  cfg.Source.Base,
		PID:   cfg.Source.PID,
	})
	if err != nil {
		return nil, nil, err
	}
	loc, err := app.SetupLocator(buffers, cfg.Layout, src)
	if err != nil {
		return nil, nil, err
	}
	return src, loc, nil
}
