// Command atl-daemon is the external DaemonCopier process entrypoint
// (spec.md §4.6): a single-process, single-threaded loop that drains
// the shared transfer file a Daemon-kind Library handle writes to.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecp-veloc/atl/internal/atllog"
	"github.com/ecp-veloc/atl/internal/daemoncopier"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "atl-daemon:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		transferFile string
		bufSize      int64
		pollSecs     float64
		debug        int
	)

	cmd := &cobra.Command{
		Use:   "atl-daemon --transfer-file PATH",
		Short: "run the DaemonCopier loop against a transfer file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transferFile == "" {
				return fmt.Errorf("--transfer-file is required")
			}
			log := atllog.New(debug)
			return daemoncopier.Run(daemoncopier.Options{
				TransferFilePath: transferFile,
				BufSize:          bufSize,
				PollInterval:     time.Duration(pollSecs * float64(time.Second)),
				Log:              log,
			})
		},
	}

	cmd.Flags().StringVar(&transferFile, "transfer-file", "", "path to the shared transfer file")
	cmd.Flags().Int64Var(&bufSize, "file-buf-size", 1<<20, "bytes copied per iteration")
	cmd.Flags().Float64Var(&pollSecs, "poll-secs", 60, "upper bound on loop sleep, in seconds")
	cmd.Flags().IntVar(&debug, "debug", 0, "verbosity: 0 disables, 1 debug, 2+ trace")

	return cmd
}
