// Command atl-cp is the axl_cp-style CLI collaborator described in
// spec.md §6: a thin wrapper that drives the core library through one
// handle's worth of Create/Add/Dispatch/Wait (or Resume/Wait). Built
// with github.com/spf13/cobra + github.com/spf13/pflag, the same CLI
// stack the teacher repo builds its own root command with.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ecp-veloc/atl"
	"github.com/ecp-veloc/atl/internal/state"
)

type cliFlags struct {
	all          bool
	copyMetadata bool
	recursive    bool
	stateFile    string
	resume       bool
	handleID     int64
	kind         string
	transferFile string
	quiet        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "atl-cp:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "atl-cp [-a] [-p] [-r|-R] [-S state_file [-U]] [-X kind] SOURCE... DEST",
		Short: "copy a set of files through the ATL transfer engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, args)
		},
	}

	cmd.Flags().BoolVarP(&flags.all, "all", "a", false, "imply -p and -r")
	cmd.Flags().BoolVarP(&flags.copyMetadata, "preserve", "p", false, "enable copy_metadata")
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "recursive copy")
	cmd.Flags().BoolVarP(&flags.recursive, "recursive-upper", "R", false, "recursive copy (alias of -r)")
	cmd.Flags().StringVarP(&flags.stateFile, "state-file", "S", "", "state file path")
	cmd.Flags().BoolVarP(&flags.resume, "resume", "U", false, "resume from -S rather than dispatch fresh")
	cmd.Flags().Int64Var(&flags.handleID, "handle-id", 0, "handle ID to resume; required with -U when -S holds more than one handle")
	cmd.Flags().StringVarP(&flags.kind, "kind", "X", "sync", "transfer kind: sync, workerpool, daemon, vendora, vendorb, vendorc")
	cmd.Flags().StringVar(&flags.transferFile, "transfer-file", "", "transfer file path, required when -X daemon")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress progress output")

	return cmd
}

func run(ctx context.Context, flags cliFlags, args []string) error {
	if flags.all {
		flags.copyMetadata = true
		flags.recursive = true
	}
	if flags.resume && flags.stateFile == "" {
		return fmt.Errorf("-U requires -S state_file")
	}

	kind, err := parseKind(flags.kind)
	if err != nil {
		return err
	}
	if kind == atl.Daemon && flags.transferFile == "" {
		return fmt.Errorf("-X daemon requires --transfer-file")
	}

	lib, err := atl.Init(ctx, atl.Options{
		DefaultStateFilePath: flags.stateFile,
		TransferFilePath:     flags.transferFile,
	})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer lib.Finalize(ctx)

	if flags.copyMetadata {
		if _, err := lib.Config(map[string]string{"copy_metadata": "true"}); err != nil {
			return err
		}
	}

	var id int64
	if flags.resume {
		id, err = resumeHandleID(flags)
		if err != nil {
			return err
		}
		if err := lib.Resume(ctx, id); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	} else {
		if len(args) < 2 {
			return fmt.Errorf("need at least one SOURCE and a DEST")
		}
		sources, dest := args[:len(args)-1], args[len(args)-1]

		id, err = lib.Create(kind, cliUserName(), flags.stateFile)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		if err := addSources(lib, id, sources, dest, flags.recursive); err != nil {
			return err
		}
		if err := lib.Dispatch(ctx, id); err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
	}

	if err := waitWithProgress(ctx, lib, id, flags.quiet); err != nil {
		return err
	}

	outcome, err := lib.Test(ctx, id)
	if err != nil {
		return err
	}
	if err := lib.Free(ctx, id); err != nil {
		return err
	}
	if outcome != atl.CompleteOK {
		return fmt.Errorf("transfer did not complete successfully")
	}
	return nil
}

func parseKind(s string) (atl.TransferKind, error) {
	switch strings.ToLower(s) {
	case "sync":
		return atl.Sync, nil
	case "workerpool", "worker_pool", "worker-pool":
		return atl.WorkerPool, nil
	case "daemon":
		return atl.Daemon, nil
	case "vendora":
		return atl.VendorA, nil
	case "vendorb":
		return atl.VendorB, nil
	case "vendorc":
		return atl.VendorC, nil
	default:
		return 0, fmt.Errorf("unknown transfer kind %q", s)
	}
}

// resumeHandleID picks the handle ID -U resumes: the explicit
// --handle-id if given, or the sole ID found in -S's state file. A
// state file holding more than one handle requires --handle-id since
// atl.Library.Resume takes a handle_id, not a state file path.
func resumeHandleID(flags cliFlags) (int64, error) {
	if flags.handleID != 0 {
		return flags.handleID, nil
	}
	ids, err := state.ByStateFile(flags.stateFile)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("resume: no handle found in %s", flags.stateFile)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("resume: %s holds %d handles, pass --handle-id to disambiguate", flags.stateFile, len(ids))
	}
}

func cliUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "atl-cp"
}

func addSources(lib *atl.Library, id int64, sources []string, dest string, recursive bool) error {
	multi := len(sources) > 1
	for _, src := range sources {
		if !recursive {
			target := destFor(src, dest, multi)
			if err := lib.Add(id, src, target); err != nil {
				return fmt.Errorf("add %s: %w", src, err)
			}
			continue
		}
		fi, err := os.Stat(src)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			if err := lib.Add(id, src, destFor(src, dest, multi)); err != nil {
				return fmt.Errorf("add %s: %w", src, err)
			}
			continue
		}
		base := filepath.Dir(src)
		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(base, path)
			if rerr != nil {
				return rerr
			}
			return lib.Add(id, path, filepath.Join(dest, rel))
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", src, err)
		}
	}
	return nil
}

func destFor(src, dest string, multi bool) string {
	if multi {
		return filepath.Join(dest, filepath.Base(src))
	}
	return dest
}

// waitWithProgress polls Test instead of calling Wait directly so it
// can print progress, rate-limited to at most 2 lines/sec regardless of
// how tight the poll loop is.
func waitWithProgress(ctx context.Context, lib *atl.Library, id int64, quiet bool) error {
	limiter := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
	for {
		outcome, err := lib.Test(ctx, id)
		if err != nil {
			return err
		}
		if outcome != atl.InProgress {
			return nil
		}
		if !quiet && limiter.Allow() {
			fmt.Fprintf(os.Stderr, "atl-cp: handle %d in progress\n", id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
