package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alexjbarnes/bucket-sync/internal/models"
	"github.com/alexjbarnes/bucket-sync/internal/report"
)

type commandFunc func(ctx context.Context, a *app, args []string) error

var commands = map[string]commandFunc{
	"sync":      cmdSync,
	"status":    cmdStatus,
	"conflicts": cmdConflicts,
	"list":      cmdList,
	"upload":    cmdUpload,
	"delete":    cmdDelete,
	"download":  cmdDownload,
	"daemon":    cmdDaemon,
}

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// parseFlags parses the shared --format flag and returns the remaining
// positional arguments.
func parseFlags(name string, args []string) (report.Format, []string, error) {
	return parseFlagSet(flag.NewFlagSet(name, flag.ContinueOnError), args)
}

// parseFlagSet adds --format to fs, which may already carry
// command-specific flags, and parses args.
func parseFlagSet(fs *flag.FlagSet, args []string) (report.Format, []string, error) {
	format := fs.String("format", "text", "output format: text, json or yaml")

	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}

	f, err := report.ParseFormat(*format)
	if err != nil {
		return "", nil, err
	}

	return f, fs.Args(), nil
}

// syncSummary is the printable form of a sync pass.
type syncSummary struct {
	At         time.Time `json:"at" yaml:"at"`
	Total      int       `json:"total" yaml:"total"`
	Conflicted int       `json:"conflicted" yaml:"conflicted"`
}

func cmdSync(ctx context.Context, a *app, args []string) error {
	f, _, err := parseFlags("sync", args)
	if err != nil {
		return err
	}

	res, err := a.mgr.Sync(ctx)
	if err != nil {
		return err
	}

	summary := syncSummary{At: res.At, Total: res.Total, Conflicted: len(res.Conflicted)}
	if f != report.Text {
		return report.Value(stdout, f, summary)
	}

	_, err = fmt.Fprintf(stdout, "synced %d file(s), %d conflict(s)\n", summary.Total, summary.Conflicted)

	return err
}

// cmdConflicts prints the conflicts recorded by the last pass. It only
// reads state unless --sync asks for a fresh pass first.
func cmdConflicts(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("conflicts", flag.ContinueOnError)
	runPass := fs.Bool("sync", false, "run a sync pass before listing conflicts")

	f, _, err := parseFlagSet(fs, args)
	if err != nil {
		return err
	}

	if *runPass {
		res, err := a.mgr.Sync(ctx)
		if err != nil {
			return err
		}

		return report.Files(stdout, f, res.Conflicted)
	}

	last, err := a.mgr.LastSync()
	if err != nil {
		return fmt.Errorf("reading last sync: %w", err)
	}

	if last == nil {
		return errNoRecordedPass
	}

	return report.Files(stdout, f, last.ConflictedFiles)
}

// statusReport is the printable form of an unresolved audit.
type statusReport struct {
	Synchronized bool                `json:"synchronized" yaml:"synchronized"`
	LastSync     *time.Time          `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Unresolved   []models.FileRecord `json:"unresolved" yaml:"unresolved"`
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	f, _, err := parseFlags("status", args)
	if err != nil {
		return err
	}

	unresolved, err := a.mgr.Unresolved(ctx)
	if err != nil {
		return err
	}

	if unresolved == nil {
		unresolved = []models.FileRecord{}
	}

	rep := statusReport{Synchronized: len(unresolved) == 0, Unresolved: unresolved}

	last, err := a.mgr.LastSync()
	if err != nil {
		a.logger.Warn("reading last sync", slog.String("error", err.Error()))
	} else if last != nil {
		rep.LastSync = &last.At
	}

	if f != report.Text {
		if err := report.Value(stdout, f, rep); err != nil {
			return err
		}
	} else if err := printStatus(rep); err != nil {
		return err
	}

	if !rep.Synchronized {
		return errUnsynchronised
	}

	return nil
}

func printStatus(rep statusReport) error {
	if rep.LastSync != nil {
		fmt.Fprintf(stdout, "last sync: %s\n", rep.LastSync.Format(time.RFC3339))
	}

	if rep.Synchronized {
		_, err := fmt.Fprintln(stdout, "synchronized")
		return err
	}

	fmt.Fprintln(stdout, "unresolved:")

	return report.Files(stdout, report.Text, rep.Unresolved)
}

func cmdList(ctx context.Context, a *app, args []string) error {
	f, _, err := parseFlags("list", args)
	if err != nil {
		return err
	}

	recs, err := a.mgr.List(ctx)
	if err != nil {
		return err
	}

	return report.Files(stdout, f, recs)
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	f, paths, err := parseFlags("upload", args)
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return fmt.Errorf("upload needs at least one file")
	}

	// Report whatever succeeded even when some uploads failed.
	uploaded, err := a.mgr.UploadAll(ctx, paths)
	if len(uploaded) > 0 {
		if perr := report.Files(stdout, f, uploaded); perr != nil {
			return perr
		}
	}

	return err
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	_, names, err := parseFlags("delete", args)
	if err != nil {
		return err
	}

	if len(names) != 1 {
		return fmt.Errorf("delete needs exactly one object name")
	}

	if err := a.mgr.Delete(ctx, names[0]); err != nil {
		return err
	}

	_, err = fmt.Fprintf(stdout, "deleted %s\n", names[0])

	return err
}

func cmdDownload(ctx context.Context, a *app, args []string) error {
	_, names, err := parseFlags("download", args)
	if err != nil {
		return err
	}

	if len(names) != 1 {
		return fmt.Errorf("download needs exactly one object name")
	}

	path, err := a.mgr.Download(ctx, names[0])
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, path)

	return err
}
