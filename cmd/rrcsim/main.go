// ABOUTME: rrcsim runs scenario files against the refcount bridge and reports mismatches
// ABOUTME: Supports parallel runs, a choice of strategy and a watch mode that re-runs on change

// Command rrcsim builds each scenario in a simulated managed heap and foreign
// runtime, collects it and prints which objects missed their expected
// liveness.
//
//	rrcsim [-strategy mark] [-limit N] [-j N] [-watch] [-log-level info] [-log-format text] files...
//	rrcsim -version
//
// Directories are expanded to the .dot and .json files they contain. The
// exit code is 1 if any scenario failed or could not be run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/rrcbridge/rrcbridge"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
	"github.com/rrcbridge/rrcbridge/scenario"
)

type options struct {
	cfg       rawrefcount.Config
	jobs      int
	watch     bool
	version   bool
	logLevel  string
	logFormat string
	files     []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "rrcsim: %v\n", err)
		return 2
	}
	if opts.version {
		v := rrcbridge.SemVer()
		fmt.Fprintf(stdout, "rrcsim %d.%d.%d", v.Major(), v.Minor(), v.Patch())
		if v.Prerelease() != "" {
			fmt.Fprintf(stdout, " (pre-release %s)", v.Prerelease())
		}
		fmt.Fprintf(stdout, ", scenario format %s\n", scenario.FormatVersion)
		return 0
	}

	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "rrcsim: %v\n", err)
		return 2
	}
	opts.cfg.Logger = logger

	files, err := expand(opts.files)
	if err != nil {
		fmt.Fprintf(stderr, "rrcsim: %v\n", err)
		return 2
	}

	ok, err := runAll(ctx, files, opts.cfg, opts.jobs, stdout)
	if err != nil {
		logger.Error("run failed", "err", err)
		return 1
	}
	if opts.watch {
		if err := watch(ctx, files, logger, func(path string) {
			if _, err := runAll(ctx, []string{path}, opts.cfg, 1, stdout); err != nil {
				logger.Error("run failed", "file", path, "err", err)
			}
		}); err != nil {
			logger.Error("watch failed", "err", err)
			return 1
		}
		return 0
	}
	if !ok {
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("rrcsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "rrcsim %s\nusage: rrcsim [flags] files...\n", rrcbridge.SemVer())
		fs.PrintDefaults()
	}

	strategy := fs.String("strategy", "mark", "cycle strategy: simple, mark or incmark")
	limit := fs.Int("limit", rawrefcount.DefaultIncrementLimit, "snapshot work per incremental step")
	noCycles := fs.Bool("no-cycles", false, "start with cycle detection turned off")
	debug := fs.Bool("debug", false, "verify bridge consistency at every phase boundary")
	opts := &options{}
	fs.IntVar(&opts.jobs, "j", runtime.GOMAXPROCS(0), "scenarios run in parallel")
	fs.BoolVar(&opts.watch, "watch", false, "re-run scenarios when their files change")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	s, err := rawrefcount.ParseStrategy(*strategy)
	if err != nil {
		return nil, err
	}
	if *limit <= 0 {
		return nil, fmt.Errorf("-limit must be positive, got %d", *limit)
	}
	if opts.jobs <= 0 {
		return nil, fmt.Errorf("-j must be positive, got %d", opts.jobs)
	}
	opts.cfg = rawrefcount.DefaultConfig()
	opts.cfg.Strategy = s
	opts.cfg.IncrementLimit = *limit
	opts.cfg.DisableCycles = *noCycles
	opts.cfg.Debug = *debug

	opts.files = fs.Args()
	if len(opts.files) == 0 && !opts.version {
		fs.Usage()
		return nil, errors.New("no scenario files given")
	}
	return opts, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("invalid -log-format %q", format)
}

// expand replaces directories by the scenario files directly inside them.
func expand(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if !e.IsDir() && (ext == ".dot" || ext == ".json") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// runAll runs every file on its own heap, at most jobs at a time, and
// prints the reports in file order. It reports whether all passed. A file
// that fails to load or breaks a bridge invariant is printed as an error
// line and does not stop the others; the errors are returned joined.
func runAll(ctx context.Context, files []string, cfg rawrefcount.Config, jobs int, out io.Writer) (bool, error) {
	reports := make([]*scenario.Report, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			s, err := scenario.Load(path)
			if err == nil {
				reports[i], err = scenario.Run(s, cfg)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	ok := true
	for i, rep := range reports {
		if errs[i] != nil {
			fmt.Fprintf(out, "ERROR %s: %v\n", files[i], errs[i])
			ok = false
			continue
		}
		fmt.Fprint(out, rep)
		ok = ok && rep.OK()
	}
	return ok, errors.Join(errs...)
}

// watchDebounce collapses the bursts of events editors produce on save.
const watchDebounce = 100 * time.Millisecond

// watch calls rerun for a file after it was written or replaced, until ctx
// is cancelled. The parent directories are watched so that files renamed
// into place are seen.
func watch(ctx context.Context, files []string, logger *slog.Logger, rerun func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	wanted := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	logger.Info("watching", "files", len(files), "dirs", len(dirs))

	pending := make(map[string]bool)
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !wanted[abs] {
				continue
			}
			logger.Debug("changed", "file", abs, "op", ev.Op.String())
			pending[abs] = true
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "err", err)
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			clear(pending)
			for _, path := range changed {
				rerun(path)
			}
		}
	}
}
