package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/buildfy/internal/batch"
	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/output"
	"github.com/manash/buildfy/internal/repl"
	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/internal/server"
	"github.com/manash/buildfy/internal/session"
)

var (
	flagOutputDir   string
	flagParallel    int
	flagStopOnError bool
	flagDelay       time.Duration

	flagHistoryLimit  int
	flagHistoryFailed bool

	flagServeAddr string
)

func newReplCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "repl",
		Aliases: []string{"interactive", "i"},
		Short:   "Start an interactive session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd, app)
		},
	}
}

func runRepl(cmd *cobra.Command, app *App) error {
	backend, err := app.backend()
	if err != nil {
		return err
	}

	history, err := app.openHistory(cmd)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	opts := app.sessionOptions(backend, history)
	// The prompt renders from Snapshot, so a slow terminal may skip frames.
	opts.BlockingDelivery = false
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	cfg := &repl.Config{
		In:        app.In,
		Out:       app.Out,
		Err:       app.Err,
		Session:   sess,
		Loader:    image.NewLoader(image.DefaultMaxSize, security.URLPolicy{}),
		Previewer: app.previewer(),
		Saver:     output.NewSaver(),
	}
	if history != nil {
		cfg.History = history
	}

	return repl.New(cfg).Run(cmd.Context())
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Generate code for every screenshot listed in a file",
		Long: `Read screenshots from a .txt file (one path or URL per line, # for
comments) or a .json array of {"image", "model", "shadcn", "output"} objects
and convert each one in its own session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args, app)
		},
	}

	cmd.Flags().StringVarP(&flagOutputDir, "output-dir", "d", ".", "directory for generated files")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "p", 1, "number of screenshots converted at once")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failure")
	cmd.Flags().DurationVar(&flagDelay, "delay", 0, "pause between starting items")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string, app *App) error {
	items, err := batch.ParseFile(args[0])
	if err != nil {
		return err
	}
	if flagParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	backend, err := app.backend()
	if err != nil {
		return err
	}

	history, err := app.openHistory(cmd)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	opts := app.sessionOptions(backend, history)
	saver := output.NewSaver()
	saver.AllowAbsolute = true

	proc := batch.NewProcessor(opts, image.NewLoader(image.DefaultMaxSize, security.URLPolicy{}), saver, app.Out, app.Err)

	fmt.Fprintf(app.Out, "Converting %d screenshot(s) with %s...\n", len(items), opts.Model)
	results, err := proc.Process(cmd.Context(), items, &batch.Options{
		OutputDir:           flagOutputDir,
		Model:               opts.Model,
		UseComponentLibrary: opts.UseComponentLibrary,
		Parallel:            flagParallel,
		StopOnError:         flagStopOnError,
		Delay:               flagDelay,
	})
	proc.PrintSummary(results)
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("batch finished with failures")
		}
	}
	return nil
}

func newModelsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(app.Out, "%-20s  %-16s  %-10s  %s\n", "Model", "Name", "Provider", "shadcn/ui")
			fmt.Fprintln(app.Out, strings.Repeat("-", 60))
			for _, name := range app.Registry.List() {
				caps, _ := app.Registry.Get(name)
				marker := " "
				if name == app.cfg.Model {
					marker = "*"
				}
				shadcn := "no"
				if caps.SupportsComponentLibrary {
					shadcn = "yes"
				}
				fmt.Fprintf(app.Out, "%-20s  %-16s  %-10s  %s\n", marker+name, caps.DisplayName, caps.Provider, shadcn)
			}
			return nil
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, app)
		},
	}

	cmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&flagHistoryFailed, "failed", false, "show only failed runs")

	return cmd
}

func runHistory(cmd *cobra.Command, app *App) error {
	history, err := app.openHistory(cmd)
	if err != nil {
		return err
	}
	if history == nil {
		fmt.Fprintln(app.Out, "History is disabled.")
		return nil
	}
	defer history.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runs, err := history.ListRuns(ctx, flagHistoryLimit)
	if err != nil {
		return err
	}

	shown := 0
	for _, run := range runs {
		if flagHistoryFailed && run.Outcome != session.RunFailed {
			continue
		}
		if shown == 0 {
			fmt.Fprintf(app.Out, "%-19s  %-18s  %-9s  %8s  %7s  %s\n", "Started", "Model", "Outcome", "Code", "Took", "Image")
		}
		shown++
		fmt.Fprintf(app.Out, "%-19s  %-18s  %-9s  %8s  %7s  %s\n",
			session.FormatTimestamp(run.StartedAt),
			run.Model,
			run.Outcome,
			humanize.Bytes(uint64(run.CodeLength)),
			run.Duration().Round(100*time.Millisecond),
			run.ImageRef,
		)
		if run.Error != "" {
			fmt.Fprintf(app.Out, "  error: %s\n", run.Error)
		}
	}
	if shown == 0 {
		fmt.Fprintln(app.Out, "No runs recorded yet.")
		return nil
	}

	completed, err := history.CountRuns(ctx, session.RunCompleted)
	if err != nil {
		return err
	}
	failed, err := history.CountRuns(ctx, session.RunFailed)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "\n%d completed, %d failed in total.\n", completed, failed)
	return nil
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local development server for the upload and generation endpoints",
		Long: `Serve /api/upload and /api/generateCode locally. Uploads are stored on
disk and served from /uploads/; generation streams a canned component so the
client can be exercised without a model. Metrics are exposed on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, app)
		},
	}

	cmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default from serve.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, app *App) error {
	addr := flagServeAddr
	if addr == "" {
		addr = app.cfg.Serve.Addr
	}

	srv, err := server.New(server.Config{
		UploadDir:  app.cfg.Serve.UploadDir,
		PublicURL:  app.cfg.Serve.PublicURL,
		ChunkDelay: app.cfg.Serve.ChunkDelay,
		RateLimit:  app.cfg.Serve.RateLimit,
		Registry:   app.Registry,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Err, "Serving on %s (uploads in %s)\n", addr, app.cfg.Serve.UploadDir)
	return srv.ListenAndServe(cmd.Context(), addr)
}
