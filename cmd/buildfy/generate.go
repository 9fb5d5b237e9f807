package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/buildfy/internal/batch"
	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/output"
	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/internal/session"
	"github.com/manash/buildfy/internal/viewer"
)

var (
	flagOutput    string
	flagQuiet     bool
	flagHighlight bool
	flagPreview   bool
)

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <image|url|sample>",
		Short: "Generate code for one screenshot",
		Long: `Upload a PNG or JPEG screenshot (10MB max) and stream the generated
code to stdout. Pass "sample" to use the built-in example screenshot.`,
		Aliases: []string{"gen"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, app)
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "also write the code to this file")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "do not stream code to stdout")
	cmd.Flags().BoolVar(&flagHighlight, "highlight", false, "print the finished code with syntax highlighting instead of streaming")
	cmd.Flags().BoolVar(&flagPreview, "preview", true, "show the screenshot inline in kitty-compatible terminals")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string, app *App) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
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

	sess, err := session.New(app.sessionOptions(backend, history))
	if err != nil {
		return err
	}
	defer sess.Close()

	source := args[0]
	if err := selectImage(ctx, app, sess, source); err != nil {
		return err
	}

	v := viewer.New(app.Out, app.Err)
	v.ShowStatus = app.IsTerminal(app.Err)
	v.Quiet = flagQuiet || flagHighlight

	watchCtx, stopWatch := context.WithCancel(ctx)
	events := sess.Subscribe(watchCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// A watcher that stops early must not leave publishers blocked.
		defer stopWatch()
		v.Watch(watchCtx, events)
	}()

	genErr := sess.Generate(ctx)
	stopWatch()
	wg.Wait()

	snap := sess.Snapshot()
	if err := v.Finish(snap); err != nil {
		return err
	}
	if genErr != nil {
		if snap.Code != "" {
			fmt.Fprintf(app.Err, "Partial output: %s received before the failure.\n", humanize.Bytes(uint64(len(snap.Code))))
		}
		return genErr
	}

	if flagHighlight {
		if err := viewer.Highlight(app.Out, snap.Code, ""); err != nil {
			return err
		}
		if !strings.HasSuffix(snap.Code, "\n") {
			fmt.Fprintln(app.Out)
		}
	}

	if flagOutput != "" {
		saver := output.NewSaver()
		saver.AllowAbsolute = true
		path, err := saver.Save(snap.Code, flagOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Err, "Saved: %s (%s)\n", path, humanize.Bytes(uint64(len(snap.Code))))
	}
	return nil
}

// selectImage makes source the session's image: the sample, or a file or
// URL that is loaded, previewed and uploaded.
func selectImage(ctx context.Context, app *App, sess *session.Session, source string) error {
	if source == batch.SampleSource {
		return sess.UseSampleImage()
	}

	loader := image.NewLoader(image.DefaultMaxSize, security.URLPolicy{})
	file, err := loader.Load(ctx, source)
	if err != nil {
		return err
	}

	if flagPreview {
		if p := app.previewer(); p != nil {
			if err := p.ShowFile(file); err != nil {
				fmt.Fprintf(app.Err, "Warning: preview failed: %v\n", err)
			}
		}
	}

	fmt.Fprintf(app.Err, "Uploading %s...\n", image.Describe(file))
	return sess.SubmitImage(ctx, file)
}
