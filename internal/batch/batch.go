// Package batch converts a list of screenshots, each in its own session.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/output"
	"github.com/manash/buildfy/internal/session"
)

// ErrSkipped marks items that never started because the batch stopped.
var ErrSkipped = errors.New("skipped")

type Result struct {
	Index    int
	Source   string
	Path     string
	RunID    string
	Bytes    int
	Error    error
	Duration time.Duration
}

type Options struct {
	OutputDir           string
	Model               string
	UseComponentLibrary bool
	Parallel            int
	StopOnError         bool
	Delay               time.Duration
}

// Processor runs items through fresh sessions built from a shared template.
type Processor struct {
	base   session.Options
	loader *image.Loader
	saver  *output.Saver
	out    io.Writer
	err    io.Writer
	outMu  sync.Mutex
}

// NewProcessor returns a processor whose sessions copy base. Model and
// UseComponentLibrary in base are replaced per item.
func NewProcessor(base session.Options, loader *image.Loader, saver *output.Saver, out, errOut io.Writer) *Processor {
	return &Processor{
		base:   base,
		loader: loader,
		saver:  saver,
		out:    out,
		err:    errOut,
	}
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

// Process converts every item, at most opts.Parallel at a time. Results are
// in item order. With StopOnError the first failure cancels the rest and is
// returned; items that never ran carry ErrSkipped.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Index: item.Index, Source: item.Source, Error: ErrSkipped}
	}

	limit := opts.Parallel
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	total := len(items)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		if i > 0 && opts.Delay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(opts.Delay):
			}
			if gctx.Err() != nil {
				break
			}
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result := p.processItem(gctx, item, opts, i+1, total)
			results[i] = result
			if result.Error != nil && opts.StopOnError {
				return fmt.Errorf("stopped at item %d: %w", item.Index, result.Error)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Source: item.Source,
	}

	p.printf("[%d/%d] Converting %s...\n", current, total, truncate(item.Source, 60))

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		return result
	}

	sopts := p.base
	sopts.Model = opts.Model
	if item.Model != "" {
		sopts.Model = item.Model
	}
	sopts.UseComponentLibrary = opts.UseComponentLibrary
	if item.Shadcn != nil {
		sopts.UseComponentLibrary = *item.Shadcn
	}

	sess, err := session.New(sopts)
	if err != nil {
		return fail(err)
	}
	defer sess.Close()

	if item.Source == SampleSource {
		err = sess.UseSampleImage()
	} else {
		err = p.submit(ctx, sess, item.Source)
	}
	if err != nil {
		return fail(err)
	}

	if err := sess.Generate(ctx); err != nil {
		return fail(err)
	}

	snap := sess.Snapshot()
	result.RunID = snap.RunID
	result.Bytes = len(snap.Code)

	path := item.Output
	if path == "" {
		path = output.NumberedFilename(opts.OutputDir, item.Source, item.Index-1)
	}
	saved, err := p.saver.Save(snap.Code, path)
	if err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Path = saved
	result.Duration = time.Since(start)
	p.printf("       Saved: %s (%s, %s)\n", saved, humanize.Bytes(uint64(result.Bytes)), result.Duration.Round(time.Millisecond))
	return result
}

func (p *Processor) submit(ctx context.Context, sess *session.Session, source string) error {
	file, err := p.loader.Load(ctx, source)
	if err != nil {
		return err
	}
	return sess.SubmitImage(ctx, file)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, skipped, totalBytes int
	var errs []Result

	for _, r := range results {
		switch {
		case errors.Is(r.Error, ErrSkipped):
			skipped++
		case r.Error != nil:
			failed++
			errs = append(errs, r)
		default:
			successful++
			totalBytes += r.Bytes
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d screenshots\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	if skipped > 0 {
		fmt.Fprintf(p.out, "  Skipped: %d\n", skipped)
	}
	fmt.Fprintf(p.out, "  Code written: %s\n", humanize.Bytes(uint64(totalBytes)))

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %s: %v\n", e.Index, truncate(e.Source, 40), e.Error)
		}
	}
}
