// Package repl drives a generation session from an interactive prompt.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/buildfy/internal/display"
	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/output"
	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/internal/session"
)

// HistoryLister is the read side of the run history.
type HistoryLister interface {
	ListRuns(ctx context.Context, limit int) ([]*session.Run, error)
}

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	session   *session.Session
	loader    *image.Loader
	previewer *display.Previewer
	saver     *output.Saver
	history   HistoryLister
	style     string
	commands  map[string]Command
	running   bool
}

type Config struct {
	In      io.Reader
	Out     io.Writer
	Err     io.Writer
	Session *session.Session
	Loader  *image.Loader
	// Previewer is optional; images are previewed inline only when set.
	Previewer *display.Previewer
	Saver     *output.Saver
	// History is optional; without it the history command reports that
	// history is disabled.
	History HistoryLister
	// Style is the chroma style used by the show command.
	Style string
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		session:   cfg.Session,
		loader:    cfg.Loader,
		previewer: cfg.Previewer,
		saver:     cfg.Saver,
		history:   cfg.History,
		style:     cfg.Style,
		commands:  make(map[string]Command),
	}
	if r.loader == nil {
		r.loader = image.NewLoader(image.DefaultMaxSize, security.URLPolicy{})
	}
	if r.saver == nil {
		r.saver = output.NewSaver()
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			if isDisabled(err) {
				fmt.Fprintf(r.err, "Not available: %v\n", err)
			} else {
				fmt.Fprintf(r.err, "Error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "buildfy interactive mode")
	fmt.Fprintln(r.out, "Upload a screenshot with 'upload <file>' or try 'sample', then 'generate'.")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	snap := r.session.Snapshot()
	fmt.Fprintf(r.out, "buildfy [%s] (%s)> ", snap.Model, snap.Status)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case (ch == ' ' || ch == '\t') && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
