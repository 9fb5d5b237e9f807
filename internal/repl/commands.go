package repl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/session"
	"github.com/manash/buildfy/internal/viewer"
)

const historyLimit = 10

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&UploadCommand{},
		&SampleCommand{},
		&ClearCommand{},
		&GenerateCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&ModelCommand{},
		&ShadcnCommand{},
		&StatusCommand{},
		&HistoryCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// UploadCommand uploads a screenshot from disk or a URL.
type UploadCommand struct{}

func (c *UploadCommand) Name() string        { return "upload" }
func (c *UploadCommand) Aliases() []string   { return []string{"u", "open"} }
func (c *UploadCommand) Description() string { return "Upload a PNG or JPEG screenshot (max 10MB)" }
func (c *UploadCommand) Usage() string       { return "upload <path|url>" }

func (c *UploadCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	if snap := r.session.Snapshot(); snap.Status != session.StatusInitial {
		return fmt.Errorf("an image is already selected (%s); use 'clear' first", snap.Status)
	}

	file, err := r.loader.Load(ctx, args[0])
	if err != nil {
		return err
	}

	if r.previewer != nil {
		if err := r.previewer.ShowFile(file); err != nil {
			fmt.Fprintf(r.err, "Warning: preview failed: %v\n", err)
		}
	}

	fmt.Fprintf(r.out, "Uploading %s...\n", image.Describe(file))
	if err := r.session.SubmitImage(ctx, file); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Uploaded: %s\n", r.session.Snapshot().ImageRef)
	return nil
}

// SampleCommand selects the built-in sample screenshot.
type SampleCommand struct{}

func (c *SampleCommand) Name() string        { return "sample" }
func (c *SampleCommand) Aliases() []string   { return []string{"example"} }
func (c *SampleCommand) Description() string { return "Use the sample screenshot" }
func (c *SampleCommand) Usage() string       { return "sample" }

func (c *SampleCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.session.UseSampleImage(); err != nil {
		return err
	}

	ref := r.session.Snapshot().ImageRef
	if r.previewer != nil {
		if err := r.previewer.ShowURL(ctx, ref); err != nil {
			fmt.Fprintf(r.err, "Warning: preview failed: %v\n", err)
		}
	}
	fmt.Fprintf(r.out, "Using sample image: %s\n", ref)
	return nil
}

// ClearCommand drops the selected image and any generated code.
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Aliases() []string   { return []string{"reset"} }
func (c *ClearCommand) Description() string { return "Remove the selected image" }
func (c *ClearCommand) Usage() string       { return "clear" }

func (c *ClearCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.session.ClearImage(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Image cleared.")
	return nil
}

// GenerateCommand requests code for the selected image and streams it.
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate code for the selected image" }
func (c *GenerateCommand) Usage() string       { return "generate" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if reason := generateDisabledReason(r.session.Snapshot()); reason != "" {
		return fmt.Errorf("%w: %s", session.ErrGenerateDisabled, reason)
	}

	v := viewer.New(r.out, r.err)

	watchCtx, stopWatch := context.WithCancel(ctx)
	events := r.session.Subscribe(watchCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// A watcher that stops early must not leave publishers blocked.
		defer stopWatch()
		v.Watch(watchCtx, events)
	}()

	genErr := r.session.Generate(ctx)

	stopWatch()
	wg.Wait()

	snap := r.session.Snapshot()
	if err := v.Finish(snap); err != nil {
		return err
	}
	if genErr != nil {
		if snap.Code != "" {
			fmt.Fprintf(r.err, "Partial output kept (%s).\n", humanize.Bytes(uint64(len(snap.Code))))
		}
		return genErr
	}

	fmt.Fprintf(r.out, "Done: %s of code. Use 'save' to write it to a file.\n", humanize.Bytes(uint64(len(snap.Code))))
	return nil
}

func generateDisabledReason(snap session.Snapshot) string {
	switch {
	case snap.Status.IsBusy():
		return fmt.Sprintf("session is %s", snap.Status)
	case snap.ImageRef == "":
		return "no image selected; use 'upload' or 'sample'"
	case !snap.Status.CanGenerate():
		return fmt.Sprintf("cannot generate while %s", snap.Status)
	}
	return ""
}

// ShowCommand prints the generated code with syntax highlighting.
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"code", "view"} }
func (c *ShowCommand) Description() string { return "Show the generated code" }
func (c *ShowCommand) Usage() string       { return "show [--plain]" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, args []string) error {
	code := r.session.Snapshot().Code
	if code == "" {
		fmt.Fprintln(r.out, "No code generated yet.")
		return nil
	}

	if len(args) > 0 && args[0] == "--plain" {
		fmt.Fprint(r.out, code)
	} else if err := viewer.Highlight(r.out, code, r.style); err != nil {
		return err
	}
	if !strings.HasSuffix(code, "\n") {
		fmt.Fprintln(r.out)
	}
	return nil
}

// SaveCommand writes the generated code to a file.
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s", "write"} }
func (c *SaveCommand) Description() string { return "Save the generated code to a file" }
func (c *SaveCommand) Usage() string       { return "save [path]" }

func (c *SaveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	saved, err := r.saver.Save(r.session.Snapshot().Code, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved to: %s\n", saved)
	return nil
}

// ModelCommand shows or changes the model.
type ModelCommand struct{}

func (c *ModelCommand) Name() string        { return "model" }
func (c *ModelCommand) Aliases() []string   { return []string{"m"} }
func (c *ModelCommand) Description() string { return "Show or change the model" }
func (c *ModelCommand) Usage() string       { return "model [name]" }

func (c *ModelCommand) Execute(_ context.Context, r *REPL, args []string) error {
	registry := r.session.Registry()
	current := r.session.Snapshot().Model

	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current model: %s\n\n", current)
		fmt.Fprintln(r.out, "Available models:")
		for _, name := range registry.List() {
			caps, _ := registry.Get(name)
			marker := "  "
			if name == current {
				marker = "* "
			}
			fmt.Fprintf(r.out, "  %s%-20s %s\n", marker, name, caps.DisplayName)
		}
		return nil
	}

	if err := r.session.SelectModel(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Model set to: %s\n", args[0])
	return nil
}

// ShadcnCommand toggles shadcn/ui component output.
type ShadcnCommand struct{}

func (c *ShadcnCommand) Name() string        { return "shadcn" }
func (c *ShadcnCommand) Aliases() []string   { return []string{"library"} }
func (c *ShadcnCommand) Description() string { return "Show or toggle shadcn/ui components" }
func (c *ShadcnCommand) Usage() string       { return "shadcn [on|off]" }

func (c *ShadcnCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "shadcn/ui: %s\n", onOff(r.session.Snapshot().UseComponentLibrary))
		return nil
	}

	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1":
		enabled = true
	case "off", "false", "no", "0":
		enabled = false
	default:
		return fmt.Errorf("usage: %s", c.Usage())
	}

	if err := r.session.SetUseComponentLibrary(enabled); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "shadcn/ui: %s\n", onOff(enabled))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// StatusCommand prints the session snapshot.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st", "info"} }
func (c *StatusCommand) Description() string { return "Show the current session state" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	snap := r.session.Snapshot()

	ref := snap.ImageRef
	if ref == "" {
		ref = "(none)"
	}

	fmt.Fprintf(r.out, "Status:    %s\n", snap.Status)
	fmt.Fprintf(r.out, "Image:     %s\n", ref)
	fmt.Fprintf(r.out, "Model:     %s\n", snap.Model)
	fmt.Fprintf(r.out, "shadcn/ui: %s\n", onOff(snap.UseComponentLibrary))
	fmt.Fprintf(r.out, "Code:      %s\n", humanize.Bytes(uint64(len(snap.Code))))
	if snap.LastError != "" {
		fmt.Fprintf(r.out, "Last error: %s\n", snap.LastError)
	}
	if reason := generateDisabledReason(snap); reason != "" {
		fmt.Fprintf(r.out, "Generate:  disabled (%s)\n", reason)
	} else {
		fmt.Fprintln(r.out, "Generate:  ready")
	}
	return nil
}

// HistoryCommand lists recent generation runs.
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show recent generations" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.history == nil {
		fmt.Fprintln(r.out, "History is disabled.")
		return nil
	}

	runs, err := r.history.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(r.out, "No history yet.")
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(r.out, "%s  %-18s %-9s %8s  %s\n",
			humanize.Time(run.StartedAt),
			run.Model,
			run.Outcome,
			humanize.Bytes(uint64(run.CodeLength)),
			truncate(run.ImageRef, 50),
		)
		if run.Error != "" {
			fmt.Fprintf(r.out, "    error: %s\n", truncate(run.Error, 70))
		}
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-22s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                        Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

// isDisabled reports whether err means the command was refused by the
// session rather than failing.
func isDisabled(err error) bool {
	return errors.Is(err, session.ErrGenerateDisabled) || errors.Is(err, session.ErrBusy) ||
		errors.Is(err, session.ErrInvalidTransition)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
