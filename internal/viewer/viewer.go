// Package viewer renders a session's generated code in the terminal as it
// streams in.
package viewer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/manash/buildfy/internal/pubsub"
	"github.com/manash/buildfy/internal/session"
)

const clearLine = "\r\x1b[K"

// Viewer writes only the part of each snapshot's buffer it has not written
// yet, so a stream of snapshots prints the code exactly once.
type Viewer struct {
	out    io.Writer
	status io.Writer

	// ShowStatus prints the rotating status message on the status writer,
	// overwriting it in place.
	ShowStatus bool
	// Quiet suppresses code output; Render then only tracks status.
	Quiet bool

	runID      string
	printed    int
	lastStatus string
	statusLine bool
}

// New returns a viewer writing code to out and status lines to status. The
// status line is enabled when status is a terminal.
func New(out, status io.Writer) *Viewer {
	return &Viewer{
		out:        out,
		status:     status,
		ShowStatus: IsTerminal(status),
	}
}

// Render brings the output up to date with snap.
func (v *Viewer) Render(snap session.Snapshot) error {
	if snap.RunID != v.runID {
		v.runID = snap.RunID
		v.printed = 0
	}

	// A buffer that no longer extends what was printed belongs to a new run.
	if len(snap.Code) < v.printed {
		v.printed = 0
	}

	v.renderStatus(snap)

	if len(snap.Code) > v.printed {
		if !v.Quiet {
			v.clearStatus()
			if _, err := io.WriteString(v.out, snap.Code[v.printed:]); err != nil {
				return err
			}
		}
		v.printed = len(snap.Code)
	}
	return nil
}

func (v *Viewer) renderStatus(snap session.Snapshot) {
	if !v.ShowStatus {
		return
	}
	if snap.Status != session.StatusGenerating || snap.StatusMessage == "" {
		v.clearStatus()
		v.lastStatus = ""
		return
	}
	if snap.StatusMessage == v.lastStatus {
		return
	}
	v.lastStatus = snap.StatusMessage
	fmt.Fprintf(v.status, "%s%s", clearLine, snap.StatusMessage)
	v.statusLine = true
}

func (v *Viewer) clearStatus() {
	if v.statusLine {
		io.WriteString(v.status, clearLine)
		v.statusLine = false
	}
}

// Watch renders every event until the channel closes or ctx is done.
func (v *Viewer) Watch(ctx context.Context, events <-chan pubsub.Event[session.Snapshot]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := v.Render(ev.Payload); err != nil {
				return err
			}
		}
	}
}

// Finish renders the final snapshot, which covers anything a lossy
// subscription dropped, and terminates the output with a newline.
func (v *Viewer) Finish(snap session.Snapshot) error {
	if err := v.Render(snap); err != nil {
		return err
	}
	v.clearStatus()
	if !v.Quiet && v.printed > 0 && !strings.HasSuffix(snap.Code, "\n") {
		_, err := io.WriteString(v.out, "\n")
		return err
	}
	return nil
}

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
