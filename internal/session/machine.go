package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrBusy              = errors.New("a request is already in flight")
	ErrGenerateDisabled  = errors.New("generate is disabled")
	ErrNoImage           = errors.New("no image selected")
	ErrClosed            = errors.New("session closed")
)

type Status string

const (
	StatusInitial    Status = "initial"
	StatusUploading  Status = "uploading"
	StatusUploaded   Status = "uploaded"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

// IsBusy reports whether a network request is outstanding in this status.
func (s Status) IsBusy() bool {
	return s == StatusUploading || s == StatusGenerating
}

// CanGenerate reports whether generate may be triggered from this status.
func (s Status) CanGenerate() bool {
	return s == StatusUploaded || s == StatusCompleted
}

// Snapshot is a value copy of a session's state. Sessions only ever replace
// it through Reduce, so a published Snapshot is never mutated.
type Snapshot struct {
	Status              Status
	ImageRef            string
	Model               string
	UseComponentLibrary bool
	Code                string
	StatusMessage       string
	LastError           string
	RunID               string
}

// Event is an input to Reduce.
type Event interface {
	event()
}

type (
	EventUploadStarted     struct{}
	EventUploadSucceeded   struct{ ImageRef string }
	EventUploadFailed      struct{ Err error }
	EventSampleSelected    struct{ ImageRef string }
	EventCleared           struct{}
	EventGenerateStarted   struct{ RunID, FirstMessage string }
	EventChunk             struct{ Text string }
	EventGenerateSucceeded struct{}
	EventGenerateFailed    struct{ Err error }
	EventModelSelected     struct{ Model string }
	EventLibraryToggled    struct{ Enabled bool }
	EventMessageAdvanced   struct{ Message string }
)

func (EventUploadStarted) event()     {}
func (EventUploadSucceeded) event()   {}
func (EventUploadFailed) event()      {}
func (EventSampleSelected) event()    {}
func (EventCleared) event()           {}
func (EventGenerateStarted) event()   {}
func (EventChunk) event()             {}
func (EventGenerateSucceeded) event() {}
func (EventGenerateFailed) event()    {}
func (EventModelSelected) event()     {}
func (EventLibraryToggled) event()    {}
func (EventMessageAdvanced) event()   {}

func invalid(s Snapshot, ev Event) error {
	return fmt.Errorf("%w: %T in %s", ErrInvalidTransition, ev, s.Status)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Reduce applies ev to s and returns the next state. On error s is returned
// unchanged.
//
// Invariants held by every returned state:
//   - Code is non-empty only while generating or completed.
//   - Entering generating clears Code and resets StatusMessage.
//   - Generating requires a non-empty ImageRef.
func Reduce(s Snapshot, ev Event) (Snapshot, error) {
	next := s

	switch e := ev.(type) {
	case EventUploadStarted:
		if s.Status != StatusInitial {
			if s.Status.IsBusy() {
				return s, ErrBusy
			}
			return s, invalid(s, ev)
		}
		next.Status = StatusUploading
		next.ImageRef = ""
		next.LastError = ""

	case EventUploadSucceeded:
		if s.Status != StatusUploading {
			return s, invalid(s, ev)
		}
		if strings.TrimSpace(e.ImageRef) == "" {
			return s, fmt.Errorf("%w: empty image reference", ErrInvalidTransition)
		}
		next.Status = StatusUploaded
		next.ImageRef = e.ImageRef

	case EventUploadFailed:
		if s.Status != StatusUploading {
			return s, invalid(s, ev)
		}
		next.Status = StatusInitial
		next.ImageRef = ""
		next.LastError = errString(e.Err)

	case EventSampleSelected:
		if s.Status.IsBusy() {
			return s, ErrBusy
		}
		if strings.TrimSpace(e.ImageRef) == "" {
			return s, fmt.Errorf("%w: empty image reference", ErrInvalidTransition)
		}
		next.Status = StatusUploaded
		next.ImageRef = e.ImageRef
		next.Code = ""
		next.StatusMessage = ""
		next.LastError = ""

	case EventCleared:
		if s.Status.IsBusy() {
			return s, ErrBusy
		}
		next.Status = StatusInitial
		next.ImageRef = ""
		next.Code = ""
		next.StatusMessage = ""
		next.LastError = ""
		next.RunID = ""

	case EventGenerateStarted:
		if s.Status.IsBusy() {
			return s, fmt.Errorf("%w: %w", ErrGenerateDisabled, ErrBusy)
		}
		if !s.Status.CanGenerate() {
			return s, fmt.Errorf("%w: status is %s", ErrGenerateDisabled, s.Status)
		}
		if strings.TrimSpace(s.ImageRef) == "" {
			return s, fmt.Errorf("%w: %w", ErrGenerateDisabled, ErrNoImage)
		}
		next.Status = StatusGenerating
		next.Code = ""
		next.StatusMessage = e.FirstMessage
		next.LastError = ""
		next.RunID = e.RunID

	case EventChunk:
		if s.Status != StatusGenerating {
			return s, invalid(s, ev)
		}
		next.Code = s.Code + e.Text

	case EventGenerateSucceeded:
		if s.Status != StatusGenerating {
			return s, invalid(s, ev)
		}
		next.Status = StatusCompleted
		next.StatusMessage = ""

	case EventGenerateFailed:
		if s.Status != StatusGenerating {
			return s, invalid(s, ev)
		}
		// Partial output stays visible; the uploaded status is allowed a
		// non-empty buffer only as the residue of a failed run.
		next.Status = StatusUploaded
		next.StatusMessage = ""
		next.LastError = errString(e.Err)

	case EventModelSelected:
		if s.Status == StatusGenerating {
			return s, ErrBusy
		}
		next.Model = e.Model

	case EventLibraryToggled:
		if s.Status == StatusGenerating {
			return s, ErrBusy
		}
		next.UseComponentLibrary = e.Enabled

	case EventMessageAdvanced:
		if s.Status != StatusGenerating {
			return s, invalid(s, ev)
		}
		next.StatusMessage = e.Message

	default:
		return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}

	return next, nil
}
