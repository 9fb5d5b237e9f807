// Package session implements the image-to-code generation session: a small
// state machine that uploads a screenshot, requests generated code for it and
// accumulates the streamed response while observers watch.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manash/buildfy/internal/log"
	"github.com/manash/buildfy/internal/provider"
	"github.com/manash/buildfy/internal/pubsub"
	"github.com/manash/buildfy/internal/stream"
	"github.com/manash/buildfy/pkg/models"
)

const recordTimeout = 5 * time.Second

// RunRecorder receives one record per finished generation request.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *Run) error
}

type Options struct {
	Uploader  provider.Uploader
	Generator provider.Generator
	Registry  *models.ModelRegistry

	// Model and UseComponentLibrary seed the initial selection. An empty
	// model selects models.DefaultModel.
	Model               string
	UseComponentLibrary bool

	StatusMessages []string
	StatusInterval time.Duration
	SampleImageURL string

	// History, when set, is told about every finished generation.
	History RunRecorder
	Backend string

	// BlockingDelivery makes every subscriber see every snapshot. By default
	// a subscriber that falls behind misses intermediate snapshots.
	BlockingDelivery bool
	BufferSize       int

	Logger *zerolog.Logger
	NewID  func() string
	Now    func() time.Time
}

// Session owns one generation workflow. All methods are safe for concurrent
// use; at most one upload or generation request is outstanding at a time.
type Session struct {
	uploader  provider.Uploader
	generator provider.Generator
	registry  *models.ModelRegistry
	history   RunRecorder
	backend   string
	sampleURL string
	newID     func() string
	now       func() time.Time
	logger    zerolog.Logger

	rotator *Rotator
	broker  *pubsub.Broker[Snapshot]

	// pubMu orders reduce+publish pairs so observers see snapshots in the
	// order they were produced. mu guards state alone, so Snapshot never
	// waits on a slow subscriber.
	pubMu sync.Mutex
	mu    sync.Mutex
	state Snapshot

	closed   bool
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(opts Options) (*Session, error) {
	if opts.Uploader == nil || opts.Generator == nil {
		return nil, errors.New("session requires an uploader and a generator")
	}

	registry := opts.Registry
	if registry == nil {
		registry = models.DefaultRegistry()
	}

	model := opts.Model
	if model == "" {
		model = models.DefaultModel
	}
	caps, ok := registry.Get(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownModel, model)
	}
	if opts.UseComponentLibrary && !caps.SupportsComponentLibrary {
		return nil, fmt.Errorf("%w: %s", models.ErrLibraryNotSupported, model)
	}

	sampleURL := opts.SampleImageURL
	if sampleURL == "" {
		sampleURL = models.SampleImageURL
	}

	logger := log.WithComponent("session")
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "session").Logger()
	}

	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	brokerOpts := []pubsub.BrokerOption[Snapshot]{
		pubsub.WithDropPolicy[Snapshot](!opts.BlockingDelivery),
	}
	if opts.BufferSize > 0 {
		brokerOpts = append(brokerOpts, pubsub.WithBufferSize[Snapshot](opts.BufferSize))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		uploader:  opts.Uploader,
		generator: opts.Generator,
		registry:  registry,
		history:   opts.History,
		backend:   opts.Backend,
		sampleURL: sampleURL,
		newID:     newID,
		now:       now,
		logger:    logger,
		broker:    pubsub.NewBroker("session", brokerOpts...),
		state: Snapshot{
			Status:              StatusInitial,
			Model:               model,
			UseComponentLibrary: opts.UseComponentLibrary,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.rotator = NewRotator(opts.StatusMessages, opts.StatusInterval, s.advanceMessage)

	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe streams snapshots published after the call until ctx is done or
// the session is closed.
func (s *Session) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return s.broker.Subscribe(ctx)
}

func (s *Session) Registry() *models.ModelRegistry {
	return s.registry
}

// apply runs ev through Reduce and publishes the resulting snapshot.
func (s *Session) apply(typ pubsub.EventType, ev Event) (Snapshot, error) {
	return s.applyFrom(typ, func(Snapshot) (Event, error) { return ev, nil })
}

// applyFrom builds the event from the current state and reduces it in the
// same critical section, so checks made by build cannot go stale.
func (s *Session) applyFrom(typ pubsub.EventType, build func(Snapshot) (Event, error)) (Snapshot, error) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	ev, err := build(s.state)
	if err != nil {
		cur := s.state
		s.mu.Unlock()
		return cur, err
	}
	next, err := Reduce(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		return next, err
	}
	s.state = next
	s.mu.Unlock()

	s.broker.Publish(typ, next)
	return next, nil
}

func (s *Session) advanceMessage(msg string) {
	// Fails harmlessly if the generation ended between tick and apply.
	s.apply(pubsub.EventUpdated, EventMessageAdvanced{Message: msg})
}

// begin registers an operation that may issue a network request. The
// returned context is also cancelled by Close.
func (s *Session) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		s.inflight.Done()
	}, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SubmitImage uploads file and, on success, makes its hosted URL the
// session's image. The session must be in the initial state.
func (s *Session) SubmitImage(ctx context.Context, file *models.ImageFile) error {
	if err := file.Validate(); err != nil {
		return err
	}

	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := s.apply(pubsub.EventStarted, EventUploadStarted{}); err != nil {
		return err
	}

	logger := s.logger.With().Str("file", file.Name).Str("type", file.Type.String()).Logger()
	logger.Debug().Int("bytes", len(file.Data)).Msg("uploading image")

	ref, err := s.uploader.Upload(ctx, file)
	if err == nil && strings.TrimSpace(ref) == "" {
		err = errors.New("empty image URL")
	}
	if err != nil {
		if !errors.Is(err, provider.ErrUploadFailed) {
			err = fmt.Errorf("%w: %w", provider.ErrUploadFailed, err)
		}
		logger.Error().Err(err).Msg("upload failed")
		s.apply(pubsub.EventFailed, EventUploadFailed{Err: err})
		return err
	}

	if _, err := s.apply(pubsub.EventCompleted, EventUploadSucceeded{ImageRef: ref}); err != nil {
		return err
	}
	logger.Info().Str("image_url", ref).Msg("image uploaded")
	return nil
}

// UseSampleImage selects the built-in sample screenshot without any network
// call.
func (s *Session) UseSampleImage() error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.apply(pubsub.EventUpdated, EventSampleSelected{ImageRef: s.sampleURL})
	return err
}

// ClearImage drops the current image and any generated code.
func (s *Session) ClearImage() error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.apply(pubsub.EventUpdated, EventCleared{})
	return err
}

func (s *Session) SelectModel(model string) error {
	if s.isClosed() {
		return ErrClosed
	}
	caps, ok := s.registry.Get(model)
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownModel, model)
	}
	_, err := s.applyFrom(pubsub.EventUpdated, func(cur Snapshot) (Event, error) {
		if cur.UseComponentLibrary && !caps.SupportsComponentLibrary {
			return nil, fmt.Errorf("%w: %s", models.ErrLibraryNotSupported, model)
		}
		return EventModelSelected{Model: model}, nil
	})
	return err
}

func (s *Session) SetUseComponentLibrary(enabled bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.applyFrom(pubsub.EventUpdated, func(cur Snapshot) (Event, error) {
		if enabled {
			if caps, ok := s.registry.Get(cur.Model); ok && !caps.SupportsComponentLibrary {
				return nil, fmt.Errorf("%w: %s", models.ErrLibraryNotSupported, caps.Name)
			}
		}
		return EventLibraryToggled{Enabled: enabled}, nil
	})
	return err
}

// Generate requests code for the current image and blocks until the response
// stream ends. Every chunk is appended to the buffer and published before the
// next one is read. On failure the session returns to uploaded and keeps
// whatever code had already arrived.
func (s *Session) Generate(ctx context.Context) error {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	runID := s.newID()
	snap, err := s.apply(pubsub.EventStarted, EventGenerateStarted{
		RunID:        runID,
		FirstMessage: s.rotator.First(),
	})
	if err != nil {
		return err
	}

	started := s.now()
	logger := s.logger.With().Str("run_id", runID).Str("model", snap.Model).Logger()
	logger.Info().Str("image_url", snap.ImageRef).Bool("shadcn", snap.UseComponentLibrary).Msg("generation started")

	s.rotator.Start()

	chunks, genErr := s.consume(ctx, &models.GenerateRequest{
		Model:               snap.Model,
		UseComponentLibrary: snap.UseComponentLibrary,
		ImageURL:            snap.ImageRef,
	})

	// The rotator must be quiet before the terminal snapshot is published.
	s.rotator.Stop()

	var final Snapshot
	if genErr != nil {
		logger.Error().Err(genErr).Int("chunks", chunks).Msg("generation failed")
		final, _ = s.apply(pubsub.EventFailed, EventGenerateFailed{Err: genErr})
	} else {
		final, _ = s.apply(pubsub.EventCompleted, EventGenerateSucceeded{})
		logger.Info().Int("chunks", chunks).Int("bytes", len(final.Code)).Msg("generation completed")
	}

	s.record(&Run{
		ID:                  runID,
		Model:               snap.Model,
		UseComponentLibrary: snap.UseComponentLibrary,
		ImageRef:            snap.ImageRef,
		Outcome:             outcome(genErr),
		CodeLength:          len(final.Code),
		Error:               errString(genErr),
		StartedAt:           started,
		FinishedAt:          s.now(),
		Metadata:            RunMetadata{Backend: s.backend, ChunkCount: chunks},
	}, logger)

	return genErr
}

// consume issues the generation request and feeds the response into the
// buffer. It returns the number of chunks applied.
func (s *Session) consume(ctx context.Context, req *models.GenerateRequest) (int, error) {
	body, err := s.generator.Generate(ctx, req)
	if err != nil {
		if !errors.Is(err, provider.ErrGenerationRequestFailed) {
			err = fmt.Errorf("%w: %w", provider.ErrGenerationRequestFailed, err)
		}
		return 0, err
	}
	if body == nil {
		return 0, fmt.Errorf("%w: response has no body", provider.ErrGenerationRequestFailed)
	}
	defer body.Close()

	n := 0
	for text, err := range stream.Chunks(body) {
		if err != nil {
			return n, fmt.Errorf("%w: %w", provider.ErrStreamReadFailed, err)
		}
		if text == "" {
			continue
		}
		if _, err := s.apply(pubsub.EventChunk, EventChunk{Text: text}); err != nil {
			return n, err
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty response body", provider.ErrGenerationRequestFailed)
	}
	return n, nil
}

func (s *Session) record(run *Run, logger zerolog.Logger) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.history.RecordRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("failed to record run history")
	}
}

func outcome(err error) RunOutcome {
	if err != nil {
		return RunFailed
	}
	return RunCompleted
}

// Close cancels any outstanding request, waits for it to unwind and releases
// the rotator and every subscriber. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	// Shut the broker first so a publisher blocked on a subscriber is released.
	s.broker.Shutdown()
	s.inflight.Wait()
	s.rotator.Stop()
	return nil
}
