package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/manash/buildfy/pkg/models"
)

var (
	ErrBackendNotFound         = errors.New("backend not found")
	ErrBaseURLRequired         = errors.New("base URL is required")
	ErrUploadFailed            = errors.New("upload failed")
	ErrGenerationRequestFailed = errors.New("generation request failed")
	ErrStreamReadFailed        = errors.New("stream read failed")
)

// Uploader stores a screenshot and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, file *models.ImageFile) (string, error)
}

// Generator starts a code generation and returns the streamed body. The
// caller owns the returned reader and must close it.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerateRequest) (io.ReadCloser, error)
}

// Backend is a service that offers both collaborator endpoints.
type Backend interface {
	Uploader
	Generator
	Name() string
}

type Config struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
	Verbose    bool
}

// NewFunc builds a backend from configuration.
type NewFunc func(cfg *Config) (Backend, error)

type Factory struct {
	constructors map[string]NewFunc
}

func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[string]NewFunc),
	}
}

func (f *Factory) Register(name string, fn NewFunc) {
	f.constructors[name] = fn
}

func (f *Factory) New(name string, cfg *Config) (Backend, error) {
	fn, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	return fn(cfg)
}

func (f *Factory) List() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
