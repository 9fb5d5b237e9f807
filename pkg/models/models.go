package models

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrUnknownModel        = errors.New("unknown model")
	ErrEmptyImageRef       = errors.New("image reference cannot be empty")
	ErrUnsupportedMIMEType = errors.New("unsupported image type")
	ErrNoImageData         = errors.New("image data is required")
	ErrLibraryNotSupported = errors.New("component library output not supported by model")
)

// DefaultModel is the model a fresh session starts with.
const DefaultModel = "gemini-1.5-pro"

// SampleImageURL is a known-good screenshot used when the user has none.
const SampleImageURL = "https://napkinsdev.s3.us-east-1.amazonaws.com/next-s3-uploads/be191fc8-149b-43eb-b434-baf883986c2c/appointment-booking.png"

type ProviderType string

const (
	ProviderGoogle    ProviderType = "google"
	ProviderMeta      ProviderType = "meta"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

type MIMEType string

const (
	MIMEPNG  MIMEType = "image/png"
	MIMEJPEG MIMEType = "image/jpeg"
	MIMEJPG  MIMEType = "image/jpg"
)

func AllowedMIMETypes() []MIMEType {
	return []MIMEType{MIMEPNG, MIMEJPEG, MIMEJPG}
}

func (m MIMEType) IsAllowed() bool {
	return slices.Contains(AllowedMIMETypes(), MIMEType(strings.ToLower(string(m))))
}

func (m MIMEType) String() string {
	return string(m)
}

// Extension returns the canonical file extension for the type, without the dot.
func (m MIMEType) Extension() string {
	switch MIMEType(strings.ToLower(string(m))) {
	case MIMEPNG:
		return "png"
	case MIMEJPEG, MIMEJPG:
		return "jpg"
	default:
		return ""
	}
}

// ImageFile is a screenshot selected for upload.
type ImageFile struct {
	Name string
	Type MIMEType
	Data []byte
}

func (f *ImageFile) Validate() error {
	if f == nil || len(f.Data) == 0 {
		return ErrNoImageData
	}
	if !f.Type.IsAllowed() {
		return fmt.Errorf("%w: %q (allowed: %v)", ErrUnsupportedMIMEType, f.Type, AllowedMIMETypes())
	}
	return nil
}

// GenerateRequest carries the three fields the generation endpoint accepts.
type GenerateRequest struct {
	Model               string
	UseComponentLibrary bool
	ImageURL            string
}

func (r *GenerateRequest) Validate() error {
	if strings.TrimSpace(r.ImageURL) == "" {
		return ErrEmptyImageRef
	}
	if r.Model == "" {
		return fmt.Errorf("%w: empty model", ErrUnknownModel)
	}
	return nil
}

type ModelCapabilities struct {
	Name                     string
	DisplayName              string
	Provider                 ProviderType
	SupportsComponentLibrary bool
}

func (c *ModelCapabilities) Validate(req *GenerateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Model != c.Name {
		return fmt.Errorf("%w: %q", ErrUnknownModel, req.Model)
	}
	if req.UseComponentLibrary && !c.SupportsComponentLibrary {
		return fmt.Errorf("%w: %s", ErrLibraryNotSupported, c.Name)
	}
	return nil
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

// List returns model names in sorted order.
func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ModelRegistry) ListByProvider(provider ProviderType) []string {
	var names []string
	for name, cap := range r.models {
		if cap.Provider == provider {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:                     "gemini-1.5-pro",
		DisplayName:              "Gemini 1.5 Pro",
		Provider:                 ProviderGoogle,
		SupportsComponentLibrary: true,
	})

	r.Register(&ModelCapabilities{
		Name:                     "gemini-pro",
		DisplayName:              "Meta Llama 3.1",
		Provider:                 ProviderMeta,
		SupportsComponentLibrary: true,
	})

	r.Register(&ModelCapabilities{
		Name:                     "gpt4",
		DisplayName:              "GPT-4",
		Provider:                 ProviderOpenAI,
		SupportsComponentLibrary: true,
	})

	r.Register(&ModelCapabilities{
		Name:                     "claude",
		DisplayName:              "Claude 3",
		Provider:                 ProviderAnthropic,
		SupportsComponentLibrary: true,
	})

	return r
}
