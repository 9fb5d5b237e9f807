package models

import (
	"errors"
	"testing"
)

func TestMIMEType_IsAllowed(t *testing.T) {
	tests := []struct {
		name string
		mime MIMEType
		want bool
	}{
		{"png", MIMEPNG, true},
		{"jpeg", MIMEJPEG, true},
		{"jpg", MIMEJPG, true},
		{"upper case png", MIMEType("IMAGE/PNG"), true},
		{"gif", MIMEType("image/gif"), false},
		{"webp", MIMEType("image/webp"), false},
		{"empty", MIMEType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mime.IsAllowed(); got != tt.want {
				t.Errorf("MIMEType(%q).IsAllowed() = %v, want %v", tt.mime, got, tt.want)
			}
		})
	}
}

func TestMIMEType_Extension(t *testing.T) {
	tests := []struct {
		mime MIMEType
		want string
	}{
		{MIMEPNG, "png"},
		{MIMEJPEG, "jpg"},
		{MIMEJPG, "jpg"},
		{MIMEType("image/gif"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.mime.String(), func(t *testing.T) {
			if got := tt.mime.Extension(); got != tt.want {
				t.Errorf("Extension() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImageFile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		file    *ImageFile
		wantErr error
	}{
		{"valid png", &ImageFile{Name: "a.png", Type: MIMEPNG, Data: []byte{1}}, nil},
		{"valid jpeg", &ImageFile{Name: "a.jpeg", Type: MIMEJPEG, Data: []byte{1}}, nil},
		{"nil file", nil, ErrNoImageData},
		{"empty data", &ImageFile{Name: "a.png", Type: MIMEPNG}, ErrNoImageData},
		{"gif", &ImageFile{Name: "a.gif", Type: "image/gif", Data: []byte{1}}, ErrUnsupportedMIMEType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		wantErr error
	}{
		{"valid", GenerateRequest{Model: DefaultModel, ImageURL: "https://example/x.png"}, nil},
		{"empty image", GenerateRequest{Model: DefaultModel}, ErrEmptyImageRef},
		{"whitespace image", GenerateRequest{Model: DefaultModel, ImageURL: "  "}, ErrEmptyImageRef},
		{"empty model", GenerateRequest{ImageURL: "https://example/x.png"}, ErrUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestModelCapabilities_Validate(t *testing.T) {
	cap := &ModelCapabilities{
		Name:                     "plain-model",
		SupportsComponentLibrary: false,
	}

	req := &GenerateRequest{Model: "plain-model", ImageURL: "https://example/x.png"}
	if err := cap.Validate(req); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	req.UseComponentLibrary = true
	if err := cap.Validate(req); !errors.Is(err, ErrLibraryNotSupported) {
		t.Errorf("Validate() error = %v, want %v", err, ErrLibraryNotSupported)
	}

	req.Model = "other"
	if err := cap.Validate(req); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Validate() error = %v, want %v", err, ErrUnknownModel)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	if _, ok := r.Get(DefaultModel); !ok {
		t.Fatalf("DefaultRegistry() missing default model %s", DefaultModel)
	}

	want := []string{"claude", "gemini-1.5-pro", "gemini-pro", "gpt4"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, ok := r.Get("dall-e-3"); ok {
		t.Error("Get(dall-e-3) ok = true, want false")
	}
}

func TestModelRegistry_ListByProvider(t *testing.T) {
	r := DefaultRegistry()

	got := r.ListByProvider(ProviderGoogle)
	if len(got) != 1 || got[0] != "gemini-1.5-pro" {
		t.Errorf("ListByProvider(google) = %v, want [gemini-1.5-pro]", got)
	}

	if got := r.ListByProvider(ProviderType("nobody")); len(got) != 0 {
		t.Errorf("ListByProvider(nobody) = %v, want empty", got)
	}
}
