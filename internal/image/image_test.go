package image

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/pkg/models"
)

var localPolicy = security.URLPolicy{AllowHTTP: true, AllowPrivate: true}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return p
}

func TestNewLoader(t *testing.T) {
	l := NewLoader(0, security.URLPolicy{})
	if l.maxSize != DefaultMaxSize {
		t.Errorf("maxSize = %d, want %d", l.maxSize, DefaultMaxSize)
	}
	if l.httpClient == nil {
		t.Fatal("NewLoader() httpClient is nil")
	}
}

func TestLoader_LoadFile(t *testing.T) {
	data := pngBytes(t, 4, 3)
	p := writeFile(t, "design.png", data)

	file, err := NewLoader(0, security.URLPolicy{}).Load(context.Background(), p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.Name != "design.png" || file.Type != models.MIMEPNG {
		t.Errorf("Load() = %q %q, want design.png image/png", file.Name, file.Type)
	}
	if !bytes.Equal(file.Data, data) {
		t.Error("Load() data mismatch")
	}
}

func TestLoader_LoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		maxSize int64
		wantErr error
	}{
		{
			name:    "missing file",
			setup:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.png") },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "too large",
			setup:   func(t *testing.T) string { return writeFile(t, "big.png", pngBytes(t, 64, 64)) },
			maxSize: 16,
			wantErr: ErrTooLarge,
		},
		{
			name:    "gif rejected",
			setup:   func(t *testing.T) string { return writeFile(t, "anim.gif", []byte("GIF89a\x01\x00\x01\x00")) },
			wantErr: models.ErrUnsupportedMIMEType,
		},
		{
			name:    "empty file",
			setup:   func(t *testing.T) string { return writeFile(t, "empty.png", nil) },
			wantErr: ErrEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(tt.maxSize, security.URLPolicy{}).Load(context.Background(), tt.setup(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_LoadURL(t *testing.T) {
	data := pngBytes(t, 2, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shots/home.png":
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Run("success", func(t *testing.T) {
		file, err := NewLoader(0, localPolicy).Load(context.Background(), server.URL+"/shots/home.png?v=2")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if file.Name != "home.png" || file.Type != models.MIMEPNG {
			t.Errorf("Load() = %q %q", file.Name, file.Type)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := NewLoader(0, localPolicy).Load(context.Background(), server.URL+"/missing.png")
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Errorf("Load() error = %v, want status 404", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, err := NewLoader(8, localPolicy).Load(context.Background(), server.URL+"/shots/home.png")
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("Load() error = %v, want %v", err, ErrTooLarge)
		}
	})

	t.Run("blocked by policy", func(t *testing.T) {
		_, err := NewLoader(0, security.URLPolicy{}).Load(context.Background(), server.URL+"/shots/home.png")
		if !errors.Is(err, security.ErrInvalidScheme) {
			t.Errorf("Load() error = %v, want %v", err, security.ErrInvalidScheme)
		}
	})
}

func TestDetectMIME(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

	tests := []struct {
		name    string
		file    string
		data    []byte
		want    models.MIMEType
		wantErr error
	}{
		{name: "png by content", file: "x.bin", data: pngBytes(t, 1, 1), want: models.MIMEPNG},
		{name: "jpeg by content", file: "x", data: jpeg, want: models.MIMEJPEG},
		{name: "jpg by extension", file: "photo.JPG", data: []byte("not sniffable"), want: models.MIMEJPG},
		{name: "jpeg by extension", file: "photo.jpeg", data: []byte("not sniffable"), want: models.MIMEJPEG},
		{name: "unknown", file: "notes.txt", data: []byte("hello"), wantErr: models.ErrUnsupportedMIMEType},
		{name: "webp content", file: "a.png", data: []byte("RIFF\x00\x00\x00\x00WEBPVP"), wantErr: models.ErrUnsupportedMIMEType},
		{name: "empty", file: "a.png", wantErr: ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMIME(tt.file, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DetectMIME() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectMIME() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	file := &models.ImageFile{Name: "shot.png", Type: models.MIMEPNG, Data: pngBytes(t, 12, 7)}
	got := Describe(file)
	if !strings.HasPrefix(got, "shot.png, ") || !strings.HasSuffix(got, ", 12x7") {
		t.Errorf("Describe() = %q", got)
	}

	raw := &models.ImageFile{Name: "x.jpg", Type: models.MIMEJPG, Data: []byte("junk")}
	if got := Describe(raw); got != "x.jpg, 4 B" {
		t.Errorf("Describe() = %q, want %q", got, "x.jpg, 4 B")
	}
}

func TestRemoteName(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/a/b/home.png":      "home.png",
		"https://cdn.example.com/home.png?x=1#frag": "home.png",
		"https://cdn.example.com":                   "screenshot",
		"https://cdn.example.com/..evil.png":        "evil.png",
	}
	for in, want := range tests {
		if got := remoteName(in); got != want {
			t.Errorf("remoteName(%q) = %q, want %q", in, got, want)
		}
	}
}
