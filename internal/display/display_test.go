package display

import (
	"bytes"
	"context"
	stdimage "image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/manash/buildfy/pkg/models"
)

func encodeTestImage(t *testing.T, asJPEG bool) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})

	var buf bytes.Buffer
	var err error
	if asJPEG {
		err = jpeg.Encode(&buf, img, nil)
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	return buf.Bytes()
}

func TestPreviewer_ShowFile_PNG(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	file := &models.ImageFile{Name: "a.png", Type: models.MIMEPNG, Data: encodeTestImage(t, false)}
	if err := p.ShowFile(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "\x1b_G") {
		t.Error("output should contain Kitty escape sequence")
	}
	if !strings.Contains(output, "c=60") {
		t.Error("output should bound the preview width")
	}
}

func TestPreviewer_ShowFile_JPEGConverted(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	file := &models.ImageFile{Name: "a.jpg", Type: models.MIMEJPG, Data: encodeTestImage(t, true)}
	if err := p.ShowFile(file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "f=100") {
		t.Error("output should transmit PNG data")
	}
}

func TestPreviewer_ShowFile_Errors(t *testing.T) {
	p := New(&bytes.Buffer{})

	if err := p.ShowFile(nil); err == nil {
		t.Error("expected error for nil file")
	}
	if err := p.ShowFile(&models.ImageFile{Name: "x.png"}); err == nil {
		t.Error("expected error for file without data")
	}
	if err := p.ShowFile(&models.ImageFile{Name: "x.png", Data: []byte("not an image")}); err == nil {
		t.Error("expected error for undecodable data")
	}
}

func TestPreviewer_ShowURL(t *testing.T) {
	data := encodeTestImage(t, false)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sample.png" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		if err := New(&buf).ShowURL(context.Background(), server.URL+"/sample.png"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\x1b_G") {
			t.Error("output should contain Kitty escape sequence")
		}
	})

	t.Run("download error", func(t *testing.T) {
		var buf bytes.Buffer
		err := New(&buf).ShowURL(context.Background(), server.URL+"/broken")
		if err == nil || !strings.Contains(err.Error(), "500") {
			t.Errorf("expected status 500 error, got %v", err)
		}
		if buf.Len() != 0 {
			t.Error("nothing should be written on failure")
		}
	})

	t.Run("empty url", func(t *testing.T) {
		if err := New(&bytes.Buffer{}).ShowURL(context.Background(), ""); err == nil {
			t.Error("expected error for empty URL")
		}
	})
}

func TestToPNG_PassThrough(t *testing.T) {
	data := encodeTestImage(t, false)
	got, err := toPNG(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("PNG input should be returned unchanged")
	}
}

func TestIsTerminalSupported(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"kitty program", map[string]string{"TERM_PROGRAM": "kitty"}, true},
		{"ghostty program", map[string]string{"TERM_PROGRAM": "Ghostty"}, true},
		{"wezterm", map[string]string{"TERM_PROGRAM": "WezTerm"}, true},
		{"kitty window", map[string]string{"KITTY_WINDOW_ID": "1"}, true},
		{"kitty term", map[string]string{"TERM": "xterm-kitty"}, true},
		{"apple terminal", map[string]string{"TERM_PROGRAM": "Apple_Terminal", "TERM": "xterm-256color"}, false},
		{"empty", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := IsTerminalSupported(getenv); got != tt.want {
				t.Errorf("IsTerminalSupported() = %v, want %v", got, tt.want)
			}
		})
	}
}
