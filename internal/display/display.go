// Package display previews the selected screenshot inline in terminals that
// speak the kitty graphics protocol.
package display

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/manash/buildfy/pkg/models"
)

const (
	defaultTimeout = 30 * time.Second
	defaultColumns = 60
	maxPreviewSize = 10 << 20
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

type Previewer struct {
	out        io.Writer
	httpClient *http.Client
	columns    int
}

func New(out io.Writer) *Previewer {
	return &Previewer{
		out: out,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		columns: defaultColumns,
	}
}

// ShowFile previews a screenshot already held in memory.
func (p *Previewer) ShowFile(file *models.ImageFile) error {
	if file == nil || len(file.Data) == 0 {
		return fmt.Errorf("image has no data")
	}
	return p.show(file.Data)
}

// ShowURL downloads and previews a hosted screenshot, such as the sample
// image or the URL returned by an upload.
func (p *Previewer) ShowURL(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("image has no URL")
	}
	data, err := p.downloadImage(ctx, url)
	if err != nil {
		return err
	}
	return p.show(data)
}

func (p *Previewer) show(data []byte) error {
	pngData, err := toPNG(data)
	if err != nil {
		return err
	}

	enc := NewKittyEncoder(p.out)
	enc.Columns = p.columns
	if err := enc.Encode(pngData); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(p.out)
	return nil
}

// toPNG returns data unchanged when it is already a PNG and re-encodes JPEG
// input, since the kitty protocol path used here only accepts PNG.
func toPNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}

	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Previewer) downloadImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPreviewSize))
}

// IsTerminalSupported reports whether the terminal described by getenv can
// show kitty graphics. A nil getenv reads the process environment.
func IsTerminalSupported(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}

	termProgram := strings.ToLower(getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	term := strings.ToLower(getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
