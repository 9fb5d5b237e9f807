// Package image loads design screenshots from disk or from a remote URL and
// checks them against the allowed upload types.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/pkg/models"
)

// DefaultMaxSize caps screenshots at 10 MiB.
const DefaultMaxSize int64 = 10 << 20

var (
	ErrTooLarge = errors.New("image exceeds maximum size")
	ErrEmpty    = errors.New("image is empty")
)

type Loader struct {
	httpClient *http.Client
	maxSize    int64
	policy     security.URLPolicy
}

// NewLoader returns a loader enforcing maxSize (DefaultMaxSize when not
// positive) and fetching remote screenshots only where policy allows.
func NewLoader(maxSize int64, policy security.URLPolicy) *Loader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Loader{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxSize: maxSize,
		policy:  policy,
	}
}

// Load reads src, a local path or an http(s) URL.
func (l *Loader) Load(ctx context.Context, src string) (*models.ImageFile, error) {
	var (
		data []byte
		name string
		err  error
	)

	if security.IsRemote(src) {
		data, err = l.downloadFromURL(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to download image: %w", err)
		}
		name = remoteName(src)
	} else {
		data, err = l.readFile(src)
		if err != nil {
			return nil, err
		}
		name = filepath.Base(src)
	}

	mimeType, err := DetectMIME(name, data)
	if err != nil {
		return nil, err
	}

	return &models.ImageFile{Name: name, Type: mimeType, Data: data}, nil
}

func (l *Loader) readFile(p string) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to read image: %s is a directory", p)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(l.maxSize)))
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

func (l *Loader) downloadFromURL(ctx context.Context, url string) ([]byte, error) {
	if err := l.policy.Validate(url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	if resp.ContentLength > l.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(resp.ContentLength)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%w: more than %s", ErrTooLarge, humanize.IBytes(uint64(l.maxSize)))
	}
	return data, nil
}

func remoteName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "screenshot"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "screenshot"
	}
	return security.SanitizeFilename(name)
}

// DetectMIME identifies the image type from its content, falling back to the
// file extension when the content is not recognisable as an image.
func DetectMIME(name string, data []byte) (models.MIMEType, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		m := models.MIMEType(sniffed)
		if !m.IsAllowed() {
			return "", fmt.Errorf("%w: %s", models.ErrUnsupportedMIMEType, sniffed)
		}
		return m, nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return models.MIMEPNG, nil
	case ".jpg":
		return models.MIMEJPG, nil
	case ".jpeg":
		return models.MIMEJPEG, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", models.ErrUnsupportedMIMEType, name, sniffed)
}

// Describe is a one-line human summary such as "shot.png, 1.2 MiB, 1280x720".
func Describe(file *models.ImageFile) string {
	desc := fmt.Sprintf("%s, %s", file.Name, humanize.IBytes(uint64(len(file.Data))))
	if cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(file.Data)); err == nil {
		desc += fmt.Sprintf(", %dx%d", cfg.Width, cfg.Height)
	}
	return desc
}
