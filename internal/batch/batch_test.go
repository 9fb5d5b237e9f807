package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/manash/buildfy/internal/image"
	"github.com/manash/buildfy/internal/output"
	"github.com/manash/buildfy/internal/security"
	"github.com/manash/buildfy/internal/session"
	"github.com/manash/buildfy/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "basic sources",
			input: "home.png\nhttps://cdn.example.com/pricing.jpg\nsample",
			want:  3,
		},
		{
			name:  "with empty lines",
			input: "one.png\n\ntwo.png\n\n",
			want:  2,
		},
		{
			name:  "with comments",
			input: "# landing pages\none.png\n# settings\ntwo.png",
			want:  2,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only comments",
			input:   "# comment\n# another",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseText(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(items) != tt.want {
				t.Errorf("ParseText() got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestParseText_IndexesSkipComments(t *testing.T) {
	items, err := ParseText(strings.NewReader("# header\n  a.png  \n\nb.png\n"))
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Index != 1 || items[0].Source != "a.png" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Index != 2 || items[1].Source != "b.png" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "basic array",
			input: `[{"image": "one.png"}, {"image": "two.png"}]`,
			want:  2,
		},
		{
			name:  "with options",
			input: `[{"image": "one.png", "model": "gpt4", "shadcn": false, "output": "out/One.tsx"}]`,
			want:  1,
		},
		{
			name:    "empty array",
			input:   `[]`,
			wantErr: true,
		},
		{
			name:    "missing image",
			input:   `[{"model": "gpt4"}]`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `[{"image": "one.png"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseJSON(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(items) != tt.want {
				t.Errorf("ParseJSON() got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestParseJSON_Overrides(t *testing.T) {
	items, err := ParseJSON(strings.NewReader(`[
		{"image": "a.png"},
		{"image": "b.png", "model": "gpt4", "shadcn": false, "output": "B.tsx"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Shadcn != nil || items[0].Model != "" {
		t.Errorf("items[0] = %+v, want no overrides", items[0])
	}
	if items[1].Shadcn == nil || *items[1].Shadcn {
		t.Errorf("items[1].Shadcn = %v, want explicit false", items[1].Shadcn)
	}
	if items[1].Model != "gpt4" || items[1].Output != "B.tsx" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestParseFile(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     int
		wantErr  bool
	}{
		{
			name:     "txt file",
			filename: "shots.txt",
			content:  "one.png\ntwo.png",
			want:     2,
		},
		{
			name:     "json file",
			filename: "shots.json",
			content:  `[{"image": "one.png"}, {"image": "two.png"}]`,
			want:     2,
		},
		{
			name:     "unsupported extension",
			filename: "shots.yaml",
			content:  "image: one.png",
			wantErr:  true,
		},
		{
			name:     "no extension treated as txt",
			filename: "shots",
			content:  "one.png\ntwo.png",
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filePath := filepath.Join(t.TempDir(), tt.filename)
			if err := os.WriteFile(filePath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			items, err := ParseFile(filePath)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(items) != tt.want {
				t.Errorf("ParseFile() got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestParseFile_NotFound(t *testing.T) {
	if _, err := ParseFile("/nonexistent/file.txt"); err == nil {
		t.Error("ParseFile() expected error for non-existent file")
	}
}

type mockBackend struct {
	mu       sync.Mutex
	requests []*models.GenerateRequest
	uploads  int

	active    atomic.Int32
	maxActive atomic.Int32

	generateFunc func(ctx context.Context, req *models.GenerateRequest) (io.ReadCloser, error)
}

func (m *mockBackend) Upload(_ context.Context, file *models.ImageFile) (string, error) {
	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	return "https://cdn.example.com/" + file.Name, nil
}

func (m *mockBackend) Generate(ctx context.Context, req *models.GenerateRequest) (io.ReadCloser, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		old := m.maxActive.Load()
		if n <= old || m.maxActive.CompareAndSwap(old, n) {
			break
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	code := fmt.Sprintf("// %s\nexport default function App() {}\n", req.ImageURL)
	return io.NopCloser(strings.NewReader(code)), nil
}

func (m *mockBackend) requestFor(imageURL string) *models.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.ImageURL == imageURL {
			return r
		}
	}
	return nil
}

func writeShots(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, name := range names {
		var buf bytes.Buffer
		if err := png.Encode(&buf, stdimage.NewGray(stdimage.Rect(0, 0, 2, 2))); err != nil {
			t.Fatal(err)
		}
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func newTestProcessor(backend *mockBackend, out, errOut io.Writer) *Processor {
	saver := output.NewSaver()
	saver.AllowAbsolute = true
	return NewProcessor(
		session.Options{Uploader: backend, Generator: backend},
		image.NewLoader(0, security.URLPolicy{}),
		saver,
		out,
		errOut,
	)
}

func TestProcessorProcess(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	paths := writeShots(t, srcDir, "home.png", "pricing.png")

	backend := &mockBackend{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	proc := newTestProcessor(backend, out, errOut)

	items := []Item{
		{Index: 1, Source: paths[0]},
		{Index: 2, Source: paths[1]},
		{Index: 3, Source: SampleSource},
	}

	results, err := proc.Process(context.Background(), items, &Options{
		OutputDir:           outDir,
		Model:               models.DefaultModel,
		UseComponentLibrary: true,
		Parallel:            1,
	})
	if err != nil {
		t.Fatalf("Process() error = %v; stderr: %s", err, errOut.String())
	}

	wantPaths := []string{
		filepath.Join(outDir, "001-home.tsx"),
		filepath.Join(outDir, "002-pricing.tsx"),
		filepath.Join(outDir, "003-sample.tsx"),
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Result[%d] has error: %v", i, r.Error)
			continue
		}
		if r.Path != wantPaths[i] {
			t.Errorf("Result[%d].Path = %q, want %q", i, r.Path, wantPaths[i])
		}
		if r.RunID == "" || r.Bytes == 0 {
			t.Errorf("Result[%d] = %+v, want run id and size", i, r)
		}
		data, err := os.ReadFile(r.Path)
		if err != nil {
			t.Errorf("ReadFile(%s) error = %v", r.Path, err)
			continue
		}
		if !strings.Contains(string(data), "export default function App()") {
			t.Errorf("file %s = %q", r.Path, data)
		}
	}

	if backend.uploads != 2 {
		t.Errorf("uploads = %d, want 2 (sample needs none)", backend.uploads)
	}
	if req := backend.requestFor(models.SampleImageURL); req == nil || !req.UseComponentLibrary {
		t.Errorf("sample request = %+v, want shadcn enabled", req)
	}
	if !strings.Contains(out.String(), "[3/3] Converting sample") {
		t.Errorf("progress output = %q", out.String())
	}
}

func TestProcessor_ItemOverrides(t *testing.T) {
	outDir := t.TempDir()
	off := false
	backend := &mockBackend{}
	proc := newTestProcessor(backend, io.Discard, io.Discard)

	items := []Item{
		{Index: 1, Source: SampleSource, Model: "gpt4", Shadcn: &off, Output: filepath.Join(outDir, "Custom.tsx")},
	}
	results, err := proc.Process(context.Background(), items, &Options{
		OutputDir:           outDir,
		Model:               models.DefaultModel,
		UseComponentLibrary: true,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if results[0].Path != filepath.Join(outDir, "Custom.tsx") {
		t.Errorf("Path = %q", results[0].Path)
	}

	req := backend.requestFor(models.SampleImageURL)
	if req == nil {
		t.Fatal("no generate request recorded")
	}
	if req.Model != "gpt4" || req.UseComponentLibrary {
		t.Errorf("request = %+v, want gpt4 without shadcn", req)
	}
}

func TestProcessor_ParallelLimit(t *testing.T) {
	srcDir := t.TempDir()
	paths := writeShots(t, srcDir, "a.png", "b.png", "c.png", "d.png", "e.png", "f.png")

	backend := &mockBackend{
		generateFunc: func(ctx context.Context, _ *models.GenerateRequest) (io.ReadCloser, error) {
			time.Sleep(20 * time.Millisecond)
			return io.NopCloser(strings.NewReader("export default function App() {}\n")), nil
		},
	}
	proc := newTestProcessor(backend, io.Discard, io.Discard)

	var items []Item
	for i, p := range paths {
		items = append(items, Item{Index: i + 1, Source: p})
	}

	results, err := proc.Process(context.Background(), items, &Options{
		OutputDir: t.TempDir(),
		Model:     models.DefaultModel,
		Parallel:  2,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Result[%d] error = %v", i, r.Error)
		}
		if r.Index != i+1 {
			t.Errorf("Result[%d].Index = %d, results out of order", i, r.Index)
		}
	}
	if got := backend.maxActive.Load(); got > 2 {
		t.Errorf("max concurrent generations = %d, want <= 2", got)
	}
}

func TestProcessorWithErrors(t *testing.T) {
	t.Run("unknown model", func(t *testing.T) {
		errOut := &bytes.Buffer{}
		proc := newTestProcessor(&mockBackend{}, io.Discard, errOut)

		results, err := proc.Process(context.Background(),
			[]Item{{Index: 1, Source: SampleSource, Model: "unknown-model"}},
			&Options{OutputDir: t.TempDir(), Model: models.DefaultModel})
		if err != nil {
			t.Fatalf("Process() error = %v, want per-item error only", err)
		}
		if !errors.Is(results[0].Error, models.ErrUnknownModel) {
			t.Errorf("Result.Error = %v, want ErrUnknownModel", results[0].Error)
		}
		if !strings.Contains(errOut.String(), "Error:") {
			t.Errorf("stderr = %q", errOut.String())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		proc := newTestProcessor(&mockBackend{}, io.Discard, io.Discard)

		results, err := proc.Process(context.Background(),
			[]Item{{Index: 1, Source: filepath.Join(t.TempDir(), "gone.png")}},
			&Options{OutputDir: t.TempDir(), Model: models.DefaultModel})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if results[0].Error == nil || results[0].Path != "" {
			t.Errorf("Result = %+v, want error and no output", results[0])
		}
	})

	t.Run("generation failure continues", func(t *testing.T) {
		outDir := t.TempDir()
		paths := writeShots(t, t.TempDir(), "bad.png", "good.png")
		backend := &mockBackend{
			generateFunc: func(_ context.Context, req *models.GenerateRequest) (io.ReadCloser, error) {
				if strings.HasSuffix(req.ImageURL, "bad.png") {
					return nil, errors.New("HTTP 500")
				}
				return io.NopCloser(strings.NewReader("ok")), nil
			},
		}
		proc := newTestProcessor(backend, io.Discard, io.Discard)

		results, err := proc.Process(context.Background(), []Item{
			{Index: 1, Source: paths[0]},
			{Index: 2, Source: paths[1]},
		}, &Options{OutputDir: outDir, Model: models.DefaultModel})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if results[0].Error == nil {
			t.Error("Result[0] succeeded, want failure")
		}
		if _, statErr := os.Stat(filepath.Join(outDir, "001-bad.tsx")); !errors.Is(statErr, os.ErrNotExist) {
			t.Errorf("failed item wrote a file: %v", statErr)
		}
		if results[1].Error != nil {
			t.Errorf("Result[1] error = %v", results[1].Error)
		}
	})

	t.Run("stop on error skips the rest", func(t *testing.T) {
		paths := writeShots(t, t.TempDir(), "a.png", "b.png", "c.png")
		backend := &mockBackend{
			generateFunc: func(context.Context, *models.GenerateRequest) (io.ReadCloser, error) {
				return nil, errors.New("HTTP 503")
			},
		}
		proc := newTestProcessor(backend, io.Discard, io.Discard)

		var items []Item
		for i, p := range paths {
			items = append(items, Item{Index: i + 1, Source: p})
		}
		results, err := proc.Process(context.Background(), items, &Options{
			OutputDir:   t.TempDir(),
			Model:       models.DefaultModel,
			StopOnError: true,
		})
		if err == nil || !strings.Contains(err.Error(), "stopped at item 1") {
			t.Fatalf("Process() error = %v, want stop at item 1", err)
		}
		for _, r := range results[1:] {
			if !errors.Is(r.Error, ErrSkipped) {
				t.Errorf("Result[%d].Error = %v, want ErrSkipped", r.Index, r.Error)
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		proc := newTestProcessor(&mockBackend{}, io.Discard, io.Discard)
		results, err := proc.Process(ctx, []Item{{Index: 1, Source: SampleSource}},
			&Options{OutputDir: t.TempDir(), Model: models.DefaultModel})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Process() error = %v, want context.Canceled", err)
		}
		if !errors.Is(results[0].Error, ErrSkipped) {
			t.Errorf("Result.Error = %v, want ErrSkipped", results[0].Error)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a longer string", 10, "this is..."},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := truncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantOut []string
	}{
		{
			name: "all successful",
			results: []Result{
				{Index: 1, Source: "one.png", Path: "/tmp/001-one.tsx", Bytes: 1000},
				{Index: 2, Source: "two.png", Path: "/tmp/002-two.tsx", Bytes: 1000},
			},
			wantOut: []string{"Successful: 2/2", "Code written: 2.0 kB"},
		},
		{
			name: "with failures",
			results: []Result{
				{Index: 1, Source: "one.png", Path: "/tmp/001-one.tsx"},
				{Index: 2, Source: "two.png", Error: fmt.Errorf("generation failed")},
				{Index: 3, Source: "three.png", Error: ErrSkipped},
			},
			wantOut: []string{"Failed: 1", "Skipped: 1", "[2] two.png: generation failed"},
		},
		{
			name:    "empty results",
			results: []Result{},
			wantOut: []string{"Successful: 0/0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			proc := newTestProcessor(&mockBackend{}, out, out)
			proc.PrintSummary(tt.results)
			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("PrintSummary() output = %q, want to contain %q", out.String(), want)
				}
			}
		})
	}
}
