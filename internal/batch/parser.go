package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SampleSource selects the built-in sample screenshot instead of a file.
const SampleSource = "sample"

// Item is one screenshot to convert. Model and Shadcn override the batch
// defaults when set.
type Item struct {
	Index  int
	Source string
	Model  string
	Shadcn *bool
	Output string
}

type jsonItem struct {
	Image  string `json:"image"`
	Model  string `json:"model,omitempty"`
	Shadcn *bool  `json:"shadcn,omitempty"`
	Output string `json:"output,omitempty"`
}

func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
}

// ParseText reads one image path or URL per line. Blank lines and lines
// starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		items = append(items, Item{
			Index:  index,
			Source: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no images found in file")
	}

	return items, nil
}

// ParseJSON reads an array of {"image", "model", "shadcn", "output"} objects.
func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, fmt.Errorf("no images found in file")
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		if strings.TrimSpace(ji.Image) == "" {
			return nil, fmt.Errorf("item %d has no image", i+1)
		}
		items[i] = Item{
			Index:  i + 1,
			Source: strings.TrimSpace(ji.Image),
			Model:  ji.Model,
			Shadcn: ji.Shadcn,
			Output: ji.Output,
		}
	}

	return items, nil
}
