// Package stream turns a streamed HTTP body into an ordered sequence of text
// chunks.
package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultBufferSize bounds how many bytes a single read may yield.
const DefaultBufferSize = 4096

var ErrRead = errors.New("stream read failed")

// Chunks yields decoded text in arrival order. Each successful read from r
// becomes one chunk; a rune split across two reads is held back and emitted
// whole with the next chunk. Invalid UTF-8 is replaced with U+FFFD. After an
// error the sequence ends; io.EOF is not reported.
func Chunks(r io.Reader) iter.Seq2[string, error] {
	return ChunksSize(r, DefaultBufferSize)
}

// ChunksSize is Chunks with an explicit read buffer size.
func ChunksSize(r io.Reader, size int) iter.Seq2[string, error] {
	if size <= 0 {
		size = DefaultBufferSize
	}

	return func(yield func(string, error) bool) {
		decoded := transform.NewReader(r, unicode.UTF8.NewDecoder())
		buf := make([]byte, size)

		for {
			n, err := decoded.Read(buf)
			if n > 0 {
				if !yield(string(buf[:n]), nil) {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			yield("", fmt.Errorf("%w: %w", ErrRead, err))
			return
		}
	}
}
