package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out io.Writer
	// Columns bounds the displayed width in terminal cells; zero leaves the
	// image at its natural size.
	Columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

func (e *KittyEncoder) Encode(png []byte) error {
	if len(png) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(png)
	chunks := splitIntoChunks(encoded, chunkSize)

	for i, chunk := range chunks {
		params := e.params(i == 0, i == len(chunks)-1, len(chunks) > 1)
		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

// params builds the control data for one chunk. Only the first chunk carries
// the transmit-and-display keys; m=1 marks that more chunks follow.
func (e *KittyEncoder) params(first, last, chunked bool) string {
	if !first {
		if last {
			return "m=0"
		}
		return "m=1"
	}

	p := "a=T,f=100,q=2"
	if e.Columns > 0 {
		p += fmt.Sprintf(",c=%d", e.Columns)
	}
	if chunked {
		p += ",m=1"
	}
	return p
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		if len(s) < size {
			size = len(s)
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}
