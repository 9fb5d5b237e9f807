package viewer

import (
	"io"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const (
	DefaultStyle     = "monokai"
	DefaultFormatter = "terminal256"
)

// Highlight writes code to w with terminal syntax highlighting. Generated
// code is React, so the TSX lexer is tried first.
func Highlight(w io.Writer, code, styleName string) error {
	if code == "" {
		return nil
	}

	lexer := lexers.Get("tsx")
	if lexer == nil {
		lexer = lexers.Get("typescript")
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	formatter := formatters.Get(DefaultFormatter)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	if styleName == "" {
		styleName = DefaultStyle
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		_, werr := io.WriteString(w, code)
		return werr
	}
	return formatter.Format(w, styles.Get(styleName), iterator)
}
