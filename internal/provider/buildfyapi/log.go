package buildfyapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/manash/buildfy/pkg/models"
)

const maxLoggedBody = 2048

func redactHeaders(headers http.Header) *zerolog.Event {
	dict := zerolog.Dict()
	for key, values := range headers {
		value := strings.Join(values, ", ")
		if strings.EqualFold(key, "authorization") {
			value = "[REDACTED]"
		}
		dict = dict.Str(key, value)
	}
	return dict
}

func (c *Client) logRequest(method, url string, headers http.Header, body []byte) {
	if !c.verbose {
		return
	}

	ev := c.logger.Info().
		Str("method", method).
		Str("url", url).
		Dict("headers", redactHeaders(headers))
	if len(body) > 0 {
		ev = ev.Str("body", compactBody(body))
	}
	ev.Msg("request")
}

func (c *Client) logMultipartRequest(method, url string, headers http.Header, file *models.ImageFile) {
	if !c.verbose {
		return
	}

	c.logger.Info().
		Str("method", method).
		Str("url", url).
		Dict("headers", redactHeaders(headers)).
		Str("file", file.Name).
		Str("content_type", file.Type.String()).
		Str("size", humanize.Bytes(uint64(len(file.Data)))).
		Msg("multipart request")
}

func (c *Client) logResponse(statusCode int, headers http.Header, body []byte) {
	if !c.verbose {
		return
	}

	ev := c.logger.Info().
		Int("status", statusCode).
		Dict("headers", redactHeaders(headers))
	if len(body) > 0 {
		ev = ev.Str("body", compactBody(body))
	}
	ev.Msg("response")
}

// compactBody renders a body for logging: JSON is compacted, everything is
// truncated.
func compactBody(body []byte) string {
	var buf bytes.Buffer
	out := body
	if err := json.Compact(&buf, body); err == nil {
		out = buf.Bytes()
	}
	if len(out) > maxLoggedBody {
		return string(out[:maxLoggedBody]) + "... [truncated]"
	}
	return string(out)
}
