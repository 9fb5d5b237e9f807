package buildfyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/manash/buildfy/internal/provider"
	"github.com/manash/buildfy/pkg/models"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) Upload(ctx context.Context, file *models.ImageFile) (string, error) {
	if err := file.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUploadFailed, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := file.Name
	if filename == "" {
		filename = "screenshot." + file.Type.Extension()
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", file.Type.String())

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := c.baseURL + uploadPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", provider.ErrUploadFailed, err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	c.logMultipartRequest(http.MethodPost, endpoint, httpReq.Header, file)

	resp, err := c.uploadClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", provider.ErrUploadFailed, err)
	}

	c.logResponse(resp.StatusCode, resp.Header, bodyBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", provider.ErrUploadFailed, resp.StatusCode)
	}

	var apiResp uploadResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", provider.ErrUploadFailed, err)
	}

	if apiResp.Error != "" {
		return "", fmt.Errorf("%w: %s", provider.ErrUploadFailed, apiResp.Error)
	}

	if err := checkImageURL(apiResp.URL); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUploadFailed, err)
	}

	return apiResp.URL, nil
}

func checkImageURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("response has no url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q is not http(s)", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
