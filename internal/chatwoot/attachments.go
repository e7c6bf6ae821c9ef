package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/util"
)

// ErrUnknownContentType indicates an attachment extension could not be
// inferred from the download's Content-Type header. The file is skipped; the
// rest of the message still relays.
var ErrUnknownContentType = errors.New("attachment content type not recognized")

// File is a downloaded attachment ready for multipart upload. Body is
// streamed directly from the remote response and closed by CreateMessage.
type File struct {
	Name        string
	ContentType string
	Body        io.ReadCloser
}

// Extensions for content types commonly produced by chat media, checked
// before the platform MIME database for stable names across systems.
var preferredExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
}

// Fetcher downloads attachment URLs for relay into the CRM.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a Fetcher with the given HTTP client; nil uses a default
// client with a 60s timeout (media downloads can be slow).
func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{httpClient: httpClient}
}

// Fetch streams the attachment at rawURL and names it using the extension
// inferred from the response Content-Type. Unrecognized content types return
// ErrUnknownContentType (wrapped); the caller skips the file with a warning.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	slog.Debug("Fetcher downloading attachment", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attachment request for %s: %w", rawURL, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment download failed for %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: rawURL, Body: "attachment download failed"}
	}

	ext, err := extensionForContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("url %s: %w", rawURL, err)
	}

	name := attachmentName(rawURL, ext)
	slog.Debug("Fetcher resolved attachment", "url", rawURL, "name", name, "content_type", resp.Header.Get("Content-Type"))
	return &File{
		Name:        name,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// extensionForContentType maps a Content-Type header value to a file
// extension, preferring the fixed chat-media table over the MIME database.
func extensionForContentType(contentType string) (string, error) {
	if contentType == "" {
		return "", ErrUnknownContentType
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%q: %w", contentType, ErrUnknownContentType)
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext, nil
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return "", fmt.Errorf("%q: %w", contentType, ErrUnknownContentType)
	}
	return exts[0], nil
}

// attachmentName derives an upload filename from the URL path, appending the
// inferred extension when the path does not already carry it.
func attachmentName(rawURL, ext string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return util.GenerateRandomID("attachment_", 8) + ext
	}
	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		return util.GenerateRandomID("attachment_", 8) + ext
	}
	if strings.EqualFold(path.Ext(base), ext) {
		return base
	}
	return base + ext
}
