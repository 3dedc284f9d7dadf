// Package media downloads attachments and renders pairing codes.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

// Fetcher downloads remote media with a bounded timeout and size.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	log      *logging.Logger
}

// NewFetcher creates a fetcher. A zero maxBytes means unlimited.
func NewFetcher(timeout time.Duration, maxBytes int64, log *logging.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		log:      log.Sub("media"),
	}
}

// Fetch downloads rawURL. Every failure wraps domain.ErrMediaFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind domain.MediaKind) (*domain.Media, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty url", domain.ErrMediaFetchFailed)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid url %q", domain.ErrMediaFetchFailed, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaFetchFailed, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrMediaFetchFailed, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrMediaFetchFailed, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", domain.ErrMediaFetchFailed, f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrMediaFetchFailed)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	} else {
		mimeType = http.DetectContentType(data)
	}

	f.log.Debug().Str("url", rawURL).Int("bytes", len(data)).Str("mime", mimeType).Msg("media fetched")
	return &domain.Media{
		Kind:     kind,
		Data:     data,
		MimeType: mimeType,
		Filename: path.Base(u.Path),
	}, nil
}
