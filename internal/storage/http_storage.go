package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// PageFetcher downloads page images referenced by URL
type PageFetcher interface {
	FetchBytes(ctx context.Context, pageURL string) ([]byte, error)
}

// FetcherConfig controls the HTTP page fetcher
type FetcherConfig struct {
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
	MaxBytes int64
}

// DefaultFetcherConfig returns 3 attempts with a 1s linear backoff
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Attempts: 3,
		Delay:    time.Second,
		Timeout:  30 * time.Second,
		MaxBytes: 64 << 20,
	}
}

// HTTPPageFetcher implements PageFetcher
type HTTPPageFetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

// NewHTTPPageFetcher creates an HTTP page fetcher
func NewHTTPPageFetcher(cfg FetcherConfig) *HTTPPageFetcher {
	transport := &http.Transport{
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    4,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPPageFetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// FetchBytes retries transport errors and 5xx responses; 4xx responses fail
// immediately.
func (h *HTTPPageFetcher) FetchBytes(ctx context.Context, pageURL string) ([]byte, error) {
	data, err := retry.DoWithData(
		func() ([]byte, error) {
			return h.fetchOnce(ctx, pageURL)
		},
		retry.Context(ctx),
		retry.Attempts(h.cfg.Attempts),
		retry.Delay(h.cfg.Delay),
		retry.DelayType(func(n uint, _ error, c *retry.Config) time.Duration {
			return time.Duration(n+1) * h.cfg.Delay
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page after %d attempts: %w", h.cfg.Attempts, err)
	}
	return data, nil
}

func (h *HTTPPageFetcher) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("invalid URL: %w", err))
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/tiff, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "go-repub/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, retry.Unrecoverable(fmt.Errorf("client error: status code %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.cfg.MaxBytes {
		return nil, retry.Unrecoverable(fmt.Errorf("page exceeds %d bytes", h.cfg.MaxBytes))
	}
	return data, nil
}
