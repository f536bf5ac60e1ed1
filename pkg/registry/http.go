package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps a registry record body (1MB)
	MaxResponseSize = 1024 * 1024
)

// HTTPFetcher reads registry records from BaseURL + escaped identifier value.
// The record version is the ETag, then Last-Modified, then a digest of the body.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	headers map[string]string
	logger  ectologger.Logger
}

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

func NewHTTPFetcher(cfg HTTPConfig, logger ectologger.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{MaxIdleConns: 10, IdleConnTimeout: 90 * time.Second},
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/",
		headers: cfg.Headers,
		logger:  logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, identifier models.Identifier) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.HTTPFetcher.Fetch")
	defer span.End()

	reqURL := f.baseURL + url.PathEscape(identifier.Value)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).Errorf("Registry request failed: GET %s", reqURL)
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return "", fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	f.logger.WithContext(ctx).Debugf("Registry GET %s -> %d (%s)", reqURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("registry returned %d for %s %q", resp.StatusCode, identifier.RegistryID, identifier.Value)
	}

	if etag := strings.Trim(resp.Header.Get("ETag"), `"`); etag != "" {
		return etag, nil
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		return modified, nil
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8]), nil
}
