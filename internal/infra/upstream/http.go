// Package upstream probes network dependencies and classifies their failures.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/mapping"
)

// HTTPProbe checks an HTTP dependency with a GET request.
type HTTPProbe struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProbe creates a probe for endpoint.
func NewHTTPProbe(name, endpoint string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Check issues the request. Non-2xx responses are returned as classified
// application errors; transport failures are returned wrapped.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(correlation.Header, id)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return mapping.FromHTTPResponse(resp, p.name)
}

// Close releases idle connections.
func (p *HTTPProbe) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
