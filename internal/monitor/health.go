package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHealthTimeout bounds one health request.
const DefaultHealthTimeout = 10 * time.Second

// HealthCheck is the post-renewal smoke test against the backend.
type HealthCheck struct {
	URL    string
	Client *http.Client
}

// NewHealthCheck returns a check for url. tlsConfig carries the client
// identity and trust roots when the endpoint is certificate-gated; nil
// uses the system defaults.
func NewHealthCheck(url string, tlsConfig *tls.Config) *HealthCheck {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &HealthCheck{
		URL: url,
		Client: &http.Client{
			Timeout:   DefaultHealthTimeout,
			Transport: transport,
		},
	}
}

// Check succeeds when the endpoint answers with a 2xx status.
func (h *HealthCheck) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health request to %s: %w", h.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check %s returned %s", h.URL, resp.Status)
	}
	return nil
}
