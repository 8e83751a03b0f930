// Package intel queries the external IP-intelligence provider. The decision
// engine consumes it through the Client interface behind a circuit breaker;
// results enrich cloak logs and drive the L2/L3 checks.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autoguard/backend/internal/core"
)

// Result is the provider's view of one IP.
type Result struct {
	IP           string `json:"ip"`
	Country      string `json:"country"` // ISO-3166-1 alpha-2
	Region       string `json:"region,omitempty"`
	City         string `json:"city,omitempty"`
	ISP          string `json:"isp,omitempty"`
	ASN          string `json:"asn,omitempty"` // "AS15169"
	IsDatacenter bool   `json:"is_datacenter"`
	IsVPN        bool   `json:"is_vpn"`
	IsProxy      bool   `json:"is_proxy"`
	IsTor        bool   `json:"is_tor"`
}

// AnyFlag reports whether the provider flagged the IP at all.
func (r *Result) AnyFlag() bool {
	return r.IsDatacenter || r.IsVPN || r.IsProxy || r.IsTor
}

// Client resolves IP reputation. Implementations must respect the context
// deadline; the engine derives it from the remaining decision budget.
type Client interface {
	Lookup(ctx context.Context, ip string) (*Result, error)
}

// HTTPClient talks to the provider's JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a provider client. timeout caps a single lookup; a
// tighter per-request deadline still wins when the caller's context carries
// one.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the provider record for one IP.
func (c *HTTPClient) Lookup(ctx context.Context, ip string) (*Result, error) {
	reqURL := fmt.Sprintf("%s/v1/ip/%s", c.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.Error{Code: core.CodeTimeout, Message: "ip intel lookup", Err: err}
		}
		return nil, core.Transientf(err, "ip intel request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, core.Transientf(nil, "ip intel returned HTTP %d", resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.Transientf(err, "decode ip intel response")
	}
	if out.IP == "" {
		out.IP = ip
	}
	return &out, nil
}
