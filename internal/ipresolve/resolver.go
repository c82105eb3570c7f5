// Package ipresolve looks up the network address of a viewer.
//
// Resolution is best-effort telemetry. No resolver in this package ever
// returns an error: every failure collapses into ir.UnresolvedIP so that
// access is never blocked on the lookup.
package ipresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/snapguard/internal/ir"
)

// DefaultLookupURL is the public "what is my IP" endpoint.
const DefaultLookupURL = "https://api.ipify.org?format=json"

// DefaultTimeout bounds a single lookup so activation cannot stall.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps how much of the lookup response is read.
const maxResponseBytes = 4 << 10

// Resolver resolves the viewer's address.
type Resolver interface {
	Resolve(ctx context.Context) string
}

// HTTPResolver queries an external JSON endpoint that answers {"ip": "..."}.
// One attempt per call, no retries.
type HTTPResolver struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPResolver creates a resolver for url with the given timeout.
// Zero values fall back to DefaultLookupURL and DefaultTimeout.
func NewHTTPResolver(url string, timeout time.Duration) *HTTPResolver {
	if url == "" {
		url = DefaultLookupURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPResolver{URL: url, Timeout: timeout, Client: http.DefaultClient}
}

// Resolve returns the resolved address or ir.UnresolvedIP.
func (r *HTTPResolver) Resolve(ctx context.Context) string {
	ip, err := r.lookup(ctx)
	if err != nil {
		slog.Debug("ip lookup failed, using sentinel", "url", r.URL, "error", err)
		return ir.UnresolvedIP
	}
	return ip
}

func (r *HTTPResolver) lookup(ctx context.Context) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.IP == "" {
		return "", fmt.Errorf("response missing ip")
	}
	return body.IP, nil
}

// Static always resolves to a fixed value.
type Static string

// Resolve returns the fixed value, or the sentinel when empty.
func (s Static) Resolve(context.Context) string {
	if s == "" {
		return ir.UnresolvedIP
	}
	return string(s)
}

// RequestResolver resolves to the remote address of an inbound request.
// Used by the HTTP boundary, where the viewer is the peer rather than the
// host running the lookup. Run behind chi's RealIP middleware so that
// RemoteAddr carries the forwarded client address.
type RequestResolver struct {
	RemoteAddr string
}

// ForRequest builds a resolver for r.
func ForRequest(r *http.Request) RequestResolver {
	return RequestResolver{RemoteAddr: r.RemoteAddr}
}

// Resolve returns the peer IP, or the sentinel when unparsable.
func (r RequestResolver) Resolve(context.Context) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ir.UnresolvedIP
	}
	return ip.String()
}
