// Package forwarder rewrites proxied request URLs, sanitizes outbound
// headers, buffers request bodies for reuse across pipeline steps, and
// dispatches the upstream round-trip.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcpay/gateway/internal/breaker"
	"github.com/mcpay/gateway/internal/httputil"
	"github.com/mcpay/gateway/internal/metrics"
)

// MaxBodyBytes caps how much of a client body the proxy buffers. Bodies
// beyond the cap are rejected with 413.
const MaxBodyBytes int64 = 1 << 20

// Forwarder dispatches sanitized requests to upstream MCP servers.
type Forwarder struct {
	client   *http.Client
	breakers *breaker.Manager
	metrics  *metrics.Metrics
}

// New builds a Forwarder. timeout bounds each upstream round-trip; zero
// falls back to the shared client default of 60s. breakers and m may be nil.
func New(timeout time.Duration, breakers *breaker.Manager, m *metrics.Metrics) *Forwarder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Forwarder{
		client:   httputil.NewClient(timeout),
		breakers: breakers,
		metrics:  m,
	}
}

// BufferBody reads the request body into memory up to max bytes and leaves
// the original body closed. tooLarge is true when the body exceeded max; the
// returned slice then holds only the truncated prefix and must not be used.
func BufferBody(r *http.Request, max int64) (body []byte, tooLarge bool, err error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		return nil, false, fmt.Errorf("forwarder: read body: %w", err)
	}
	if int64(len(buf)) > max {
		return buf[:max], true, nil
	}
	return buf, false, nil
}

// RewriteURL maps an incoming /mcp/<serverID>/<rest>?<q> URL onto the
// registered origin: the /mcp/<serverID> prefix is stripped, the origin's
// base path is prepended, and the origin's configured query parameters are
// merged over the client's.
func RewriteURL(origin string, incoming *url.URL, serverID string) (*url.URL, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("forwarder: invalid origin %q: %w", origin, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("forwarder: origin %q is not an absolute URL", origin)
	}

	rest := strings.TrimPrefix(incoming.Path, "/mcp/"+serverID)
	if rest == incoming.Path {
		return nil, fmt.Errorf("forwarder: path %q does not address server %q", incoming.Path, serverID)
	}

	target := *base
	target.Path = joinPaths(base.Path, rest)

	merged := incoming.Query()
	for key, values := range base.Query() {
		merged[key] = values
	}
	target.RawQuery = merged.Encode()

	return &target, nil
}

func joinPaths(basePath, rest string) string {
	basePath = strings.TrimRight(basePath, "/")
	if rest == "" {
		if basePath == "" {
			return "/"
		}
		return basePath
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return basePath + rest
}

// Dispatch issues the upstream round-trip. headers must already be filtered;
// authHeaders are the server registration's credentials, applied last so
// they can never be spoofed by the client. The caller owns the response body.
func (f *Forwarder) Dispatch(ctx context.Context, method string, target *url.URL, headers http.Header, body []byte, authHeaders map[string]string) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("forwarder: build request: %w", err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	for name, value := range authHeaders {
		req.Header.Set(name, value)
	}
	req.Host = target.Host

	start := time.Now()
	resp, err := f.roundTrip(req)
	if f.metrics != nil {
		f.metrics.ObserveUpstream(target.Host, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Forwarder) roundTrip(req *http.Request) (*http.Response, error) {
	if f.breakers == nil {
		return f.client.Do(req)
	}
	result, err := f.breakers.Execute(breaker.ServiceUpstream, func() (interface{}, error) {
		return f.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// IsStreaming reports whether an upstream response must be piped through
// without buffering.
func IsStreaming(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream")
}
