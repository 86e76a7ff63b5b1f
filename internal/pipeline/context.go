// Package pipeline is the proxy's spine: an ordered list of Steps that read
// and mutate a shared per-request Context. Steps are plain functions over a
// shared struct, not a middleware hierarchy.
package pipeline

import (
	"net/http"
	"net/url"
	"time"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/inspector"
)

// Context is the mutable bag threaded through every Step. The Runner owns
// it exclusively; each Step mutates only the fields it produces.
type Context struct {
	Request *http.Request
	Writer  http.ResponseWriter

	// Auth
	User       catalog.User
	AuthMethod string // api_key, session, wallet_header, none

	// Routing
	ServerID       string
	Server         catalog.RegisteredServer
	TargetUpstream string   // rewritten absolute URL
	TargetURL      *url.URL // parsed form of TargetUpstream

	// OutboundHeaders is the sanitized header set the forwarder sends.
	OutboundHeaders http.Header

	// Body handling — the forwarder owns the one buffered copy.
	RequestBody []byte

	// Tool-call inspection
	ToolCall *inspector.ToolCall

	// Payment
	PaymentHeader   string // raw X-PAYMENT header value, possibly signer-produced
	PaymentVerified bool
	PayerAddress    string

	// Response cache
	CacheKey    string
	CacheResult string // hit, miss, bypass, ""

	// Upstream response. For non-streaming responses the forwarder fully
	// buffers the body into UpstreamBody so cache-write and analytics can
	// both read it; Response.Body is then nil. For text/event-stream
	// responses the forwarder leaves Response.Body live and sets
	// IsStreaming so the runner pipes it straight through untouched and the
	// cache/analytics steps skip body capture.
	UpstreamResponse *http.Response
	UpstreamBody     []byte
	IsStreaming      bool
	UpstreamErr      error

	// Terminal short-circuit: once non-nil, the runner stops invoking
	// further Steps except the analytics-eligible tail.
	TerminalResponse *TerminalResponse

	// ReachedUpstream records whether the forwarder actually dispatched the
	// request, used by the runner to decide whether tail steps (analytics)
	// run after a terminal response.
	ReachedUpstream bool

	StartedAt time.Time
}

// TerminalResponse short-circuits the pipeline with a status, headers, and
// a body the runner writes verbatim.
type TerminalResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// NewContext builds a fresh Context for one incoming request.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request:   r,
		Writer:    w,
		StartedAt: time.Now(),
	}
}

// SetTerminal records a short-circuiting response.
func (c *Context) SetTerminal(status int, headers http.Header, body []byte) {
	c.TerminalResponse = &TerminalResponse{Status: status, Headers: headers, Body: body}
}

// Elapsed returns the time since the context was created.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}
