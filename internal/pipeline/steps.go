package pipeline

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/mcpay/gateway/internal/analytics"
	"github.com/mcpay/gateway/internal/auth"
	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/forwarder"
	"github.com/mcpay/gateway/internal/inspector"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/ratelimit"
	"github.com/mcpay/gateway/internal/respcache"
	"github.com/mcpay/gateway/internal/x402gate"
)

// Deps are the collaborators the canonical steps close over.
type Deps struct {
	Repo      catalog.Repository
	Auth      *auth.Resolver
	Limiter   *ratelimit.HostLimiter
	Cache     *respcache.Cache
	Forwarder *forwarder.Forwarder
	Gate      *x402gate.Gate
	Analytics *analytics.Recorder

	// MaxBodyBytes caps the buffered request body; zero uses the
	// forwarder default.
	MaxBodyBytes int64
}

var jsonHeader = http.Header{"Content-Type": []string{"application/json"}}

// DefaultSteps assembles the canonical step order:
//
//	auth-resolve → inspect-tool-call → rate-limit → cache-read →
//	forward-prepare → payment-gate → upstream-dispatch → cache-write → analytics
func DefaultSteps(d Deps) []NamedStep {
	maxBody := d.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = forwarder.MaxBodyBytes
	}

	return []NamedStep{
		{Name: "auth-resolve", Run: authResolveStep(d, maxBody)},
		{Name: "inspect-tool-call", Run: inspectStep(d)},
		{Name: "rate-limit", Run: rateLimitStep(d)},
		{Name: "cache-read", Run: cacheReadStep(d)},
		{Name: "forward-prepare", Run: forwardPrepareStep()},
		{Name: "payment-gate", Run: paymentGateStep(d)},
		{Name: "upstream-dispatch", Run: upstreamDispatchStep(d)},
		{Name: "cache-write", Run: cacheWriteStep(d)},
		{Name: "analytics", Run: analyticsStep(d), Tail: true},
	}
}

// authResolveStep buffers the request body once for the whole pipeline,
// then resolves the caller's identity. Over-cap bodies are rejected with
// 413 — the body cannot be forwarded truncated.
func authResolveStep(d Deps, maxBody int64) Step {
	return func(ctx *Context) *Context {
		body, tooLarge, err := forwarder.BufferBody(ctx.Request, maxBody)
		if err != nil {
			ctx.SetTerminal(http.StatusBadRequest, jsonHeader, []byte(`{"error":"unreadable request body"}`))
			return ctx
		}
		if tooLarge {
			ctx.SetTerminal(http.StatusRequestEntityTooLarge, jsonHeader, []byte(`{"error":"request body too large"}`))
			return ctx
		}
		ctx.RequestBody = body

		if d.Auth != nil {
			user, method := d.Auth.Resolve(ctx.Request.Context(), ctx.Request, bodyAPIKey(body))
			ctx.User = user
			ctx.AuthMethod = string(method)
		} else {
			ctx.AuthMethod = string(auth.MethodNone)
		}
		return ctx
	}
}

// bodyAPIKey peeks a top-level apiKey field out of a JSON body, the last
// place the auth resolver looks for a key.
func bodyAPIKey(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.APIKey
}

// inspectStep resolves the server registration, rewrites the target URL,
// and classifies a tools/call POST as paid or free. A malformed body
// degrades to a free pass-through; the upstream gets to complain.
func inspectStep(d Deps) Step {
	return func(ctx *Context) *Context {
		serverID := inspector.ExtractServerID(ctx.Request.URL.Path)
		if serverID == "" {
			ctx.SetTerminal(http.StatusNotFound, jsonHeader, []byte(`{"error":"server not found"}`))
			return ctx
		}
		ctx.ServerID = serverID

		server, err := d.Repo.GetServerByServerID(ctx.Request.Context(), serverID)
		if err != nil || server.Status == "disabled" {
			ctx.SetTerminal(http.StatusNotFound, jsonHeader, []byte(`{"error":"server not found"}`))
			return ctx
		}
		ctx.Server = server

		target, err := forwarder.RewriteURL(server.OriginURL, ctx.Request.URL, serverID)
		if err != nil {
			log := logger.FromContext(ctx.Request.Context())
			log.Error().Err(err).
				Str("server_id", serverID).
				Msg("origin rewrite failed")
			ctx.SetTerminal(http.StatusBadGateway, jsonHeader, []byte(`{"error":"invalid upstream origin"}`))
			return ctx
		}
		ctx.TargetURL = target
		ctx.TargetUpstream = target.String()

		if !inspector.IsToolsCallRequest(ctx.Request.Method, ctx.Request.Header.Get("Content-Type")) {
			return ctx
		}
		name, args, ok := inspector.Parse(ctx.RequestBody)
		if !ok {
			return ctx
		}

		call, err := inspector.Resolve(ctx.Request.Context(), d.Repo, serverID, name, args)
		if err != nil {
			log := logger.FromContext(ctx.Request.Context())
			log.Debug().Err(err).
				Str("tool", name).
				Msg("tool lookup failed; treating call as free")
			return ctx
		}
		ctx.ToolCall = &call
		return ctx
	}
}

// rateLimitStep paces outbound traffic per upstream host. The sleep is
// cancellable; a disconnected client abandons the slot.
func rateLimitStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Limiter == nil || ctx.TargetURL == nil {
			return ctx
		}
		if err := d.Limiter.Wait(ctx.Request.Context(), ctx.TargetURL.Hostname()); err != nil {
			// Cancellation; the runner stops on the context check.
			return ctx
		}
		return ctx
	}
}

// cacheReadStep serves live cached responses for GET requests.
func cacheReadStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Cache == nil || ctx.Request.Method != http.MethodGet || ctx.TargetURL == nil {
			return ctx
		}

		ctx.CacheKey = respcache.Key(ctx.Request.Method, ctx.TargetUpstream, ctx.RequestBody)
		entry, ok := d.Cache.Get(ctx.CacheKey)
		if !ok {
			return ctx
		}

		headers := entry.Header.Clone()
		if headers == nil {
			headers = http.Header{}
		}
		headers.Set("x-mcpay-cache", respcache.ResultHit)
		ctx.CacheResult = respcache.ResultHit
		d.Cache.Observe(ctx.TargetURL.Hostname(), respcache.ResultHit)
		ctx.SetTerminal(entry.Status, headers, entry.Body)
		return ctx
	}
}

// forwardPrepareStep sanitizes the outbound header set.
func forwardPrepareStep() Step {
	return func(ctx *Context) *Context {
		ctx.OutboundHeaders = forwarder.FilterHeaders(ctx.Request.Header)
		return ctx
	}
}

// paymentGateStep runs the payment state machine for paid tool calls.
func paymentGateStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Gate == nil {
			return ctx
		}

		outcome, err := d.Gate.Evaluate(ctx.Request.Context(), x402gate.Input{
			ToolCall:       ctx.ToolCall,
			Server:         ctx.Server,
			User:           ctx.User,
			AuthMethod:     ctx.AuthMethod,
			PaymentHeader:  ctx.Request.Header.Get("X-Payment"),
			WalletProvider: ctx.Request.Header.Get(x402gate.HeaderWalletProvider),
			WalletType:     ctx.Request.Header.Get(x402gate.HeaderWalletType),
		})
		if err != nil {
			// Only the signer registry's "fail" fallback lands here.
			log := logger.FromContext(ctx.Request.Context())
			log.Error().Err(err).Msg("payment gate failed")
			ctx.SetTerminal(http.StatusInternalServerError, jsonHeader, []byte(`{"error":"payment processing failed"}`))
			return ctx
		}
		if !outcome.Proceed {
			ctx.SetTerminal(outcome.Status, jsonHeader.Clone(), outcome.Body)
			return ctx
		}

		ctx.PaymentHeader = outcome.PaymentHeader
		ctx.PaymentVerified = outcome.PaymentHeader != ""
		ctx.PayerAddress = outcome.PayerAddress
		return ctx
	}
}

// upstreamDispatchStep performs the round-trip and buffers non-streaming
// response bodies for the cache and analytics tail.
func upstreamDispatchStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Forwarder == nil || ctx.TargetURL == nil {
			ctx.SetTerminal(http.StatusBadGateway, jsonHeader, []byte(`{"error":"no upstream configured"}`))
			return ctx
		}

		headers := ctx.OutboundHeaders
		if headers == nil {
			headers = http.Header{}
		}
		if ctx.PaymentHeader != "" {
			headers = headers.Clone()
			headers.Set("X-Payment", ctx.PaymentHeader)
		}

		resp, err := d.Forwarder.Dispatch(
			ctx.Request.Context(),
			ctx.Request.Method,
			ctx.TargetURL,
			headers,
			ctx.RequestBody,
			ctx.Server.AuthHeaders,
		)
		ctx.ReachedUpstream = true
		if err != nil {
			ctx.UpstreamErr = err
			logger.FromContext(ctx.Request.Context()).Error().Err(err).
				Str("upstream", ctx.TargetUpstream).
				Msg("upstream dispatch failed")
			ctx.SetTerminal(http.StatusBadGateway, jsonHeader, []byte(`{"error":"upstream request failed"}`))
			return ctx
		}

		ctx.UpstreamResponse = resp
		if forwarder.IsStreaming(resp) {
			ctx.IsStreaming = true
			return ctx
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = nil
		if err != nil {
			ctx.UpstreamErr = err
			ctx.SetTerminal(http.StatusBadGateway, jsonHeader, []byte(`{"error":"upstream response unreadable"}`))
			return ctx
		}
		ctx.UpstreamBody = body
		return ctx
	}
}

// cacheWriteStep stores successful GET responses and stamps the
// x-mcpay-cache verdict for this request.
func cacheWriteStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Cache == nil || ctx.Request.Method != http.MethodGet {
			return ctx
		}
		resp := ctx.UpstreamResponse
		if resp == nil || ctx.TargetURL == nil {
			return ctx
		}

		host := ctx.TargetURL.Hostname()
		if ctx.IsStreaming {
			ctx.CacheResult = respcache.ResultBypass
			d.Cache.Observe(host, respcache.ResultBypass)
			return ctx
		}
		if resp.StatusCode >= 400 {
			return ctx
		}

		d.Cache.Put(ctx.CacheKey, host, respcache.Entry{
			Status:     resp.StatusCode,
			StatusText: resp.Status,
			Header:     resp.Header.Clone(),
			Body:       ctx.UpstreamBody,
		})
		ctx.CacheResult = respcache.ResultMiss
		d.Cache.Observe(host, respcache.ResultMiss)
		return ctx
	}
}

// analyticsStep records the usage event for every request that reached
// upstream, including upstream 4xx/5xx.
func analyticsStep(d Deps) Step {
	return func(ctx *Context) *Context {
		if d.Analytics == nil || !ctx.ReachedUpstream {
			return ctx
		}

		status := 0
		if ctx.UpstreamResponse != nil {
			status = ctx.UpstreamResponse.StatusCode
		} else if ctx.TerminalResponse != nil {
			status = ctx.TerminalResponse.Status
		}

		event := analytics.Event{
			ServerID:       ctx.ServerID,
			UserID:         ctx.User.ID,
			ResponseStatus: status,
			Elapsed:        ctx.Elapsed(),
			IPAddress:      clientIP(ctx.Request),
			UserAgent:      ctx.Request.UserAgent(),
			RequestBody:    ctx.RequestBody,
		}
		if ctx.ToolCall != nil {
			event.ToolID = ctx.ToolCall.ToolID
			event.ToolName = ctx.ToolCall.Name
		}
		if !ctx.IsStreaming {
			event.ResponseBody = ctx.UpstreamBody
		}

		d.Analytics.Record(ctx.Request.Context(), event)
		return ctx
	}
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
