package pipeline

import (
	"io"
	"net/http"

	"github.com/mcpay/gateway/internal/logger"
)

// Step is one stage of the pipeline. It receives the context and returns it,
// optionally setting ctx.TerminalResponse to short-circuit the chain. Steps
// must be idempotent with respect to the fields they own.
type Step func(*Context) *Context

// NamedStep pairs a Step with a name for logging and the
// post-upstream-eligible tail decision.
type NamedStep struct {
	Name string
	Run  Step
	// Tail marks steps that should still run after a terminal response was
	// set by a later-than-upstream step (in DefaultSteps: analytics only;
	// cache-write is not a tail step). They only run if the terminal response
	// was produced post-upstream-dispatch, and never on a cancelled request.
	Tail bool
}

// Runner executes an ordered list of steps against a Context.
type Runner struct {
	steps []NamedStep
}

// NewRunner builds a Runner with the canonical step order. Callers
// typically use DefaultSteps to build this slice.
func NewRunner(steps []NamedStep) *Runner {
	return &Runner{steps: steps}
}

// Run executes the pipeline, writing a final response to ctx.Writer. It
// never panics: a step that fails without setting a terminal response is
// treated as best-effort (swallowed) unless it is the upstream-dispatch
// step, whose errors surface as 502.
func (r *Runner) Run(ctx *Context) {
	log := logger.FromContext(ctx.Request.Context())

	for _, step := range r.steps {
		if ctx.Request.Context().Err() != nil {
			// Client disconnected; skip cache-write/analytics tail entirely.
			return
		}

		if ctx.TerminalResponse != nil && !step.Tail {
			continue
		}
		if ctx.TerminalResponse != nil && step.Tail && !ctx.ReachedUpstream {
			// Terminal was produced before upstream dispatch (e.g. a 402 or
			// cache hit) — tail steps never run in that case.
			continue
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("panic", rec).Str("step", step.Name).Msg("pipeline step panicked")
					if ctx.TerminalResponse == nil {
						writeInternalError(ctx)
					}
				}
			}()
			ctx = step.Run(ctx)
		}()
	}

	r.writeResponse(ctx)
}

func writeInternalError(ctx *Context) {
	ctx.SetTerminal(http.StatusInternalServerError, http.Header{"Content-Type": []string{"application/json"}}, []byte(`{"error":"internal error"}`))
}

func (r *Runner) writeResponse(ctx *Context) {
	if ctx.TerminalResponse != nil {
		writeTerminal(ctx.Writer, ctx.TerminalResponse)
		return
	}

	if ctx.UpstreamResponse == nil {
		writeTerminal(ctx.Writer, &TerminalResponse{
			Status:  http.StatusBadGateway,
			Headers: http.Header{"Content-Type": []string{"application/json"}},
			Body:    []byte(`{"error":"no upstream response"}`),
		})
		return
	}

	streamUpstream(ctx.Writer, ctx)
}

func writeTerminal(w http.ResponseWriter, t *TerminalResponse) {
	header := w.Header()
	for k, vs := range t.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	w.WriteHeader(t.Status)
	if len(t.Body) > 0 {
		_, _ = w.Write(t.Body)
	}
}

func streamUpstream(w http.ResponseWriter, ctx *Context) {
	resp := ctx.UpstreamResponse
	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if ctx.CacheResult != "" {
		header.Set("x-mcpay-cache", ctx.CacheResult)
	}
	w.WriteHeader(resp.StatusCode)

	if ctx.IsStreaming {
		if resp.Body != nil {
			defer resp.Body.Close()
			_, _ = io.Copy(w, resp.Body)
		}
		return
	}

	if len(ctx.UpstreamBody) > 0 {
		_, _ = w.Write(ctx.UpstreamBody)
	}
}
