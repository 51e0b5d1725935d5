package execution

import (
	"github.com/osa030/callrelay/internal/app/registers"
	"github.com/osa030/callrelay/internal/app/routing"
	"github.com/osa030/callrelay/internal/domain/status"
)

// Router picks the execution context that should handle a call.
type Router struct {
	main       *Context
	background *Context
	reader     registers.Reader
}

// NewRouter creates a router over the two contexts.
func NewRouter(main, background *Context, reader registers.Reader) *Router {
	return &Router{
		main:       main,
		background: background,
		reader:     reader,
	}
}

// Resolve returns the context owning callID. A context holding a live session
// for the call wins, MAIN first, even when its loop is not running.
// Otherwise the registers decide.
func (r *Router) Resolve(callID string) *Context {
	if callID != "" {
		for _, c := range []*Context{r.main, r.background} {
			if c.HasLiveSession(callID) {
				return c
			}
		}
	}
	return r.Context(routing.SelectContext(r.reader))
}

// Context returns the context for label.
func (r *Router) Context(label status.ExecutionContext) *Context {
	if label == status.ContextMain {
		return r.main
	}
	return r.background
}

// Contexts returns both contexts, MAIN first.
func (r *Router) Contexts() []*Context {
	return []*Context{r.main, r.background}
}
