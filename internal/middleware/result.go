// Package middleware implements the two middleware chains (spec.md §4.5):
// downloader middlewares wrap the fetch, spider middlewares wrap the parse
// and the initial-request stream.
package middleware

import "github.com/qcrawl/qcrawl/internal/types"

// Action discriminates the four outcomes a middleware hook may return.
type Action int

const (
	// ActionContinue proceeds to the next middleware in the chain, or to
	// the download/parse step if none remain.
	ActionContinue Action = iota
	// ActionKeep short-circuits the chain with a replacement payload
	// (a Response in the downloader chain).
	ActionKeep
	// ActionRetry hands a new Request to the Scheduler and abandons this
	// one.
	ActionRetry
	// ActionDrop abandons the request/response with no replacement.
	ActionDrop
)

// Result is the sum type every middleware phase hook must return. It is
// only ever constructed through Continue/Keep/Retry/Drop so an invalid
// zero-value Result (spec.md's "violations fail at registration time") is
// never mistaken for a real outcome by a caller that forgets to check how
// it was built.
type Result struct {
	action      Action
	response    *types.Response
	newRequest  *types.Request
	constructed bool
}

// Continue proceeds to the next hook unchanged.
func Continue() Result { return Result{action: ActionContinue, constructed: true} }

// Keep short-circuits the chain, substituting resp as if it had been
// fetched (or, in the response chain, replacing the current response).
func Keep(resp *types.Response) Result {
	return Result{action: ActionKeep, response: resp, constructed: true}
}

// Retry hands newReq to the Scheduler in place of the current request.
func Retry(newReq *types.Request) Result {
	return Result{action: ActionRetry, newRequest: newReq, constructed: true}
}

// Drop abandons the request (or response) with no replacement.
func Drop() Result { return Result{action: ActionDrop, constructed: true} }

// Action reports which outcome this Result represents.
func (r Result) Action() Action { return r.action }

// Response returns the Keep payload; valid only when Action() == ActionKeep.
func (r Result) Response() *types.Response { return r.response }

// NewRequest returns the Retry payload; valid only when
// Action() == ActionRetry.
func (r Result) NewRequest() *types.Request { return r.newRequest }

// Valid reports whether this Result was built through one of the
// constructors, as opposed to a bare zero-value Result{} a buggy
// middleware might return by accident.
func (r Result) Valid() bool { return r.constructed }
