// Package handler turns arbitrary custom resource business logic into a
// protocol compliant CloudFormation response: it validates the incoming
// request, normalizes whatever the business logic produces into a response
// document, and guarantees that exactly that document is delivered to the
// stack's callback URL.
package handler

import (
	"context"

	"github.com/a69/cfn.go/cfn"
)

// Endpoint is the business logic for a single custom resource request.
// The returned Outcome may be nil, which reports plain success.
type Endpoint func(ctx context.Context, event *cfn.Event) (Outcome, error)

// Outcome is the value an Endpoint hands back for normalization. The
// variants are Data, Text, Flag, Explicit and nil; the interface is sealed
// so normalization can switch over a closed set.
type Outcome interface {
	outcome()
}

// Data reports success with output attributes for the stack.
type Data map[string]interface{}

func (Data) outcome() {}

// Text reports success with a single attribute named Return.
type Text string

func (Text) outcome() {}

// Flag reports plain success when true and a generic failure when false.
type Flag bool

func (Flag) outcome() {}

type explicit struct {
	resp *cfn.Response
}

func (explicit) outcome() {}

// Explicit wraps an already built response, which is used as-is after the
// correlation fields are completed from the event.
func Explicit(r *cfn.Response) Outcome {
	return explicit{resp: r}
}

// Middleware is a chainable behavior modifier for endpoints.
type Middleware func(Endpoint) Endpoint

// ChainMiddleware composes middlewares. Requests traverse them in the
// order they're declared, that is, the first middleware is treated as the
// outermost middleware.
func ChainMiddleware(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- { // reverse
			next = others[i](next)
		}
		return outer(next)
	}
}

// Nop is an endpoint that does nothing and reports success.
// Useful for tests.
func Nop(context.Context, *cfn.Event) (Outcome, error) { return nil, nil }
