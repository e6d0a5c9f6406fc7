// Package guard guarantees that a response reaches CloudFormation even
// when the Lambda runtime kills the invocation at its hard deadline.
//
// When armed, the guard watches the remaining execution budget. At a
// safety margin before the deadline it launches a relay: an asynchronous
// re-invocation of the same function carrying a copy of the original event
// tagged with ResponseRelay. The relay invocation gets its own full budget
// and only emits a FAILED response for the original request; it never
// re-enters business logic. The relay may race a primary invocation that
// completes late; the callback endpoint honors the first response it
// receives, so the guard promises at-least-one delivery before the
// deadline, not at-most-one.
package guard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/a69/cfn.go/cfn"
)

// DefaultMargin is the headroom kept before the deadline to launch the
// relay. It must cover one Lambda Invoke call with room to spare; the
// function's configured timeout should be padded accordingly.
const DefaultMargin = 15 * time.Second

// Invoker launches an asynchronous, independent execution of the named
// function with the given payload.
type Invoker interface {
	Invoke(ctx context.Context, function string, payload []byte) error
}

// InvokerFunc is an adapter that lets a function act as an Invoker.
type InvokerFunc func(ctx context.Context, function string, payload []byte) error

// Invoke makes the adapter implement Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, function string, payload []byte) error {
	return f(ctx, function, payload)
}

// Guard arms a relay invocation around a single business logic call.
// A Guard is reusable across invocations; each Arm call is independent.
type Guard struct {
	invoker  Invoker
	margin   time.Duration
	function string
	logger   log.Logger
}

// Option sets an optional parameter for the guard.
type Option func(*Guard)

// WithMargin sets the safety margin before the deadline at which the
// relay fires. By default, DefaultMargin is used.
func WithMargin(d time.Duration) Option {
	return func(g *Guard) { g.margin = d }
}

// WithFunction overrides the function name the relay invokes. By default
// the invoked function ARN from the Lambda context is used.
func WithFunction(name string) Option {
	return func(g *Guard) { g.function = name }
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// New constructs a guard that launches relays through the given invoker.
func New(invoker Invoker, options ...Option) *Guard {
	g := &Guard{
		invoker: invoker,
		margin:  DefaultMargin,
		logger:  log.NewNopLogger(),
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Arm starts watching the context deadline on behalf of the given event
// and returns a disarm function. If business logic completes before the
// margin is crossed, calling disarm prevents the relay. Once the margin is
// crossed exactly one relay is launched; disarm is then a no-op. Arm never
// fails: without a deadline or a resolvable function name it logs and
// returns a no-op disarm.
func (g *Guard) Arm(ctx context.Context, e *cfn.Event) (disarm func()) {
	nop := func() {}

	deadline, ok := ctx.Deadline()
	if !ok {
		level.Warn(g.logger).Log("msg", "context carries no deadline, relay disabled")
		return nop
	}

	function := g.function
	if function == "" {
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			function = lc.InvokedFunctionArn
		}
	}
	if function == "" {
		level.Warn(g.logger).Log("msg", "no function name available, relay disabled")
		return nop
	}

	relay := *e
	relay.ResponseRelay = true
	payload, err := json.Marshal(&relay)
	if err != nil {
		level.Error(g.logger).Log("msg", "unable to encode relay payload, relay disabled", "err", err)
		return nop
	}

	done := make(chan struct{})
	go g.watch(time.Until(deadline)-g.margin, function, payload, done)

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (g *Guard) watch(wait time.Duration, function string, payload []byte, done <-chan struct{}) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	// The primary invocation's context dies at the hard deadline; the
	// relay call gets its own budget bounded by the margin instead.
	ctx, cancel := context.WithTimeout(context.Background(), g.margin)
	defer cancel()

	if err := g.invoker.Invoke(ctx, function, payload); err != nil {
		level.Error(g.logger).Log("msg", "relay invocation failed", "function", function, "err", err)
		return
	}
	level.Warn(g.logger).Log("msg", "deadline margin crossed, relay invocation launched", "function", function)
}
