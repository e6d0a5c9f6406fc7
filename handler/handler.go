package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/a69/cfn.go/cfn"
	"github.com/a69/cfn.go/guard"
	"github.com/a69/cfn.go/redact"
)

// Sender delivers a completed response to the callback URL.
// cfn.Sender is the production implementation.
type Sender interface {
	Send(ctx context.Context, url string, r *cfn.Response) error
}

// ErrorHandler receives non-terminal errors for logging or reporting.
type ErrorHandler interface {
	Handle(ctx context.Context, err error)
}

// LogErrorHandler logs every error it is handed.
type LogErrorHandler struct {
	logger log.Logger
}

// NewLogErrorHandler constructs an ErrorHandler on top of a logger.
func NewLogErrorHandler(logger log.Logger) *LogErrorHandler {
	return &LogErrorHandler{logger: logger}
}

// Handle implements ErrorHandler.
func (h *LogErrorHandler) Handle(_ context.Context, err error) {
	level.Error(h.logger).Log("err", err)
}

// FinalizerFunc is executed at the end of every invocation, after the
// response has been handed to the sender. err reports only a payload that
// could not be decoded at all; everything else resolves into the response.
type FinalizerFunc func(ctx context.Context, resp []byte, err error)

// Handler wraps an endpoint with the full custom resource lifecycle:
// decode and validate the event, run preconditions, execute business
// logic under the deadline guard, normalize the outcome, and deliver
// exactly one response document to the callback URL. It implements the
// aws-lambda-go lambda.Handler interface.
type Handler struct {
	e            Endpoint
	chained      Endpoint
	sender       Sender
	guard        *guard.Guard
	redaction    *redact.Config
	logger       log.Logger
	errorHandler ErrorHandler
	finalizers   []FinalizerFunc
	middlewares  []Middleware

	enforce            bool
	hideDeleteFailures bool
	handleDelete       bool
	generatePhysicalID bool
	required           []string
}

// Option sets an optional parameter for handlers.
type Option func(*Handler)

// WithLogger sets the logger for the whole invocation lifecycle.
// By default, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithSender sets the response sender. By default a cfn.NewSender() is
// used.
func WithSender(s Sender) Option {
	return func(h *Handler) { h.sender = s }
}

// WithGuard arms the given deadline guard around every invocation. Without
// a guard there is no deadline safety and no self-invocation permission
// requirement.
func WithGuard(g *guard.Guard) Option {
	return func(h *Handler) { h.guard = g }
}

// WithRedaction applies the given redaction configuration to every
// diagnostic rendering of events and responses. The transmitted payload is
// never redacted.
func WithRedaction(c *redact.Config) Option {
	return func(h *Handler) { h.redaction = c }
}

// WithErrorHandler is used to handle non-terminal errors. By default they
// are logged through the handler's logger.
func WithErrorHandler(eh ErrorHandler) Option {
	return func(h *Handler) { h.errorHandler = eh }
}

// WithFinalizer sets finalizers which are called at the end of every
// invocation. By default no finalizer is registered.
func WithFinalizer(f ...FinalizerFunc) Option {
	return func(h *Handler) { h.finalizers = append(h.finalizers, f...) }
}

// WithMiddleware appends middlewares applied inside the built-in
// precondition stages, in declaration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(h *Handler) { h.middlewares = append(h.middlewares, mw...) }
}

// EnforceResponseObject fails any outcome that is not an Explicit
// response. Implicitly in effect when no Lambda context is available.
func EnforceResponseObject() Option {
	return func(h *Handler) { h.enforce = true }
}

// HideDeleteFailures coerces a failed Delete to success.
func HideDeleteFailures() Option {
	return func(h *Handler) { h.hideDeleteFailures = true }
}

// HandleDelete answers Delete requests with success without invoking the
// endpoint. Makes HideDeleteFailures redundant.
func HandleDelete() Option {
	return func(h *Handler) { h.handleDelete = true }
}

// GeneratePhysicalID fills an absent PhysicalResourceId with a generated
// identifier before the endpoint runs.
func GeneratePhysicalID() Option {
	return func(h *Handler) { h.generatePhysicalID = true }
}

// RequiredProperties lists property names that must be present in
// ResourceProperties; a miss fails the request without invoking the
// endpoint.
func RequiredProperties(names ...string) Option {
	return func(h *Handler) { h.required = append(h.required, names...) }
}

// New constructs a handler around the given endpoint. Configuration
// problems are reported here, once, before any invocation runs.
func New(e Endpoint, options ...Option) (*Handler, error) {
	if e == nil {
		return nil, errors.New("handler: nil endpoint")
	}
	h := &Handler{
		e:      e,
		logger: log.NewNopLogger(),
	}
	for _, option := range options {
		option(h)
	}
	if h.sender == nil {
		h.sender = cfn.NewSender(cfn.SenderLogger(h.logger))
	}
	if h.errorHandler == nil {
		h.errorHandler = NewLogErrorHandler(h.logger)
	}
	h.chained = h.buildChain()
	return h, nil
}

// Must panics if err is non-nil. It simplifies wiring in a Lambda main
// where a configuration error should abort cold start.
func Must(h *Handler, err error) *Handler {
	if err != nil {
		panic(err)
	}
	return h
}

// buildChain composes the precondition stages around the endpoint:
// physical id generation first, then the delete short-circuit, then the
// required property check, then any user middlewares.
func (h *Handler) buildChain() Endpoint {
	stages := []Middleware{}
	if h.generatePhysicalID {
		stages = append(stages, EnsurePhysicalID(h.logger))
	}
	if h.handleDelete {
		stages = append(stages, ShortCircuitDelete(h.logger))
	}
	if len(h.required) > 0 {
		stages = append(stages, RequireProperties(h.logger, h.required...))
	}
	stages = append(stages, h.middlewares...)
	if len(stages) == 0 {
		return h.e
	}
	return ChainMiddleware(stages[0], stages[1:]...)(h.e)
}

// Invoke implements the aws-lambda-go lambda.Handler interface. By
// contract every decodable event terminates in a transmitted response;
// only a payload that cannot be parsed at all surfaces as an error to the
// runtime, since no callback address is known for it.
func (h *Handler) Invoke(ctx context.Context, payload []byte) (resp []byte, err error) {
	if len(h.finalizers) > 0 {
		defer func() {
			for _, f := range h.finalizers {
				f(ctx, resp, err)
			}
		}()
	}

	e, err := cfn.DecodeEvent(ctx, payload)
	if err != nil {
		h.errorHandler.Handle(ctx, err)
		return nil, err
	}

	logger := log.With(h.logger,
		"request_id", e.RequestID,
		"resource_type", e.ResourceType,
		"request_type", e.RequestType,
	)
	level.Info(logger).Log("msg", "request received, processing")
	h.logEvent(logger, e)

	if e.ResponseRelay {
		return h.relay(ctx, logger, e)
	}

	disarm := func() {}
	if h.guard != nil {
		disarm = h.guard.Arm(ctx, e)
	}
	defer disarm()

	out, endpointErr := h.call(ctx, e)
	r := h.normalize(ctx, e, out, endpointErr)

	h.logResponse(logger, e, r)
	r = h.send(ctx, logger, e, r)
	return json.Marshal(r)
}

// relay is the deadline relay's only job: report failure for the original
// request without re-entering preconditions or business logic.
func (h *Handler) relay(ctx context.Context, logger log.Logger, e *cfn.Event) ([]byte, error) {
	level.Warn(logger).Log("msg", "deadline relay received, reporting failure for original invocation")
	r := h.buildResponse(ctx, e, cfn.StatusFailed,
		cfn.WithReason("Execution deadline exceeded before a response was sent"),
	)
	h.logResponse(logger, e, r)
	r = h.send(ctx, logger, e, r)
	return json.Marshal(r)
}

// call runs the composed chain, converting a panic into an ordinary error
// so that business logic failures can never escape the handler.
func (h *Handler) call(ctx context.Context, e *cfn.Event) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.chained(ctx, e)
}

// send hands the response to the sender and returns the response that
// was actually put on the wire. Delivery failure is logged and never
// escalated; a body that could not be encoded is rebuilt as a minimal
// failure payload and sent once more.
func (h *Handler) send(ctx context.Context, logger log.Logger, e *cfn.Event, r *cfn.Response) *cfn.Response {
	url := e.ResponseURL
	if h.redaction == nil || !h.redaction.RedactResponseURL() {
		level.Info(logger).Log("msg", "sending response", "url", url)
	} else {
		level.Info(logger).Log("msg", "sending response", "url", redact.Placeholder)
	}

	err := h.sender.Send(ctx, url, r)
	if err == nil {
		return r
	}
	h.errorHandler.Handle(ctx, err)
	if errors.Is(err, cfn.ErrSendFailed) {
		// Delivered bytes were fine, the endpoint was not reachable or
		// rejected them. There is no second chance to signal the stack.
		return r
	}

	fallback := h.buildResponse(ctx, e, cfn.StatusFailed,
		cfn.WithReason(fmt.Sprintf("Malformed response body: %v", err)),
		cfn.WithPhysicalResourceID(r.PhysicalResourceID),
	)
	if err := h.sender.Send(ctx, url, fallback); err != nil {
		h.errorHandler.Handle(ctx, err)
	}
	return fallback
}

func (h *Handler) logEvent(logger log.Logger, e *cfn.Event) {
	view := e
	if h.redaction != nil {
		view = h.redaction.FilterEvent(e)
	}
	body, err := json.Marshal(view)
	if err != nil {
		level.Debug(logger).Log("msg", "event not renderable", "err", err)
		return
	}
	level.Debug(logger).Log("msg", "request body", "body", string(body))
}

func (h *Handler) logResponse(logger log.Logger, e *cfn.Event, r *cfn.Response) {
	level.Info(logger).Log("msg", "response ready",
		"status", r.Status,
		"physical_resource_id", r.PhysicalResourceID,
		"reason", r.Reason,
	)

	view := *r
	if r.NoEcho {
		// NoEcho collapses the whole block rather than per field.
		view.Data = map[string]interface{}{"Data": redact.Placeholder}
	} else if h.redaction != nil {
		view.Data = make(map[string]interface{}, len(r.Data))
		for k, v := range r.Data {
			if h.redaction.Visible(e.ResourceType, k) {
				view.Data[k] = v
			} else {
				view.Data[k] = redact.Placeholder
			}
		}
	}
	body, err := json.Marshal(&view)
	if err != nil {
		level.Debug(logger).Log("msg", "response not renderable", "err", err)
		return
	}
	level.Debug(logger).Log("msg", "response body", "body", string(body))
}
