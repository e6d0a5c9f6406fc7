package cfn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sony/gobreaker"
)

// ErrSendFailed indicates the response body was well formed but could not
// be delivered to the callback URL. There is no second signal channel to
// CloudFormation, so callers log this and move on rather than retry.
var ErrSendFailed = errors.New("cfn: failed to deliver response to callback URL")

// HTTPClient models the one method of *http.Client the sender needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendFinalizerFunc is executed at the end of every delivery attempt.
// The principal intended use is for error logging; err may be nil.
type SendFinalizerFunc func(ctx context.Context, err error)

// Sender delivers a Response to a pre-signed callback URL with a single
// best-effort HTTP PUT. The callback endpoint honors only the first
// response it receives for a request id, so a duplicate delivery (for
// example a deadline relay racing the primary invocation) is expected and
// is never treated as a local error beyond the usual status check.
type Sender struct {
	client    HTTPClient
	logger    log.Logger
	breaker   *gobreaker.CircuitBreaker
	finalizer SendFinalizerFunc
}

// SenderOption sets an optional parameter for the sender.
type SenderOption func(*Sender)

// SenderClient sets the underlying HTTP client used for the PUT.
// By default, http.DefaultClient is used.
func SenderClient(client HTTPClient) SenderOption {
	return func(s *Sender) { s.client = client }
}

// SenderLogger sets the logger used for delivery diagnostics.
// By default, nothing is logged.
func SenderLogger(logger log.Logger) SenderOption {
	return func(s *Sender) { s.logger = logger }
}

// SenderBreaker wraps every delivery in the given circuit breaker. Useful
// in warm containers that keep signalling an endpoint that has gone away.
func SenderBreaker(cb *gobreaker.CircuitBreaker) SenderOption {
	return func(s *Sender) { s.breaker = cb }
}

// SenderFinalizer sets a finalizer which is called after every delivery
// attempt. By default no finalizer is registered.
func SenderFinalizer(f SendFinalizerFunc) SenderOption {
	return func(s *Sender) { s.finalizer = f }
}

// NewSender constructs a usable Sender.
func NewSender(options ...SenderOption) *Sender {
	s := &Sender{
		client: http.DefaultClient,
		logger: log.NewNopLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Send marshals r and PUTs it to url. A non-2xx status or transport error
// is reported as ErrSendFailed; a body that cannot be marshalled is
// reported as-is so the caller can rebuild a minimal payload and try once
// more.
func (s *Sender) Send(ctx context.Context, url string, r *Response) (err error) {
	if s.finalizer != nil {
		defer func() { s.finalizer(ctx, err) }()
	}

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("cfn: encoding response body: %w", err)
	}

	if s.breaker != nil {
		_, err = s.breaker.Execute(func() (interface{}, error) {
			return nil, s.put(ctx, url, body)
		})
		return err
	}
	return s.put(ctx, url, body)
}

func (s *Sender) put(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	// The pre-signed S3 URL is signed with an empty Content-Type, so the
	// header must be present but blank.
	req.Header.Set("Content-Type", "")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := s.client.Do(req)
	if err != nil {
		level.Error(s.logger).Log("msg", "unable to deliver response", "err", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		level.Error(s.logger).Log("msg", "unexpected status from callback endpoint", "status", resp.StatusCode)
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}
	level.Debug(s.logger).Log("msg", "response delivered", "status", resp.StatusCode)
	return nil
}
