package cfn

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambdacontext"
)

// ErrNoPhysicalResourceID indicates that no value could be found for the
// PhysicalResourceId field, which must never be empty on the wire.
var ErrNoPhysicalResourceID = errors.New("cfn: no PhysicalResourceId available for response")

// Response is the document delivered to the callback URL. It is built once
// per invocation, after business logic resolves, and never mutated after
// transmission.
type Response struct {
	Status             Status                 `json:"Status"`
	Reason             string                 `json:"Reason,omitempty"`
	PhysicalResourceID string                 `json:"PhysicalResourceId"`
	StackID            string                 `json:"StackId"`
	RequestID          string                 `json:"RequestId"`
	LogicalResourceID  string                 `json:"LogicalResourceId"`
	NoEcho             bool                   `json:"NoEcho,omitempty"`
	Data               map[string]interface{} `json:"Data"`
}

// ResponseOption sets an optional field on a response under construction.
type ResponseOption func(*Response)

// WithData sets the output attributes returned to the stack.
func WithData(data map[string]interface{}) ResponseOption {
	return func(r *Response) { r.Data = data }
}

// WithReason sets the human readable explanation for the result.
func WithReason(reason string) ResponseOption {
	return func(r *Response) { r.Reason = reason }
}

// WithPhysicalResourceID overrides the physical resource id carried over
// from the event.
func WithPhysicalResourceID(id string) ResponseOption {
	return func(r *Response) { r.PhysicalResourceID = id }
}

// WithNoEcho asks CloudFormation not to echo Data into stack events, and
// makes diagnostic logging collapse the Data block to a placeholder.
func WithNoEcho() ResponseOption {
	return func(r *Response) { r.NoEcho = true }
}

// NewResponse builds a protocol complete response for the given event.
// Correlation identifiers are copied from the event; the physical resource
// id falls back to the event's value and then to the Lambda log stream name.
// A FAILED response with no reason gets a generic one.
func NewResponse(ctx context.Context, e *Event, status Status, opts ...ResponseOption) (*Response, error) {
	r := &Response{Status: status}
	for _, opt := range opts {
		opt(r)
	}
	return r.Complete(ctx, e)
}

// Complete fills in everything the wire format requires that the caller did
// not provide. It is applied to explicitly built responses as well, so a
// hand-made Response only needs the fields its author cares about.
func (r *Response) Complete(ctx context.Context, e *Event) (*Response, error) {
	r.StackID = e.StackID
	r.RequestID = e.RequestID
	r.LogicalResourceID = e.LogicalResourceID

	if r.Status != StatusSuccess && r.Status != StatusFailed {
		return nil, fmt.Errorf("cfn: %q is not a valid response status", r.Status)
	}

	_, inLambda := lambdacontext.FromContext(ctx)

	if r.Status == StatusFailed {
		if thrown, ok := r.Data["ExceptionThrown"]; ok {
			r.Reason = fmt.Sprintf("There was an exception thrown in execution of '%v'", thrown)
		} else if r.Reason == "" {
			r.Reason = "Unknown failure occurred"
		}
		if inLambda {
			r.Reason = fmt.Sprintf("%s -- See the details in CloudWatch Log Stream: %s", r.Reason, lambdacontext.LogStreamName)
		}
	} else if r.Reason == "" && inLambda {
		r.Reason = fmt.Sprintf("See the details in CloudWatch Log Stream: %s", lambdacontext.LogStreamName)
	}

	if r.PhysicalResourceID == "" {
		r.PhysicalResourceID = e.PhysicalResourceID
	}
	if r.PhysicalResourceID == "" && inLambda {
		r.PhysicalResourceID = lambdacontext.LogStreamName
	}
	if r.PhysicalResourceID == "" {
		return nil, ErrNoPhysicalResourceID
	}

	if r.Data == nil {
		r.Data = map[string]interface{}{}
	} else {
		r.Data = CollapseData(r.Data)
	}
	return r, nil
}

// CollapseData flattens nested maps into dotted attribute names, so that
// nested values are addressable with Fn::GetAtt. {"a": {"b": 1}} becomes
// {"a.b": 1}. Non-map values are carried through unchanged.
func CollapseData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	collapseInto(out, "", data)
	return out
}

func collapseInto(out map[string]interface{}, prefix string, data map[string]interface{}) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			collapseInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}
