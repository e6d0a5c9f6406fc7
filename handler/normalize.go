package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/a69/cfn.go/cfn"
)

// hiddenDeleteReason is reported when a failed Delete is coerced to
// success: CloudFormation cannot retry deletes sensibly, and masking the
// failure avoids a stuck stack at the cost of a possible leak.
const hiddenDeleteReason = "There may be resources created by this Custom Resource that have not been cleaned up despite the fact this resource is in DELETE_COMPLETE"

// normalize maps the endpoint's outcome, or the error it produced, onto a
// response document. Every path ends in a usable response; nothing
// propagates past this point.
func (h *Handler) normalize(ctx context.Context, e *cfn.Event, out Outcome, err error) *cfn.Response {
	var r *cfn.Response

	switch {
	case err != nil:
		reason := fmt.Sprintf("Endpoint failed due to error: %v", err)
		level.Error(h.logger).Log("msg", "endpoint failed", "err", err)
		r = h.buildResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(reason))

	default:
		if ex, ok := out.(explicit); ok {
			r = h.completeExplicit(ctx, e, ex.resp)
			break
		}
		if _, inLambda := lambdacontext.FromContext(ctx); !inLambda {
			// Without a Lambda context there is no deadline information, so
			// only explicitly built responses can be accepted.
			reason := "Outcome was not an explicit response and there is no Lambda context"
			level.Error(h.logger).Log("msg", reason)
			r = h.buildResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(reason))
			break
		}
		if h.enforce {
			reason := "Outcome was not an explicit response and EnforceResponseObject is enabled"
			level.Error(h.logger).Log("msg", reason)
			r = h.buildResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(reason))
			break
		}

		switch v := out.(type) {
		case nil:
			r = h.buildResponse(ctx, e, cfn.StatusSuccess)
		case Data:
			r = h.buildResponse(ctx, e, cfn.StatusSuccess, cfn.WithData(v))
		case Text:
			r = h.buildResponse(ctx, e, cfn.StatusSuccess, cfn.WithData(map[string]interface{}{"Return": string(v)}))
		case Flag:
			if v {
				r = h.buildResponse(ctx, e, cfn.StatusSuccess)
			} else {
				reason := "Endpoint returned false"
				level.Debug(h.logger).Log("msg", reason)
				r = h.buildResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(reason))
			}
		}
	}

	if e.RequestType == cfn.RequestDelete && r.Status == cfn.StatusFailed && h.hideDeleteFailures {
		level.Warn(h.logger).Log("msg", "hiding resource delete failure", "reason", r.Reason)
		r = h.buildResponse(ctx, e, cfn.StatusSuccess,
			cfn.WithReason(hiddenDeleteReason),
			cfn.WithPhysicalResourceID(r.PhysicalResourceID),
		)
	}
	return r
}

func (h *Handler) completeExplicit(ctx context.Context, e *cfn.Event, r *cfn.Response) *cfn.Response {
	completed, err := r.Complete(ctx, e)
	if err == nil {
		return completed
	}
	if errors.Is(err, cfn.ErrNoPhysicalResourceID) {
		return h.buildResponse(ctx, e, r.Status,
			cfn.WithReason(r.Reason),
			cfn.WithData(r.Data),
		)
	}
	level.Error(h.logger).Log("msg", "explicit response rejected", "err", err)
	return h.buildResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(err.Error()))
}

// buildResponse constructs a response and, as a last resort, synthesizes a
// physical resource id so the final document is never sent without one.
func (h *Handler) buildResponse(ctx context.Context, e *cfn.Event, status cfn.Status, opts ...cfn.ResponseOption) *cfn.Response {
	r, err := cfn.NewResponse(ctx, e, status, opts...)
	if err == nil {
		return r
	}
	id := uuid.New()
	synthesized := fmt.Sprintf("%x", id[:])
	level.Warn(h.logger).Log("msg", "no PhysicalResourceId available, synthesizing one", "physical_resource_id", synthesized)
	opts = append(opts, cfn.WithPhysicalResourceID(synthesized))
	r, err = cfn.NewResponse(ctx, e, status, opts...)
	if err != nil {
		// Only an invalid status can still fail here; report it plainly.
		r = &cfn.Response{
			Status:             cfn.StatusFailed,
			Reason:             err.Error(),
			PhysicalResourceID: synthesized,
			StackID:            e.StackID,
			RequestID:          e.RequestID,
			LogicalResourceID:  e.LogicalResourceID,
			Data:               map[string]interface{}{},
		}
	}
	return r
}
