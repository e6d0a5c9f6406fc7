package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/a69/cfn.go/cfn"
)

// EnsurePhysicalID returns a middleware that fills an absent
// PhysicalResourceId with a freshly generated identifier before the next
// endpoint runs, so business logic can rely on its presence. The generated
// id is stable for the rest of the invocation.
func EnsurePhysicalID(logger log.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, e *cfn.Event) (Outcome, error) {
			if e.PhysicalResourceID == "" {
				id := uuid.New()
				e.PhysicalResourceID = fmt.Sprintf("%x", id[:])
				level.Info(logger).Log("msg", "generated PhysicalResourceId", "physical_resource_id", e.PhysicalResourceID)
			}
			return next(ctx, e)
		}
	}
}

// ShortCircuitDelete returns a middleware that answers Delete requests
// with success without invoking the next endpoint. Deletions of custom
// resources are often a no-op on the caller's side.
func ShortCircuitDelete(logger log.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, e *cfn.Event) (Outcome, error) {
			if e.RequestType != cfn.RequestDelete {
				return next(ctx, e)
			}
			level.Info(logger).Log("msg", "delete request, reporting success without invoking endpoint")
			r, err := cfn.NewResponse(ctx, e, cfn.StatusSuccess)
			if err != nil {
				return nil, err
			}
			return Explicit(r), nil
		}
	}
}

// RequireProperties returns a middleware that verifies every named
// property is present in ResourceProperties before the next endpoint runs.
// On the first miss it short-circuits to a failure response.
func RequireProperties(logger log.Logger, names ...string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, e *cfn.Event) (Outcome, error) {
			for _, name := range names {
				if e.HasProperty(name) {
					continue
				}
				reason := fmt.Sprintf("Property %s missing, sending failure signal", name)
				level.Info(logger).Log("msg", "required property missing", "property", name)
				r, err := cfn.NewResponse(ctx, e, cfn.StatusFailed, cfn.WithReason(reason))
				if err != nil {
					return nil, err
				}
				return Explicit(r), nil
			}
			return next(ctx, e)
		}
	}
}

// Instrument returns a middleware that counts invocations and records
// their duration. Both collectors are labelled with the request type and
// with "success", which is "true" if no error is returned, and "false"
// otherwise.
func Instrument(invocations *prometheus.CounterVec, duration prometheus.ObserverVec) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, e *cfn.Event) (out Outcome, err error) {
			defer func(begin time.Time) {
				labels := prometheus.Labels{
					"request_type": string(e.RequestType),
					"success":      fmt.Sprint(err == nil),
				}
				invocations.With(labels).Inc()
				duration.With(labels).Observe(time.Since(begin).Seconds())
			}(time.Now())
			return next(ctx, e)
		}
	}
}
