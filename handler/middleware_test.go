package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a69/cfn.go/cfn"
)

func TestEnsurePhysicalIDGeneratesOnce(t *testing.T) {
	var first, second string
	e := createEvent()
	e.PhysicalResourceID = ""

	mw := EnsurePhysicalID(log.NewNopLogger())
	_, err := mw(func(_ context.Context, e *cfn.Event) (Outcome, error) {
		first = e.PhysicalResourceID
		return nil, nil
	})(context.Background(), e)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = mw(func(_ context.Context, e *cfn.Event) (Outcome, error) {
		second = e.PhysicalResourceID
		return nil, nil
	})(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, first, second, "an already present id must be kept")
}

func TestEnsurePhysicalIDKeepsExisting(t *testing.T) {
	e := createEvent()
	mw := EnsurePhysicalID(log.NewNopLogger())
	_, err := mw(func(_ context.Context, e *cfn.Event) (Outcome, error) {
		assert.Equal(t, "pid", e.PhysicalResourceID)
		return nil, nil
	})(context.Background(), e)
	require.NoError(t, err)
}

func TestShortCircuitDeletePassesThroughOtherTypes(t *testing.T) {
	mw := ShortCircuitDelete(log.NewNopLogger())
	called := false
	_, err := mw(func(context.Context, *cfn.Event) (Outcome, error) {
		called = true
		return nil, nil
	})(context.Background(), createEvent())
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRequirePropertiesReportsFirstMiss(t *testing.T) {
	mw := RequireProperties(log.NewNopLogger(), "key1", "key2", "key3")
	e := createEvent()
	e.ResourceProperties = map[string]interface{}{"key1": "1"}

	out, err := mw(Nop)(context.Background(), e)
	require.NoError(t, err)
	ex, ok := out.(explicit)
	require.True(t, ok, "expected an explicit short-circuit response")
	assert.Equal(t, cfn.StatusFailed, ex.resp.Status)
	assert.Equal(t, "Property key2 missing, sending failure signal", ex.resp.Reason)
}

func TestInstrument(t *testing.T) {
	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custom_resource_invocations_total",
		Help: "Custom resource invocations.",
	}, []string{"request_type", "success"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "custom_resource_duration_seconds",
		Help: "Custom resource invocation duration.",
	}, []string{"request_type", "success"})

	mw := Instrument(invocations, duration)

	_, err := mw(Nop)(context.Background(), createEvent())
	require.NoError(t, err)
	_, err = mw(func(context.Context, *cfn.Event) (Outcome, error) {
		return nil, errors.New("boom")
	})(context.Background(), deleteEvent())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(invocations.WithLabelValues("Create", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(invocations.WithLabelValues("Delete", "false")))
}
