package cfn

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status is the terminal result reported back to CloudFormation.
//
// https://docs.aws.amazon.com/AWSCloudFormation/latest/UserGuide/crpg-ref-responses.html
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// RequestType identifies the stack operation CloudFormation is performing
// on the custom resource.
//
// https://docs.aws.amazon.com/AWSCloudFormation/latest/UserGuide/crpg-ref-requesttypes.html
type RequestType string

const (
	RequestCreate RequestType = "Create"
	RequestUpdate RequestType = "Update"
	RequestDelete RequestType = "Delete"
)

// Event is a custom resource request as delivered in the Lambda payload.
// It is decoded fresh for every invocation and owned by that invocation.
type Event struct {
	RequestType           RequestType            `json:"RequestType"`
	ResponseURL           string                 `json:"ResponseURL"`
	StackID               string                 `json:"StackId"`
	RequestID             string                 `json:"RequestId"`
	ResourceType          string                 `json:"ResourceType"`
	LogicalResourceID     string                 `json:"LogicalResourceId"`
	PhysicalResourceID    string                 `json:"PhysicalResourceId,omitempty"`
	ResourceProperties    map[string]interface{} `json:"ResourceProperties,omitempty"`
	OldResourceProperties map[string]interface{} `json:"OldResourceProperties,omitempty"`

	// ResponseRelay marks a deadline relay re-invocation. CloudFormation
	// never sets this field; only guard.Guard does, on the copy of the
	// event it hands to the relay invocation.
	ResponseRelay bool `json:"ResponseRelay,omitempty"`
}

// DecodeEvent extracts an Event from a raw Lambda payload and validates it.
func DecodeEvent(_ context.Context, payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("cfn: decoding event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks that the event carries every field the custom resource
// protocol requires for its request type.
func (e *Event) Validate() error {
	switch e.RequestType {
	case RequestCreate, RequestUpdate, RequestDelete:
	default:
		return fmt.Errorf("cfn: invalid RequestType %q", e.RequestType)
	}
	for _, f := range []struct{ name, value string }{
		{"ResponseURL", e.ResponseURL},
		{"StackId", e.StackID},
		{"RequestId", e.RequestID},
		{"ResourceType", e.ResourceType},
		{"LogicalResourceId", e.LogicalResourceID},
	} {
		if f.value == "" {
			return fmt.Errorf("cfn: event is missing %s", f.name)
		}
	}
	if e.RequestType != RequestCreate && e.PhysicalResourceID == "" {
		return fmt.Errorf("cfn: %s event is missing PhysicalResourceId", e.RequestType)
	}
	if e.RequestType != RequestUpdate && e.OldResourceProperties != nil {
		return fmt.Errorf("cfn: %s event must not carry OldResourceProperties", e.RequestType)
	}
	return nil
}

// HasProperty reports whether name is present in ResourceProperties.
func (e *Event) HasProperty(name string) bool {
	_, ok := e.ResourceProperties[name]
	return ok
}

// Clone returns a copy of the event with freshly allocated property maps,
// so the copy can be modified without touching the original.
func (e *Event) Clone() *Event {
	c := *e
	c.ResourceProperties = cloneProperties(e.ResourceProperties)
	c.OldResourceProperties = cloneProperties(e.OldResourceProperties)
	return &c
}

func cloneProperties(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
