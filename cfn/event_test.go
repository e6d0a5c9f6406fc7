package cfn

import (
	"context"
	"testing"
)

func validCreatePayload() []byte {
	return []byte(`{
		"RequestType": "Create",
		"ResponseURL": "https://cloudformation-custom-resource-response.s3.amazonaws.com/arn",
		"StackId": "arn:aws:cloudformation:us-east-1:123456789012:stack/test/guid",
		"RequestId": "unique-id-for-this-request",
		"ResourceType": "Custom::Test",
		"LogicalResourceId": "MyResource",
		"ResourceProperties": {"key1": "1", "key2": "2"}
	}`)
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent(context.Background(), validCreatePayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, have := RequestCreate, e.RequestType; want != have {
		t.Errorf("RequestType: want %q, have %q", want, have)
	}
	if want, have := "Custom::Test", e.ResourceType; want != have {
		t.Errorf("ResourceType: want %q, have %q", want, have)
	}
	if want, have := "unique-id-for-this-request", e.RequestID; want != have {
		t.Errorf("RequestId: want %q, have %q", want, have)
	}
	if !e.HasProperty("key1") || e.HasProperty("key3") {
		t.Errorf("HasProperty: key1 should be present, key3 absent")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent(context.Background(), []byte(`{]`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestEventValidate(t *testing.T) {
	base := func() *Event {
		return &Event{
			RequestType:       RequestCreate,
			ResponseURL:       "https://example.com/cb",
			StackID:           "stack",
			RequestID:         "req",
			ResourceType:      "Custom::Test",
			LogicalResourceID: "MyResource",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid create", func(e *Event) {}, false},
		{"invalid request type", func(e *Event) { e.RequestType = "Upsert" }, true},
		{"missing response url", func(e *Event) { e.ResponseURL = "" }, true},
		{"missing stack id", func(e *Event) { e.StackID = "" }, true},
		{"missing request id", func(e *Event) { e.RequestID = "" }, true},
		{"missing resource type", func(e *Event) { e.ResourceType = "" }, true},
		{"missing logical id", func(e *Event) { e.LogicalResourceID = "" }, true},
		{"delete without physical id", func(e *Event) { e.RequestType = RequestDelete }, true},
		{"delete with physical id", func(e *Event) {
			e.RequestType = RequestDelete
			e.PhysicalResourceID = "pid"
		}, false},
		{"update without physical id", func(e *Event) { e.RequestType = RequestUpdate }, true},
		{"create with old properties", func(e *Event) {
			e.OldResourceProperties = map[string]interface{}{"key1": "1"}
		}, true},
		{"update with old properties", func(e *Event) {
			e.RequestType = RequestUpdate
			e.PhysicalResourceID = "pid"
			e.OldResourceProperties = map[string]interface{}{"key1": "1"}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEventClone(t *testing.T) {
	e := &Event{
		RequestType:        RequestUpdate,
		PhysicalResourceID: "pid",
		ResourceProperties: map[string]interface{}{"key1": "1"},
	}
	c := e.Clone()
	c.ResourceProperties["key1"] = "changed"
	if want, have := "1", e.ResourceProperties["key1"]; want != have {
		t.Errorf("original mutated: want %q, have %v", want, have)
	}
}
