package models

import (
	"encoding/json"
	"testing"
)

func TestContactBotFeature(t *testing.T) {
	tests := []struct {
		name    string
		contact *Contact
		want    FeatureFlag
	}{
		{"nil contact", nil, FeatureUnset},
		{"nil attributes", &Contact{}, FeatureUnset},
		{"attribute absent", &Contact{CustomAttributes: map[string]interface{}{"other": "x"}}, FeatureUnset},
		{"on", &Contact{CustomAttributes: map[string]interface{}{BotFeatureKey: "On"}}, FeatureOn},
		{"off", &Contact{CustomAttributes: map[string]interface{}{BotFeatureKey: "Off"}}, FeatureOff},
		{"unrecognized value", &Contact{CustomAttributes: map[string]interface{}{BotFeatureKey: "maybe"}}, FeatureUnset},
		{"non-string value", &Contact{CustomAttributes: map[string]interface{}{BotFeatureKey: 1}}, FeatureUnset},
		{"lowercase not accepted", &Contact{CustomAttributes: map[string]interface{}{BotFeatureKey: "on"}}, FeatureUnset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contact.BotFeature(); got != tt.want {
				t.Errorf("BotFeature() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelayMessageJSON(t *testing.T) {
	msg := RelayMessage{
		Content:        "hola",
		Type:           MessageTypeOutgoing,
		Private:        true,
		AttachmentURLs: []string{"http://media.test/a.jpg"},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["message_type"] != "outgoing" {
		t.Errorf("expected message_type outgoing, got %v", decoded["message_type"])
	}
	if decoded["private"] != true {
		t.Errorf("expected private true, got %v", decoded["private"])
	}
	// Attachment URLs travel as multipart form files, never in the JSON body.
	if _, ok := decoded["AttachmentURLs"]; ok {
		t.Error("attachment URLs must not appear in the JSON payload")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	success := Success(map[string]int{"count": 2})
	if success.Status != string(APIStatusOK) || success.Message != "" {
		t.Errorf("unexpected success response: %+v", success)
	}

	withMsg := SuccessWithMessage("Event received", nil)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "Event received" {
		t.Errorf("unexpected success-with-message response: %+v", withMsg)
	}

	failure := Error("boom")
	if failure.Status != string(APIStatusError) || failure.Message != "boom" {
		t.Errorf("unexpected error response: %+v", failure)
	}

	// Error responses omit the result field entirely.
	data, err := json.Marshal(failure)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["result"]; ok {
		t.Error("error response should omit result")
	}
}
