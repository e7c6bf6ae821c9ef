// Package models defines the core data structures for ChatBridge.
//
// It includes the chat event types exchanged with the bot runtime, the remote
// CRM entities mirrored by the bridge, and the shared error taxonomy.
package models

import (
	"encoding/json"
	"errors"
)

// BotFeatureKey is the CRM custom attribute that gates bot responsiveness
// for a contact. Agents flip it between "On" and "Off" from the CRM UI.
const BotFeatureKey = "funciones_del_bot"

// FeatureFlag represents the per-contact bot feature toggle value.
type FeatureFlag string

const (
	// FeatureOn allows the bot to keep responding to the contact.
	FeatureOn FeatureFlag = "On"
	// FeatureOff suppresses bot replies for the contact.
	FeatureOff FeatureFlag = "Off"
	// FeatureUnset indicates the attribute is absent on the contact.
	FeatureUnset FeatureFlag = ""
)

// Error variables for better error handling and testability
var (
	ErrContactNotFound      = errors.New("contact not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
	ErrRecipientSuppressed  = errors.New("recipient is blacklisted, reply suppressed")
	ErrEmptyConfiguration   = errors.New("bridge configuration is empty")
)

// InboundMessage is a chat message received from an end user via the bot runtime.
type InboundMessage struct {
	From          string `json:"from"`
	Body          string `json:"body"`
	PushName      string `json:"pushName"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// OutboundReply is a reply the bot runtime produced for an end user.
type OutboundReply struct {
	Recipient string `json:"recipient"`
	Answer    string `json:"answer"`
	MediaURL  string `json:"mediaUrl,omitempty"`
}

// AgentEvent is an arbitrary JSON payload posted by the CRM side to the
// webhook endpoint. It is re-emitted into the dispatch pipeline for future
// routing; today it is only logged.
type AgentEvent struct {
	Payload json.RawMessage `json:"payload"`
}

// Contact mirrors a CRM contact record keyed by phone number.
type Contact struct {
	ID               int                    `json:"id"`
	Name             string                 `json:"name"`
	PhoneNumber      string                 `json:"phone_number"`
	CustomAttributes map[string]interface{} `json:"custom_attributes"`
}

// BotFeature returns the contact's bot feature flag, or FeatureUnset when the
// attribute is absent or not a string.
func (c *Contact) BotFeature() FeatureFlag {
	if c == nil || c.CustomAttributes == nil {
		return FeatureUnset
	}
	raw, ok := c.CustomAttributes[BotFeatureKey]
	if !ok {
		return FeatureUnset
	}
	value, ok := raw.(string)
	if !ok {
		return FeatureUnset
	}
	switch FeatureFlag(value) {
	case FeatureOn:
		return FeatureOn
	case FeatureOff:
		return FeatureOff
	default:
		return FeatureUnset
	}
}

// Conversation mirrors a CRM conversation tied to a contact and inbox.
type Conversation struct {
	ID       int    `json:"id"`
	InboxID  int    `json:"inbox_id"`
	SourceID string `json:"source_id,omitempty"`
}

// MessageType identifies the direction of a relayed message on the CRM side.
type MessageType string

const (
	// MessageTypeIncoming marks a message authored by the end user.
	MessageTypeIncoming MessageType = "incoming"
	// MessageTypeOutgoing marks a message authored by the bot.
	MessageTypeOutgoing MessageType = "outgoing"
)

// RelayMessage is the ephemeral payload submitted to a remote conversation.
// It is sent once and discarded, never persisted locally.
type RelayMessage struct {
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"message_type"`
	Private        bool        `json:"private"`
	AttachmentURLs []string    `json:"-"`
}

// AttributeDefinition mirrors a CRM custom attribute definition.
type AttributeDefinition struct {
	ID          int      `json:"id,omitempty"`
	DisplayName string   `json:"attribute_display_name"`
	Key         string   `json:"attribute_key"`
	Model       int      `json:"attribute_model"`
	DisplayType int      `json:"attribute_display_type"`
	Values      []string `json:"attribute_values,omitempty"`
}

// EventState tracks an event through the bridge pipeline for logging purposes.
type EventState string

const (
	EventStateReceived   EventState = "received"
	EventStateNormalized EventState = "normalized"
	EventStateEnqueued   EventState = "enqueued"
	EventStateExecuting  EventState = "executing"
	EventStateDone       EventState = "done"
	EventStateFailed     EventState = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
