// Package chatwoot provides a typed client for the Chatwoot-compatible CRM
// REST API consumed by ChatBridge.
//
// It covers the contact, conversation, message, and custom-attribute-definition
// endpoints. The client is stateless beyond its credentials; all identity and
// ordering guarantees live in the bridge layer.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

// Custom attribute definition constants used by the CRM API.
const (
	// AttributeModelContact scopes a custom attribute definition to contacts.
	AttributeModelContact = 1
	// AttributeDisplayTypeList renders a custom attribute as a fixed value list.
	AttributeDisplayTypeList = 6
	// DefaultRequestTimeout bounds individual CRM API calls.
	DefaultRequestTimeout = 30 * time.Second
)

// APIError describes a failed CRM HTTP call. The original response body is
// preserved for operational logs; the task that triggered it is not retried.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Opts holds configuration options for the CRM client.
type Opts struct {
	BaseURL     string
	AccountID   int
	InboxID     int
	AccessToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// Option defines a configuration option for the CRM client.
type Option func(*Opts)

// WithBaseURL sets the CRM base URL, e.g. "https://crm.example.com".
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAccountID sets the CRM account ID.
func WithAccountID(id int) Option {
	return func(o *Opts) { o.AccountID = id }
}

// WithInboxID sets the inbox ID conversations are created in.
func WithInboxID(id int) Option {
	return func(o *Opts) { o.InboxID = id }
}

// WithAccessToken sets the API access token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithHTTPClient injects a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is a typed client over the CRM REST API.
type Client struct {
	baseURL     string
	accountID   int
	inboxID     int
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a CRM client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base URL must be provided")
	}
	if cfg.AccountID == 0 {
		return nil, fmt.Errorf("crm account ID must be provided")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("crm access token must be provided")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	slog.Debug("Chatwoot client configured", "base_url", cfg.BaseURL, "account_id", cfg.AccountID, "inbox_id", cfg.InboxID, "token_set", cfg.AccessToken != "")
	return &Client{
		baseURL:     cfg.BaseURL,
		accountID:   cfg.AccountID,
		inboxID:     cfg.InboxID,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
	}, nil
}

// InboxID returns the configured inbox ID.
func (c *Client) InboxID() int {
	return c.inboxID
}

func (c *Client) accountPath(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/api/v1/accounts/%d%s", c.baseURL, c.accountID, fmt.Sprintf(format, args...))
}

// doJSON performs an HTTP request with a JSON body (may be nil) and decodes
// the JSON response into out (may be nil). Non-2xx statuses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", endpoint, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("api_access_token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

// SearchContact looks up a contact by phone number. Returns
// models.ErrContactNotFound when no contact matches exactly.
func (c *Client) SearchContact(ctx context.Context, phone string) (*models.Contact, error) {
	endpoint := c.accountPath("/contacts/search?q=%s", url.QueryEscape(phone))
	slog.Debug("Chatwoot SearchContact", "phone", phone)

	var result struct {
		Payload []models.Contact `json:"payload"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	for i := range result.Payload {
		if result.Payload[i].PhoneNumber == phone {
			slog.Debug("Chatwoot SearchContact hit", "phone", phone, "contact_id", result.Payload[i].ID)
			return &result.Payload[i], nil
		}
	}
	slog.Debug("Chatwoot SearchContact miss", "phone", phone, "candidates", len(result.Payload))
	return nil, fmt.Errorf("phone %s: %w", phone, models.ErrContactNotFound)
}

// CreateContact creates a contact with the given phone number and display name.
func (c *Client) CreateContact(ctx context.Context, phone, name string) (*models.Contact, error) {
	endpoint := c.accountPath("/contacts")
	slog.Debug("Chatwoot CreateContact", "phone", phone, "name", name)

	payload := map[string]interface{}{
		"inbox_id":     c.inboxID,
		"name":         name,
		"phone_number": phone,
	}
	var result struct {
		Payload struct {
			Contact models.Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &result); err != nil {
		return nil, err
	}
	slog.Info("Chatwoot contact created", "phone", phone, "contact_id", result.Payload.Contact.ID)
	return &result.Payload.Contact, nil
}

// UpdateContactAttributes replaces the given custom attributes on a contact.
func (c *Client) UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error {
	endpoint := c.accountPath("/contacts/%d", contactID)
	slog.Debug("Chatwoot UpdateContactAttributes", "contact_id", contactID, "attrs", attrs)

	payload := map[string]interface{}{"custom_attributes": attrs}
	return c.doJSON(ctx, http.MethodPut, endpoint, payload, nil)
}

// ContactConversations lists the conversations attached to a contact.
func (c *Client) ContactConversations(ctx context.Context, contactID int) ([]models.Conversation, error) {
	endpoint := c.accountPath("/contacts/%d/conversations", contactID)
	slog.Debug("Chatwoot ContactConversations", "contact_id", contactID)

	var result struct {
		Payload []models.Conversation `json:"payload"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// CreateConversation opens a conversation for the contact in the configured
// inbox using the caller-supplied source id.
func (c *Client) CreateConversation(ctx context.Context, contactID int, sourceID string) (*models.Conversation, error) {
	endpoint := c.accountPath("/conversations")
	slog.Debug("Chatwoot CreateConversation", "contact_id", contactID, "source_id", sourceID)

	payload := map[string]interface{}{
		"source_id":  sourceID,
		"inbox_id":   c.inboxID,
		"contact_id": contactID,
	}
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &conv); err != nil {
		return nil, err
	}
	slog.Info("Chatwoot conversation created", "contact_id", contactID, "conversation_id", conv.ID, "source_id", sourceID)
	return &conv, nil
}

// CreateMessage posts a message to a conversation. Messages with resolved
// attachment files are sent as multipart; plain messages as JSON.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, msg models.RelayMessage, files []*File) error {
	endpoint := c.accountPath("/conversations/%d/messages", conversationID)
	if len(files) == 0 {
		slog.Debug("Chatwoot CreateMessage", "conversation_id", conversationID, "type", msg.Type, "private", msg.Private)
		payload := map[string]interface{}{
			"content":      msg.Content,
			"message_type": string(msg.Type),
			"private":      msg.Private,
		}
		return c.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
	}
	return c.createAttachmentMessage(ctx, endpoint, msg, files)
}

// createAttachmentMessage posts a multipart message carrying attachment files.
func (c *Client) createAttachmentMessage(ctx context.Context, endpoint string, msg models.RelayMessage, files []*File) error {
	slog.Debug("Chatwoot createAttachmentMessage", "endpoint", endpoint, "files", len(files))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if msg.Content != "" {
		if err := writer.WriteField("content", msg.Content); err != nil {
			return fmt.Errorf("failed to write content field: %w", err)
		}
	}
	if err := writer.WriteField("message_type", string(msg.Type)); err != nil {
		return fmt.Errorf("failed to write message_type field: %w", err)
	}
	if err := writer.WriteField("private", fmt.Sprintf("%t", msg.Private)); err != nil {
		return fmt.Errorf("failed to write private field: %w", err)
	}
	for _, file := range files {
		part, err := writer.CreateFormFile("attachments[]", file.Name)
		if err != nil {
			return fmt.Errorf("failed to create attachment part for %s: %w", file.Name, err)
		}
		if _, err := io.Copy(part, file.Body); err != nil {
			file.Body.Close()
			return fmt.Errorf("failed to stream attachment %s: %w", file.Name, err)
		}
		file.Body.Close()
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("failed to build multipart request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("api_access_token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm multipart request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(raw)}
	}
	slog.Debug("Chatwoot attachment message sent", "endpoint", endpoint, "files", len(files))
	return nil
}

// ListAttributeDefinitions lists contact-scoped custom attribute definitions.
func (c *Client) ListAttributeDefinitions(ctx context.Context) ([]models.AttributeDefinition, error) {
	endpoint := c.accountPath("/custom_attribute_definitions?attribute_model=%d", AttributeModelContact)
	slog.Debug("Chatwoot ListAttributeDefinitions")

	var defs []models.AttributeDefinition
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// CreateAttributeDefinition creates a custom attribute definition.
func (c *Client) CreateAttributeDefinition(ctx context.Context, def models.AttributeDefinition) error {
	endpoint := c.accountPath("/custom_attribute_definitions")
	slog.Debug("Chatwoot CreateAttributeDefinition", "key", def.Key)
	return c.doJSON(ctx, http.MethodPost, endpoint, def, nil)
}
