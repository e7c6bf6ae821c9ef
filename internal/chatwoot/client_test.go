package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(
		WithBaseURL(server.URL),
		WithAccountID(7),
		WithInboxID(3),
		WithAccessToken("test-token"),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, server
}

func TestNewClient_RequiresConfiguration(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewClient(WithBaseURL("http://crm")); err == nil {
		t.Error("expected error without account ID")
	}
	if _, err := NewClient(WithBaseURL("http://crm"), WithAccountID(1)); err == nil {
		t.Error("expected error without access token")
	}
}

func TestSearchContact_ExactMatch(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/contacts/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("api_access_token"); got != "test-token" {
			t.Errorf("expected access token header, got %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "+5215550001" {
			t.Errorf("unexpected query %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payload": []models.Contact{
				{ID: 11, PhoneNumber: "+52155500010"},
				{ID: 12, PhoneNumber: "+5215550001", Name: "Alice"},
			},
		})
	}))

	contact, err := client.SearchContact(context.Background(), "+5215550001")
	if err != nil {
		t.Fatalf("SearchContact returned error: %v", err)
	}
	if contact.ID != 12 || contact.Name != "Alice" {
		t.Errorf("expected exact-match contact 12, got %+v", contact)
	}
}

func TestSearchContact_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"payload": []models.Contact{}})
	}))

	_, err := client.SearchContact(context.Background(), "+5215550001")
	if !errors.Is(err, models.ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestCreateContact(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if payload["phone_number"] != "+5215550001" || payload["name"] != "Alice" {
			t.Errorf("unexpected payload %v", payload)
		}
		if payload["inbox_id"] != float64(3) {
			t.Errorf("expected inbox_id 3, got %v", payload["inbox_id"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payload": map[string]interface{}{
				"contact": models.Contact{ID: 42, PhoneNumber: "+5215550001", Name: "Alice"},
			},
		})
	}))

	contact, err := client.CreateContact(context.Background(), "+5215550001", "Alice")
	if err != nil {
		t.Fatalf("CreateContact returned error: %v", err)
	}
	if contact.ID != 42 {
		t.Errorf("expected contact ID 42, got %d", contact.ID)
	}
}

func TestCreateConversation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["contact_id"] != float64(42) || payload["inbox_id"] != float64(3) {
			t.Errorf("unexpected payload %v", payload)
		}
		if payload["source_id"] == "" {
			t.Error("expected non-empty source_id")
		}
		json.NewEncoder(w).Encode(models.Conversation{ID: 99, InboxID: 3})
	}))

	conv, err := client.CreateConversation(context.Background(), 42, "src_42_abc")
	if err != nil {
		t.Fatalf("CreateConversation returned error: %v", err)
	}
	if conv.ID != 99 {
		t.Errorf("expected conversation ID 99, got %d", conv.ID)
	}
}

func TestCreateMessage_JSON(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/conversations/99/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["content"] != "hola" || payload["message_type"] != "incoming" {
			t.Errorf("unexpected payload %v", payload)
		}
		w.WriteHeader(http.StatusOK)
	}))

	msg := models.RelayMessage{Content: "hola", Type: models.MessageTypeIncoming}
	if err := client.CreateMessage(context.Background(), 99, msg, nil); err != nil {
		t.Fatalf("CreateMessage returned error: %v", err)
	}
}

func TestCreateMessage_Multipart(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart form: %v", err)
		}
		if got := r.FormValue("message_type"); got != "outgoing" {
			t.Errorf("expected message_type outgoing, got %q", got)
		}
		if got := r.FormValue("private"); got != "true" {
			t.Errorf("expected private true, got %q", got)
		}
		files := r.MultipartForm.File["attachments[]"]
		if len(files) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(files))
		}
		if files[0].Filename != "photo.jpg" {
			t.Errorf("unexpected filename %q", files[0].Filename)
		}
		f, _ := files[0].Open()
		data, _ := io.ReadAll(f)
		f.Close()
		if string(data) != "jpegdata" {
			t.Errorf("unexpected file content %q", data)
		}
		w.WriteHeader(http.StatusOK)
	}))

	msg := models.RelayMessage{Content: "media", Type: models.MessageTypeOutgoing, Private: true}
	files := []*File{{
		Name:        "photo.jpg",
		ContentType: "image/jpeg",
		Body:        io.NopCloser(strings.NewReader("jpegdata")),
	}}
	if err := client.CreateMessage(context.Background(), 99, msg, files); err != nil {
		t.Fatalf("CreateMessage returned error: %v", err)
	}
}

func TestDoJSON_APIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid token"}`)
	}))

	_, err := client.SearchContact(context.Background(), "+5215550001")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid token") {
		t.Errorf("expected preserved body, got %q", apiErr.Body)
	}
}

func TestEnsureAttributeDefinitionFlow(t *testing.T) {
	created := false
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]models.AttributeDefinition{})
		case http.MethodPost:
			var def models.AttributeDefinition
			json.NewDecoder(r.Body).Decode(&def)
			if def.Key != models.BotFeatureKey {
				t.Errorf("unexpected attribute key %q", def.Key)
			}
			created = true
			w.WriteHeader(http.StatusOK)
		}
	}))

	defs, err := client.ListAttributeDefinitions(context.Background())
	if err != nil {
		t.Fatalf("ListAttributeDefinitions returned error: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("expected no definitions, got %d", len(defs))
	}
	err = client.CreateAttributeDefinition(context.Background(), models.AttributeDefinition{
		DisplayName: "Funciones del Bot",
		Key:         models.BotFeatureKey,
		Model:       AttributeModelContact,
		DisplayType: AttributeDisplayTypeList,
		Values:      []string{string(models.FeatureOn), string(models.FeatureOff)},
	})
	if err != nil {
		t.Fatalf("CreateAttributeDefinition returned error: %v", err)
	}
	if !created {
		t.Error("expected definition creation call")
	}
}
