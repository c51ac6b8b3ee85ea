// ABOUTME: Tests for the HTTP API
// ABOUTME: Drives the full router with a mock store and an httptest provider

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadworks/relay-gateway/internal/delivery"
	"github.com/threadworks/relay-gateway/internal/directory"
	"github.com/threadworks/relay-gateway/internal/relay"
	"github.com/threadworks/relay-gateway/internal/store"
	"github.com/threadworks/relay-gateway/internal/thread"
)

func setupAPI(t *testing.T, providerURL string, loopback bool) (http.Handler, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	deliverer := delivery.New(delivery.Config{
		TextEndpoint:  providerURL,
		EmailEndpoint: providerURL,
	}, nil)
	svc := relay.New(mock, directory.New(mock, nil), thread.New(mock, nil), deliverer, nil)
	api := New(mock, svc, loopback, nil)
	return api.Router(), mock
}

func okProvider(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","id":"prov-1"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedDirectory(t *testing.T, handler http.Handler) (userID, contactID int64) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPut, "/api/users", map[string]any{
		"name":          "Jane Doe",
		"phone_number":  "+15551234567",
		"email_address": "jane@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	userID = int64(decodeBody(t, rec)["id"].(float64))

	rec = doJSON(t, handler, http.MethodPut, "/api/contacts", map[string]any{
		"user_id":       userID,
		"name":          "John Smith",
		"phone_number":  "+15557654321",
		"email_address": "john@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	contactID = int64(decodeBody(t, rec)["id"].(float64))
	return userID, contactID
}

func TestAPI_UserLifecycle(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)

	rec := doJSON(t, handler, http.MethodPut, "/api/users", map[string]any{
		"name":          "Jane Doe",
		"phone_number":  "+15551234567",
		"email_address": "jane@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, "Jane Doe", created["name"])
	assert.NotZero(t, created["id"])

	// Same phone number again is a conflict.
	rec = doJSON(t, handler, http.MethodPut, "/api/users", map[string]any{
		"name":          "Impostor",
		"phone_number":  "+15551234567",
		"email_address": "other@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_address", decodeBody(t, rec)["error"])

	rec = doJSON(t, handler, http.MethodPut, "/api/users", map[string]any{
		"name": "No Addresses",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users, 1)
}

func TestAPI_ContactLifecycle(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	userID, contactID := seedDirectory(t, handler)

	// Contacts cannot be attached to a user that does not exist.
	rec := doJSON(t, handler, http.MethodPut, "/api/contacts", map[string]any{
		"user_id": userID + 100,
		"name":    "Orphan",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_user", decodeBody(t, rec)["error"])

	rec = doJSON(t, handler, http.MethodGet, "/api/contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contacts))
	assert.Len(t, contacts, 1)

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contactID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contactID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeleteUser_RemovesThreads(t *testing.T) {
	handler, mock := setupAPI(t, okProvider(t).URL, false)
	userID, contactID := seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID,
		"message_type": "sms",
		"content":      "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/users/%d", userID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	convs, err := mock.ListConversations(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAPI_SendMessage(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	userID, contactID := seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID,
		"message_type": "sms",
		"content":      "Hello John",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	message := body["message"].(map[string]any)
	assert.Equal(t, "sms", message["message_type"])
	assert.Equal(t, "Hello John", message["content"])
	assert.NotZero(t, message["conversation_id"])

	provider := body["provider_response"].(map[string]any)
	assert.Equal(t, "success", provider["status"])

	// The thread shows up in the conversation index.
	rec = doJSON(t, handler, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "text", convs[0]["channel_type"])

	convID := int64(convs[0]["id"].(float64))
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", convID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody(t, rec)
	messages := history["messages"].([]any)
	require.Len(t, messages, 1)
}

func TestAPI_SendMessage_Validation(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	userID, contactID := seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"message_type": "sms",
		"content":      "nobody",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID,
		"message_type": "fax",
		"content":      "beep",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_channel", decodeBody(t, rec)["error"])

	// message_type is required on the send path.
	rec = doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":    userID,
		"contact_id": contactID,
		"content":    "untyped",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_channel", decodeBody(t, rec)["error"])

	rec = doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID + 100,
		"message_type": "sms",
		"content":      "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_contact", decodeBody(t, rec)["error"])
}

func TestAPI_SendMessage_ExplicitConversation(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	userID, contactID := seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID,
		"message_type": "email",
		"content":      "email thread",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	convID := int64(decodeBody(t, rec)["message"].(map[string]any)["conversation_id"].(float64))

	// SMS into the email thread is rejected.
	rec = doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":         userID,
		"contact_id":      contactID,
		"conversation_id": convID,
		"message_type":    "sms",
		"content":         "wrong channel",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "conversation_channel_mismatch", decodeBody(t, rec)["error"])

	rec = doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":         userID,
		"contact_id":      contactID,
		"conversation_id": convID + 100,
		"message_type":    "email",
		"content":         "lost thread",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "conversation_not_found", decodeBody(t, rec)["error"])
}

func TestAPI_SendMessage_ProviderFailure(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"provider exploded"}`))
	}))
	defer failing.Close()

	handler, _ := setupAPI(t, failing.URL, false)
	userID, contactID := seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/send", map[string]any{
		"user_id":      userID,
		"contact_id":   contactID,
		"message_type": "sms",
		"content":      "hello",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "delivery_failed", body["error"])
	assert.Contains(t, body["detail"], "500")

	// Nothing was threaded or recorded.
	rec = doJSON(t, handler, http.MethodGet, "/api/conversations", nil)
	var convs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	assert.Empty(t, convs)
}

func TestAPI_ReceiveText(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/receive/text", map[string]any{
		"from":                  "+15557654321",
		"to":                    "+15551234567",
		"type":                  "sms",
		"messaging_provider_id": "prov-77",
		"body":                  "Hi Jane",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "prov-77", body["messaging_provider_id"])
	assert.Equal(t, "Hi Jane", body["body"])

	// Text callbacks must name their subtype.
	rec = doJSON(t, handler, http.MethodPost, "/api/messages/receive/text", map[string]any{
		"from":                  "+15557654321",
		"to":                    "+15551234567",
		"messaging_provider_id": "prov-78",
		"body":                  "untyped",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown sender address.
	rec = doJSON(t, handler, http.MethodPost, "/api/messages/receive/text", map[string]any{
		"from":                  "+15550000000",
		"to":                    "+15551234567",
		"type":                  "sms",
		"messaging_provider_id": "prov-79",
		"body":                  "stranger",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_contact", decodeBody(t, rec)["error"])
}

func TestAPI_ReceiveEmail_XillioAlias(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)
	seedDirectory(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/messages/receive/email", map[string]any{
		"from":      "john@example.com",
		"to":        "jane@example.com",
		"xillio_id": "mail-42",
		"body":      "Hello from email",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "mail-42", decodeBody(t, rec)["messaging_provider_id"])

	// The inbound email seeded an email thread, not a text one.
	rec = doJSON(t, handler, http.MethodGet, "/api/conversations", nil)
	var convs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "email", convs[0]["channel_type"])

	// A callback without any provider identifier is rejected.
	rec = doJSON(t, handler, http.MethodPost, "/api/messages/receive/email", map[string]any{
		"from": "john@example.com",
		"to":   "jane@example.com",
		"body": "anonymous",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ConversationMessages_NotFound(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)

	rec := doJSON(t, handler, http.MethodGet, "/api/conversations/999/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "conversation_not_found", decodeBody(t, rec)["error"])

	rec = doJSON(t, handler, http.MethodGet, "/api/conversations/abc/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_LoopbackProvider(t *testing.T) {
	handler, _ := setupAPI(t, "http://unused", true)

	rec := doJSON(t, handler, http.MethodPost, "/api/test/messages/receive", map[string]any{
		"from": "+15551234567",
		"to":   "+15557654321",
		"body": "echo me",
		"type": "sms",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "echo me", data["body"])
}

func TestAPI_LoopbackDisabled(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)

	rec := doJSON(t, handler, http.MethodPost, "/api/test/messages/receive", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequestIDHeader(t *testing.T) {
	handler, _ := setupAPI(t, okProvider(t).URL, false)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	echo := httptest.NewRecorder()
	handler.ServeHTTP(echo, req)
	assert.Equal(t, "caller-supplied", echo.Header().Get("X-Request-ID"))
}
