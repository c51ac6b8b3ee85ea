// ABOUTME: HTTP handlers for the relay-gateway API
// ABOUTME: Maps engine error kinds to HTTP statuses; thin JSON glue over the engines

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadworks/relay-gateway/internal/channel"
	"github.com/threadworks/relay-gateway/internal/relay"
	"github.com/threadworks/relay-gateway/internal/store"
)

// API holds the handler dependencies.
type API struct {
	store    store.Store
	relay    *relay.Service
	loopback bool
	logger   *slog.Logger
}

// New creates the API handler set.
func New(st store.Store, relaySvc *relay.Service, loopback bool, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    st,
		relay:    relaySvc,
		loopback: loopback,
		logger:   logger.With("component", "httpapi"),
	}
}

// writeJSON writes a JSON response with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encoding response failed", "error", err)
	}
}

// writeError maps an error to its HTTP status and standard body.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var engineErr *relay.Error
	if errors.As(err, &engineErr) {
		detail := engineErr.Detail
		if engineErr.Kind == relay.KindDeliveryFailed && engineErr.UpstreamBody != "" {
			detail = fmt.Sprintf("%s: provider returned status %d: %s",
				engineErr.Detail, engineErr.UpstreamStatus, engineErr.UpstreamBody)
		}
		a.writeJSON(w, statusForKind(engineErr.Kind), ErrorResponse{
			Error:  string(engineErr.Kind),
			Detail: detail,
		})
		return
	}

	a.logger.Error("internal error", "error", err)
	a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:  "internal_error",
		Detail: "internal server error",
	})
}

// statusForKind maps engine error kinds to HTTP status codes.
func statusForKind(kind relay.Kind) int {
	switch kind {
	case relay.KindInvalidChannel, relay.KindConversationChannelMismatch:
		return http.StatusBadRequest
	case relay.KindUnknownUser, relay.KindUnknownContact, relay.KindConversationNotFound:
		return http.StatusNotFound
	case relay.KindDeliveryFailed:
		return http.StatusBadGateway
	case relay.KindDeliveryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a plain 400 with the given detail.
func (a *API) badRequest(w http.ResponseWriter, detail string) {
	a.writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "bad_request",
		Detail: detail,
	})
}

// handleSendMessage handles POST /api/messages/send.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == 0 || req.ContactID == 0 {
		a.badRequest(w, "user_id and contact_id are required")
		return
	}

	result, err := a.relay.Send(r.Context(), &relay.Draft{
		UserID:         req.UserID,
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		Subtype:        channel.Subtype(req.MessageType),
		Content:        req.Content,
		Attachments:    req.Attachment,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, SendMessageResponse{
		Message:          messageResponse(result.Message),
		ProviderResponse: result.ProviderResponse.Body,
	})
}

// handleReceiveText handles POST /api/messages/receive/text.
func (a *API) handleReceiveText(w http.ResponseWriter, r *http.Request) {
	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" {
		a.badRequest(w, "type is required for text callbacks")
		return
	}
	a.ingest(w, r, &req, channel.Subtype(req.Type))
}

// handleReceiveEmail handles POST /api/messages/receive/email.
// Email callbacks carry no text subtype.
func (a *API) handleReceiveEmail(w http.ResponseWriter, r *http.Request) {
	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	a.ingest(w, r, &req, "")
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request, req *InboundMessageRequest, subtype channel.Subtype) {
	if req.From == "" || req.To == "" {
		a.badRequest(w, "from and to are required")
		return
	}
	if req.providerID() == "" {
		a.badRequest(w, "messaging_provider_id is required")
		return
	}

	msg, err := a.relay.Ingest(r.Context(), &relay.Callback{
		From:              req.From,
		To:                req.To,
		Subtype:           subtype,
		ProviderMessageID: req.providerID(),
		Body:              req.Body,
		Attachments:       req.Attachment,
		Timestamp:         req.Timestamp,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, InboundMessageResponse{
		From:                req.From,
		To:                  req.To,
		Type:                subtype.String(),
		MessagingProviderID: req.providerID(),
		Body:                req.Body,
		Attachment:          msg.Attachments,
		Timestamp:           req.Timestamp,
	})
}

// handleCreateUser handles PUT /api/users.
func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || req.PhoneNumber == "" || req.EmailAddress == "" {
		a.badRequest(w, "name, phone_number and email_address are required")
		return
	}

	user := &store.User{
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		EmailAddress: req.EmailAddress,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateAddress) {
			a.writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:  "duplicate_address",
				Detail: "phone number or email address already in use",
			})
			return
		}
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, userResponse(user))
}

// handleListUsers handles GET /api/users.
func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse(u))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteUser handles DELETE /api/users/{id}. The store cascades the
// delete to the user's conversations and messages.
func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.badRequest(w, "user id must be an integer")
		return
	}

	if err := a.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error:  "unknown_user",
				Detail: fmt.Sprintf("user %d does not exist", id),
			})
			return
		}
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateContact handles PUT /api/contacts.
func (a *API) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == 0 || req.Name == "" {
		a.badRequest(w, "user_id and name are required")
		return
	}

	// The owning user must exist; contacts are never orphaned.
	if _, err := a.store.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error:  "unknown_user",
				Detail: fmt.Sprintf("user %d does not exist", req.UserID),
			})
			return
		}
		a.writeError(w, err)
		return
	}

	contact := &store.Contact{
		UserID:       req.UserID,
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		EmailAddress: req.EmailAddress,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateContact(r.Context(), contact); err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, contactResponse(contact))
}

// handleListContacts handles GET /api/contacts.
func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := a.store.ListContacts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := make([]ContactResponse, 0, len(contacts))
	for _, c := range contacts {
		resp = append(resp, contactResponse(c))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteContact handles DELETE /api/contacts/{id}. The store cascades
// the delete to the contact's conversations and messages.
func (a *API) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.badRequest(w, "contact id must be an integer")
		return
	}

	if err := a.store.DeleteContact(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error:  "unknown_contact",
				Detail: fmt.Sprintf("contact %d does not exist", id),
			})
			return
		}
		a.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /api/conversations.
func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			a.badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	convs, err := a.store.ListConversations(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, conversationResponse(c))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (a *API) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.badRequest(w, "conversation id must be an integer")
		return
	}

	if _, err := a.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error:  "conversation_not_found",
				Detail: fmt.Sprintf("conversation %d does not exist", id),
			})
			return
		}
		a.writeError(w, err)
		return
	}

	messages, err := a.store.GetConversationMessages(r.Context(), id, 0)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := ConversationMessagesResponse{
		ConversationID: id,
		Messages:       make([]MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleLoopbackReceive handles POST /api/test/messages/receive, a local
// echo provider for development: both delivery endpoints can point here.
func (a *API) handleLoopbackReceive(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Message received successfully",
		"data":    payload,
	})
}

// handleHealth handles GET /healthz.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
