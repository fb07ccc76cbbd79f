// Package api provides HTTP handlers for KeepInTouch endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/outreach"
)

// webhookHandler dispatches the Cloud API webhook: GET is the verification
// handshake, POST delivers inbound message notifications.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhookHandler(w, r)
	case http.MethodPost:
		s.notificationHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhookHandler answers the hub.challenge handshake the Cloud API
// performs when the webhook URL is registered.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.verifier == nil || !s.verifier.VerifyToken(token) {
		slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	slog.Info("Server.verifyWebhookHandler: webhook verified")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}

// notificationHandler records inbound messages and, when a reply generator is
// configured, answers them.
func (s *Server) notificationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var payload models.NotificationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.notificationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	now := time.Now().Unix()
	for _, msg := range payload.Texts() {
		if err := s.st.AddResponse(models.Response{From: msg.From, Body: msg.Text.Body, Time: now}); err != nil {
			slog.Error("Server.notificationHandler: failed to store response", "error", err, "from", msg.From)
		}
		s.autoReply(r.Context(), msg.From, msg.Text.Body)
	}

	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// autoReply drafts and sends a GenAI reply when a generator is configured.
// Failures are logged only; the webhook must still be acknowledged.
func (s *Server) autoReply(ctx context.Context, from, inbound string) {
	if s.replier == nil {
		return
	}
	reply, err := s.replier.GenerateReply(ctx, inbound)
	if err != nil {
		slog.Error("Server.autoReply: reply generation failed", "error", err, "from", from)
		return
	}
	if err := s.msgService.SendMessage(ctx, from, reply); err != nil {
		slog.Error("Server.autoReply: failed to send reply", "error", err, "to", from)
		return
	}
	slog.Info("Server.autoReply: auto-reply sent", "to", from)
}

// resyncHandler triggers a full job-registration resync (POST /resync).
func (s *Server) resyncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.registrar.Resync(r.Context()); err != nil {
		slog.Error("Server.resyncHandler: resync failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Resync failed: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Resync complete", map[string]interface{}{
		"jobs": s.sched.ListActive(),
	}))
}

// pollHandler adapts one poller pass into an HTTP trigger (POST /poll/...).
func (s *Server) pollHandler(pass func(ctx context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		workFound, err := pass(r.Context())
		switch {
		case errors.Is(err, outreach.ErrPassInProgress):
			writeJSONResponse(w, http.StatusConflict, models.Error("Pass already in progress"))
		case err != nil:
			slog.Error("Server.pollHandler: pass failed", "error", err, "path", r.URL.Path)
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Poll pass failed: "+err.Error()))
		default:
			writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"work_found": workFound}))
		}
	}
}

// contactsHandler proxies a directory contact read (GET /contacts).
func (s *Server) contactsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	contacts, err := s.dir.GetContacts(r.Context())
	if err != nil {
		slog.Error("Server.contactsHandler: fetch failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to fetch contacts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(contacts))
}

// messagesHandler proxies a directory scheduled-message read (GET /messages).
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	messages, err := s.dir.GetScheduledMessages(r.Context())
	if err != nil {
		slog.Error("Server.messagesHandler: fetch failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to fetch scheduled messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// sendHandler sends an ad-hoc message (POST /send).
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	req.To = canonicalTo

	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), req.To, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	if err := s.st.AddReceipt(models.Receipt{To: req.To, Kind: models.ReceiptKindManual, Status: models.MessageStatusSent, Time: time.Now().Unix()}); err != nil {
		slog.Error("Server.sendHandler: failed to add receipt", "error", err)
	}

	slog.Info("Server.sendHandler: message sent successfully", "to", req.To)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// receiptsHandler returns the outreach log receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Error fetching receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// responsesHandler returns all recorded inbound responses (GET /responses).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Error fetching responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// jobsHandler returns a snapshot of the active scheduler jobs (GET /jobs).
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobs := s.sched.ListActive()
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}))
}
