// Package api provides the HTTP surface of KeepInTouch.
//
// It exposes the webhook for the WhatsApp Cloud API, the resync trigger for
// job-registration mode, the poll triggers for polling mode, directory proxy
// reads, a direct-send endpoint, and the outreach log.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/messaging"
	"github.com/keepintouch-app/keepintouch/internal/outreach"
	"github.com/keepintouch-app/keepintouch/internal/scheduler"
	"github.com/keepintouch-app/keepintouch/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on context cancellation.
	DefaultShutdownTimeout = 10 * time.Second
)

// WebhookVerifier checks the token presented in the Cloud API webhook
// verification handshake.
type WebhookVerifier interface {
	VerifyToken(token string) bool
}

// ReplyGenerator drafts an auto-reply for an inbound message.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, inbound string) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Verifier WebhookVerifier
	Replier  ReplyGenerator
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookVerifier sets the Cloud API webhook token verifier. Without one,
// webhook verification always fails.
func WithWebhookVerifier(v WebhookVerifier) Option {
	return func(o *Opts) { o.Verifier = v }
}

// WithReplyGenerator enables GenAI auto-replies to inbound webhook messages.
// Without one, inbound messages are recorded but not answered.
func WithReplyGenerator(g ReplyGenerator) Option {
	return func(o *Opts) { o.Replier = g }
}

// Server wires the orchestrator, scheduler, directory, messaging service and
// outreach log behind HTTP endpoints.
type Server struct {
	mux        *http.ServeMux
	addr       string
	msgService messaging.Service
	sched      *scheduler.Scheduler
	registrar  *outreach.Registrar
	poller     *outreach.Poller
	dir        outreach.Directory
	st         store.Store
	verifier   WebhookVerifier
	replier    ReplyGenerator
}

// NewServer creates the API server and registers all routes.
func NewServer(msgService messaging.Service, sched *scheduler.Scheduler, registrar *outreach.Registrar, poller *outreach.Poller, dir outreach.Directory, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		mux:        http.NewServeMux(),
		addr:       cfg.Addr,
		msgService: msgService,
		sched:      sched,
		registrar:  registrar,
		poller:     poller,
		dir:        dir,
		st:         st,
		verifier:   cfg.Verifier,
		replier:    cfg.Replier,
	}

	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.HandleFunc("/resync", s.resyncHandler)
	s.mux.HandleFunc("/poll/touchpoints", s.pollHandler(s.poller.SendTouchpoints))
	s.mux.HandleFunc("/poll/birthdays", s.pollHandler(s.poller.SendBirthdayMessages))
	s.mux.HandleFunc("/poll/messages", s.pollHandler(s.poller.SendScheduledMessages))
	s.mux.HandleFunc("/contacts", s.contactsHandler)
	s.mux.HandleFunc("/messages", s.messagesHandler)
	s.mux.HandleFunc("/send", s.sendHandler)
	s.mux.HandleFunc("/receipts", s.receiptsHandler)
	s.mux.HandleFunc("/responses", s.responsesHandler)
	s.mux.HandleFunc("/jobs", s.jobsHandler)

	return s
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the messaging service, the channel drains, and the HTTP server,
// blocking until the context is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return err
	}
	go s.drainReceipts()
	go s.drainResponses()

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
		if err := s.msgService.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
		slog.Info("API server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// drainReceipts persists backend delivery/read receipt events into the
// outreach log. The loop ends when the messaging service closes its channel.
func (s *Server) drainReceipts() {
	for receipt := range s.msgService.Receipts() {
		if err := s.st.AddReceipt(receipt); err != nil {
			slog.Error("Failed to store backend receipt", "error", err, "to", receipt.To)
		}
	}
}

// drainResponses persists inbound contact responses delivered over the
// messaging service's event stream (Twilio webhook, whatsmeow events).
func (s *Server) drainResponses() {
	for response := range s.msgService.Responses() {
		if err := s.st.AddResponse(response); err != nil {
			slog.Error("Failed to store inbound response", "error", err, "from", response.From)
		}
	}
}
