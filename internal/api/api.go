// Package api provides the HTTP server for CanvassSync.
//
// It exposes endpoints that record question-response and opt-out sync
// actions, report their status, and receive Twilio inbound SMS webhooks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/twilio/twilio-go/client"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// SyncService records sync actions. extsync.Service implements it.
type SyncService interface {
	RecordQuestionResponse(ctx context.Context, questionResponseID int64, systemID string) (*models.SyncAction, error)
	RecordOptOut(ctx context.Context, optOutID, contactID int64, systemID string) (*models.SyncAction, error)
	RecordOptOutForContact(ctx context.Context, contactID int64, cell, reason string) ([]models.SyncAction, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	// TwilioAuthToken enables X-Twilio-Signature validation when set.
	TwilioAuthToken string
	// PublicBaseURL is the externally visible scheme and host Twilio signs
	// webhook URLs with, e.g. "https://sync.example.org".
	PublicBaseURL string
}

// Option is a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioAuthToken sets the Twilio auth token used to validate webhooks.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = token
	}
}

// WithPublicBaseURL sets the base URL used to validate webhook signatures.
func WithPublicBaseURL(u string) Option {
	return func(o *Opts) {
		o.PublicBaseURL = u
	}
}

// Server serves the CanvassSync HTTP API.
type Server struct {
	service       SyncService
	st            store.Store
	validator     *client.RequestValidator
	publicBaseURL string
	addr          string
	mux           *http.ServeMux
}

// NewServer creates a Server.
func NewServer(service SyncService, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		service:       service,
		st:            st,
		publicBaseURL: cfg.PublicBaseURL,
		addr:          cfg.Addr,
		mux:           http.NewServeMux(),
	}
	if cfg.TwilioAuthToken != "" {
		v := client.NewRequestValidator(cfg.TwilioAuthToken)
		s.validator = &v
	} else {
		slog.Warn("Server.NewServer: Twilio auth token not set, webhook signatures are not validated")
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("POST /sync/question-responses", s.recordQuestionResponseHandler)
	s.mux.HandleFunc("POST /sync/opt-outs", s.recordOptOutHandler)
	s.mux.HandleFunc("GET /sync/actions/{id}", s.syncActionHandler)
	s.mux.HandleFunc("GET /external-systems/{id}/sync-summary", s.syncSummaryHandler)
	s.mux.HandleFunc("POST /twilio/inbound", s.twilioInboundHandler)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "canvasssync"}))
}
