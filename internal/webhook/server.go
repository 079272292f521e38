package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// DefaultSignatureHeader is the header carrying the HMAC signature.
const DefaultSignatureHeader = "X-Frappe-Webhook-Signature"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxBodyBytes      = 1 << 20
)

// Config holds the intake server settings.
type Config struct {
	// Secret keys the HMAC-SHA256 signature check. Empty disables
	// verification entirely, for development setups only.
	Secret string
	// SignatureHeader overrides the default signature header name.
	SignatureHeader string
}

// Server is the webhook intake. It verifies, parses, and enqueues; the
// response never depends on downstream sync outcome.
type Server struct {
	store  sync.Store
	cfg    Config
	logger *slog.Logger
}

// NewServer wires an intake server against the state store.
func NewServer(store sync.Store, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}

	if cfg.Secret == "" {
		logger.Warn("webhook signature verification DISABLED, accepting unsigned requests")
	}

	return &Server{store: store, cfg: cfg, logger: logger}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/cloud", s.handleWebhook(sync.SourceCloud))
	r.Post("/webhook/local", s.handleWebhook(sync.SourceLocal))
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	return r
}

// Run serves the intake until the context is canceled, then drains with a
// bounded graceful shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("webhook intake listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown: %w", err)
	}

	s.logger.Info("webhook intake stopped")

	return nil
}

// verifySignature checks the lowercase hex HMAC-SHA256 of the raw body.
// Constant-time comparison; an empty secret accepts everything.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if s.cfg.Secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) handleWebhook(source sync.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if !s.verifySignature(body, r.Header.Get(s.cfg.SignatureHeader)) {
			s.logger.Warn("rejected webhook with invalid signature",
				slog.String("source", string(source)),
				slog.String("remote", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "invalid signature")

			return
		}

		event, err := ParseEvent(source, body, r.Header.Get("Content-Type"))
		if err != nil {
			if errors.Is(err, ErrEmptyPayload) || errors.Is(err, ErrMissingFields) {
				writeError(w, http.StatusBadRequest, err.Error())
			} else {
				writeError(w, http.StatusBadRequest, "malformed payload")
			}

			return
		}

		id, err := s.store.Enqueue(r.Context(), &sync.QueueItem{
			Source:  event.Source,
			Doctype: event.Doctype,
			Docname: event.Docname,
			Action:  event.Action,
			Payload: event.Raw,
		})
		if err != nil {
			s.logger.Error("enqueueing webhook event", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "enqueue failed")

			return
		}

		s.logger.Info("webhook queued",
			slog.String("source", string(source)),
			slog.String("doctype", event.Doctype),
			slog.String("docname", event.Docname),
			slog.String("action", event.Action),
			slog.Int64("id", id),
		)

		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": id})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "erpsync-webhook",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, processing, err := s.store.QueueCounts(r.Context())
	if err != nil {
		s.logger.Error("reading queue counts", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "queue counts unavailable")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "running",
		"pending":    pending,
		"processing": processing,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}
