// Package server exposes the webhook dispatcher over HTTP.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sgtm-bot/sgtm/pkg/github"
	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var log = logger.New("server:server")

// Status reports the server lifecycle.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusDraining Status = "draining"
)

// Request headers set by GitHub on webhook deliveries.
const (
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
	SignatureHeader = "X-Hub-Signature-256"
)

// GitHub caps webhook payloads at 25 MB.
const DefaultMaxBodyBytes = 25 << 20

const defaultShutdownTimeout = 10 * time.Second

// Handler handles a webhook event.
type Handler interface {
	Handle(ctx context.Context, event github.Event) github.Response
}

// Settings configures the server.
type Settings struct {
	Addr string
	// WebhookSecret enables X-Hub-Signature-256 verification when set.
	WebhookSecret string
	MaxBodyBytes  int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout <= 0 {
		// Handling waits for the pull request lock and several API calls.
		s.WriteTimeout = 2 * time.Minute
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 2 * time.Minute
	}
	return s
}

// Server serves the webhook endpoint and a health check.
type Server struct {
	settings Settings
	handler  Handler
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    Status
	startTime time.Time
	done      chan struct{}
}

// Option customizes server construction.
type Option func(*Server)

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New prepares a server dispatching webhooks to handler.
func New(settings Settings, handler Handler, opts ...Option) *Server {
	s := &Server{
		settings: settings.withDefaults(),
		handler:  handler,
		clock:    time.Now,
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.settings.Addr, err)
	}
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = server
	s.startTime = s.clock()
	s.status = StatusReady
	s.done = make(chan struct{})

	done := s.done
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Serve error: %v", err)
		}
	}()
	log.Printf("Listening on %s", listener.Addr())
	return nil
}

// Shutdown stops accepting connections and waits for in-flight deliveries.
// The lock is released while draining so health checks keep answering.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server, done := s.server, s.done
	if server == nil {
		s.mu.Unlock()
		return nil
	}
	s.server = nil
	s.status = StatusDraining
	s.mu.Unlock()
	log.Print("Shutting down")

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-done

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	return nil
}

// Run starts the server and shuts it down once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	// Deliveries in flight finish during shutdown.
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports the lifecycle state.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

type healthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Events        []string `json:"events,omitempty"`
}

type webhookResponse struct {
	Status     int    `json:"status"`
	Message    string `json:"message,omitempty"`
	DeliveryID string `json:"delivery_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	s.mu.RLock()
	resp := healthResponse{Status: string(s.status)}
	if !s.startTime.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(s.startTime).Seconds())
	}
	s.mu.RUnlock()
	if lister, ok := s.handler.(interface{ Events() []string }); ok {
		resp.Events = lister.Events()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	deliveryID := r.Header.Get(DeliveryHeader)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	eventType := r.Header.Get(EventHeader)
	if eventType == "" {
		writeJSON(w, http.StatusBadRequest, webhookResponse{
			Status:     http.StatusBadRequest,
			Message:    "Expected a " + EventHeader + " header, but none found",
			DeliveryID: deliveryID,
		})
		return
	}

	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}

	if s.settings.WebhookSecret != "" && !validSignature(s.settings.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		log.Printf("Delivery %s: signature mismatch", deliveryID)
		writeJSON(w, http.StatusUnauthorized, webhookResponse{
			Status:     http.StatusUnauthorized,
			Message:    "invalid signature",
			DeliveryID: deliveryID,
		})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, webhookResponse{
			Status:     http.StatusBadRequest,
			Message:    "invalid JSON",
			DeliveryID: deliveryID,
		})
		return
	}

	log.Printf("Delivery %s: %s event, %d bytes", deliveryID, eventType, len(body))
	resp := s.handler.Handle(r.Context(), github.Event{Type: eventType, DeliveryID: deliveryID, Payload: body})
	writeJSON(w, resp.StatusCode, webhookResponse{
		Status:     resp.StatusCode,
		Message:    resp.Body,
		DeliveryID: deliveryID,
	})
}

// validSignature checks a "sha256=<hex>" HMAC of body.
func validSignature(secret string, body []byte, header string) bool {
	sig, found := strings.CutPrefix(header, "sha256=")
	if !found {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, signature(secret, body))
}

func signature(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(signature(secret, body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
