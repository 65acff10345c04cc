// Package httpapi exposes the dispatch server's wire protocol: JSON
// envelopes over plain HTTP. Every response body is one envelope with a
// SUCCESS or FAILURE status, a machine-readable code, and call-specific
// data; HTTP status codes carry no protocol meaning beyond reachability.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fieldline/casesync/internal/logging"
	"github.com/fieldline/casesync/internal/server/models"
)

// UserService is the authentication surface the API needs.
type UserService interface {
	Login(ctx context.Context, username, password string) (string, error)
	VerifyToken(token string) (string, error)
}

// CaseService is the intake surface the API needs.
type CaseService interface {
	AcceptText(ctx context.Context, guid, username string, payload []byte) error
	AcceptChunk(ctx context.Context, guid, elementID string, offset, total int64, data []byte) (int64, error)
	Notifications(ctx context.Context, cursor string) ([]*models.NotificationPart, string, error)
}

// Server serves the dispatch API on one listener.
type Server struct {
	httpServer *http.Server
	users      UserService
	cases      CaseService
	logger     logging.Logger
}

// NewServer wires the routes and the underlying http.Server.
func NewServer(addr string, users UserService, cases CaseService, logger logging.Logger) *Server {
	s := &Server{
		users:  users,
		cases:  cases,
		logger: logger.With("component", "httpapi"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// API through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/session", s.handleSession)
	mux.Handle("POST /api/v1/cases/{guid}", s.requireSession(s.handleCaseText))
	mux.Handle("POST /api/v1/cases/{guid}/attachments/{element}/chunks", s.requireSession(s.handleChunk))
	mux.Handle("GET /api/v1/notifications", s.requireSession(s.handleNotifications))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
