// Package handlers exposes the inbox over a JSON HTTP API.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"crm-inbox/internal/events"
	"crm-inbox/internal/models"
	"crm-inbox/internal/services"
)

// EventStatusSource reports on the event dispatcher.
type EventStatusSource interface {
	Status() events.Status
	EventStatus(id string) (events.Event, bool)
	ForceRetry(id string) bool
	RetryPending()
}

// AuditReader reads the local audit database.
type AuditReader interface {
	ResolutionIssues(ctx context.Context, limit int) ([]models.ResolutionIssue, error)
	IssueCounts(ctx context.Context) (unresolved, ambiguous int64, err error)
	SendAttempts(ctx context.Context, clientRef string, limit int) ([]models.SendAttempt, error)
}

// Server routes API requests to the services.
type Server struct {
	router *mux.Router
	inbox  *services.InboxService
	sender *services.SendService
	events EventStatusSource
	audit  AuditReader
}

// NewServer builds the router. events and audit may be nil; their endpoints then answer 503.
func NewServer(inbox *services.InboxService, sender *services.SendService, eventStatus EventStatusSource, audit AuditReader) (*Server, error) {
	if inbox == nil {
		return nil, fmt.Errorf("inbox service cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("send service cannot be nil")
	}
	s := &Server{
		router: mux.NewRouter(),
		inbox:  inbox,
		sender: sender,
		events: eventStatus,
		audit:  audit,
	}
	s.routes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return alice.New(recoverer, requestLogger, sessionContext).Then(s.router)
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.Health()).Methods(http.MethodGet)

	r.HandleFunc("/conversations", s.ListConversations()).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{ref}", s.GetConversation()).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{ref}/open", s.OpenConversation()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{ref}/close", s.CloseConversation()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{ref}/messages", s.SendMessage()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{ref}/media", s.SendMedia()).Methods(http.MethodPost)

	r.HandleFunc("/messages/{id}", s.EditMessage()).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", s.DeleteMessage()).Methods(http.MethodDelete)

	r.HandleFunc("/session", s.GetSession()).Methods(http.MethodGet)
	r.HandleFunc("/session/tab", s.SetTab()).Methods(http.MethodPut)

	r.HandleFunc("/stats/resolution", s.ResolutionStats()).Methods(http.MethodGet)
	r.HandleFunc("/audit/issues", s.ResolutionIssues()).Methods(http.MethodGet)
	r.HandleFunc("/audit/sends", s.SendAttempts()).Methods(http.MethodGet)

	r.HandleFunc("/events/status", s.EventsStatus()).Methods(http.MethodGet)
	r.HandleFunc("/events/retry", s.ForceRetry()).Methods(http.MethodPost)
	r.HandleFunc("/events/{eventId}", s.EventStatus()).Methods(http.MethodGet)
	r.HandleFunc("/events/{eventId}/retry", s.ForceRetry()).Methods(http.MethodPost)
}
