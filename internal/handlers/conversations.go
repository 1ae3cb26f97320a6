package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"crm-inbox/internal/cache"
	"crm-inbox/internal/conversation"
	"crm-inbox/internal/media"
	"crm-inbox/internal/models"
	"crm-inbox/internal/services"
)

// conversationSummary is a list entry; the full message list is served by GetConversation.
type conversationSummary struct {
	Client      models.Client            `json:"client"`
	LastMessage *models.Message          `json:"last_message,omitempty"`
	UnreadCount int                      `json:"unread_count"`
	Window      conversation.WindowState `json:"window"`
}

func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"messages": len(s.inbox.Coordinator().Messages()),
		})
	}
}

// ListConversations serves GET /conversations?employee=&unread=&q=&tab=.
func (s *Server) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := conversation.Filter{
			Employee: strings.TrimSpace(q.Get("employee")),
			Query:    q.Get("q"),
		}
		if v := q.Get("unread"); v != "" {
			unread, err := strconv.ParseBool(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "unread must be a boolean")
				return
			}
			filter.UnreadOnly = unread
		}

		tab := q.Get("tab")
		if tab == "" {
			tab = s.inbox.Session(r.Context(), sessionID(r)).ActiveTab
		}
		switch tab {
		case cache.TabUnread:
			filter.UnreadOnly = true
		case cache.TabMine:
			if filter.Employee == "" {
				filter.Employee = strings.TrimSpace(r.Header.Get("X-Employee"))
			}
		}

		convs, err := s.inbox.Conversations(r.Context(), sessionID(r), filter)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]conversationSummary, len(convs))
		for i, c := range convs {
			out[i] = conversationSummary{Client: c.Client, LastMessage: c.LastMessage, UnreadCount: c.UnreadCount, Window: c.Window}
		}
		respond(w, http.StatusOK, out)
	}
}

func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refParam(w, r)
		if !ok {
			return
		}
		view, err := s.inbox.Conversation(r.Context(), ref)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, view)
	}
}

func (s *Server) OpenConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refParam(w, r)
		if !ok {
			return
		}
		view, err := s.inbox.Open(r.Context(), sessionID(r), ref)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, view)
	}
}

func (s *Server) CloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refParam(w, r)
		if !ok {
			return
		}
		closed, err := s.inbox.Close(r.Context(), sessionID(r), ref)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		status := "closed"
		if !closed {
			status = "not_open"
		}
		respond(w, http.StatusOK, map[string]string{"status": status})
	}
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refParam(w, r)
		if !ok {
			return
		}
		var req services.SendRequest
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if req.SenderName == "" {
			req.SenderName = r.Header.Get("X-Employee")
		}
		res, err := s.sender.Send(r.Context(), ref, req)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, res)
	}
}

func (s *Server) SendMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := refParam(w, r)
		if !ok {
			return
		}
		// base64 inflates the payload by a third
		r.Body = http.MaxBytesReader(w, r.Body, media.MaxSize*4/3+4096)
		var req services.MediaRequest
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if req.SenderName == "" {
			req.SenderName = r.Header.Get("X-Employee")
		}
		res, err := s.sender.SendMedia(r.Context(), ref, req)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, res)
	}
}

func (s *Server) EditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := decode(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if err := s.sender.Edit(r.Context(), mux.Vars(r)["id"], body.Text); err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]string{"status": "edited"})
	}
}

// DeleteMessage serves DELETE /messages/{id}?everyone=true.
func (s *Server) DeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		everyone, _ := strconv.ParseBool(r.URL.Query().Get("everyone"))
		if err := s.sender.Delete(r.Context(), mux.Vars(r)["id"], everyone); err != nil {
			respondServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func refParam(w http.ResponseWriter, r *http.Request) (models.ClientRef, bool) {
	ref, err := models.ParseClientRef(mux.Vars(r)["ref"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return models.ClientRef{}, false
	}
	return ref, true
}
