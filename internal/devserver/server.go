// Package devserver is the local development backend: an in-memory chat
// store behind the same REST + WebSocket surface the hosted backend
// exposes, so the client adapters and the sync engine can run end to end
// on a laptop.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/backend/ws"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/client/ratelimit"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

// Server owns the store, the hub, the limiter and the metrics of one dev
// backend instance.
type Server struct {
	store     *Store
	hub       *Hub
	limiter   *ratelimit.Limiter
	metrics   *Metrics
	log       logging.Logger
	jwtSecret []byte
}

func New(jwtSecret []byte, log logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	metrics := NewMetrics()
	return &Server{
		store:     NewStore(),
		hub:       NewHub(log.With("component", "hub"), metrics),
		limiter:   ratelimit.New(),
		metrics:   metrics,
		log:       log.With("component", "devserver"),
		jwtSecret: jwtSecret,
	}
}

// Router wires all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/messages", s.requireAuth(s.handleListMessages)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.requireAuth(s.handleSendMessage)).Methods(http.MethodPost)
	r.HandleFunc("/api/unread", s.requireAuth(s.handleUnread)).Methods(http.MethodGet)
	r.HandleFunc("/api/unread/reset", s.requireAuth(s.handleResetUnread)).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{id}", s.requireAuth(s.handleUserLookup)).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.requireAuth(s.hub.Serve))
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if rootID := q.Get("thread_root"); rootID != "" {
		writeJSON(w, http.StatusOK, emptyAsSlice(s.store.ThreadReplies(rootID)))
		return
	}

	key, err := models.ParseConversationKey(q.Get("scope"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad scope")
		return
	}
	if key.IsDM() && !key.Involves(authedUser(r)) {
		httpError(w, http.StatusForbidden, "not a participant")
		return
	}

	rows := s.store.Messages(key, q.Get("exclude_thread_replies") == "1")
	writeJSON(w, http.StatusOK, emptyAsSlice(rows))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Scope          string             `json:"scope"`
		Content        string             `json:"content"`
		ThreadParentID string             `json:"thread_parent_id"`
		CorrelationID  string             `json:"correlation_id"`
		Attachment     *models.Attachment `json:"attachment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if payload.Content == "" && payload.Attachment == nil {
		httpError(w, http.StatusBadRequest, "empty message")
		return
	}

	key, err := models.ParseConversationKey(payload.Scope)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad scope")
		return
	}
	sender := authedUser(r)
	if key.IsDM() && !key.Involves(sender) {
		httpError(w, http.StatusForbidden, "not a participant")
		return
	}

	row := models.MessageRow{
		ChannelID:      key.ChannelID,
		SenderID:       sender,
		Content:        payload.Content,
		ThreadParentID: payload.ThreadParentID,
		CorrelationID:  payload.CorrelationID,
	}
	if key.IsDM() {
		row.ReceiverID = key.DMPartner(sender)
	}
	if payload.Attachment != nil {
		row.FileURL = payload.Attachment.URL
		row.FileType = payload.Attachment.MimeType
		row.FileName = payload.Attachment.FileName
	}

	stored, touched := s.store.AddMessage(row)
	s.metrics.Messages.Inc()

	s.publishMessage(stored)
	for _, rec := range touched {
		s.publishUnread(rec)
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": stored.ID})
}

func (s *Server) publishMessage(row models.MessageRow) {
	raw, err := json.Marshal(row)
	if err != nil {
		s.log.Error(context.Background(), "encode push row failed", "error", err)
		return
	}
	s.hub.Publish(ws.Frame{
		Topic: row.Key().String(),
		Table: backend.TableMessages,
		Op:    backend.OpInsert,
		Row:   raw,
	})
}

func (s *Server) publishUnread(rec models.UnreadRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		s.log.Error(context.Background(), "encode unread row failed", "error", err)
		return
	}
	s.hub.Publish(ws.Frame{
		Topic: backend.UnreadTopic(rec.UserID),
		Table: backend.TableUnread,
		Op:    backend.OpUpdate,
		Row:   raw,
	})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, emptyAsSlice(s.store.Unread(authedUser(r))))
}

func (s *Server) handleResetUnread(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "malformed body")
		return
	}
	key, err := models.ParseConversationKey(payload.Scope)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad scope")
		return
	}
	s.store.ResetUnread(authedUser(r), key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByID(mux.Vars(r)["id"])
	if err != nil {
		httpError(w, http.StatusNotFound, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, models.Author{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		AvatarRef:   user.AvatarRef,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// emptyAsSlice keeps JSON responses as [] instead of null for nil slices.
func emptyAsSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
