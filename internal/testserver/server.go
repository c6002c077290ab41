// Package testserver is an in-process fake of the marketplace messaging API
// and its realtime relay, used by tests across the module. It speaks the
// same REST paths and realtime frames as the real collaborators and records
// every request so tests can assert on call counts.
package testserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/homefix/messenger/internal/model"
)

// Request is one recorded REST call.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
	Body          []byte
}

// Server is the fake API. Zero state: no contacts, no conversations, every
// bearer token accepted.
type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	userID        string // sender id assigned to sent messages
	acceptToken   string // if set, only this bearer token is accepted
	contacts      []model.Contact
	conversations map[string][]model.Message
	profiles      map[string]model.Profile
	unread        int
	failures      map[string]int           // op -> status code to answer with
	delays        map[string]time.Duration // op or "conversation/<id>" -> delay
	requests      []Request
	seq           int64

	hub *hub
}

// New starts a fake server. It is closed via t.Cleanup by the caller or Close.
func New() *Server {
	s := &Server{
		userID:        "me",
		conversations: make(map[string][]model.Message),
		profiles:      make(map[string]model.Profile),
		failures:      make(map[string]int),
		delays:        make(map[string]time.Duration),
		hub:           newHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/messages/contacts", s.handleContacts).Methods(http.MethodGet)
	r.HandleFunc("/messages/conversation/{contactId}", s.handleConversation).Methods(http.MethodGet)
	r.HandleFunc("/messages/initiate", s.handleInitiate).Methods(http.MethodPost)
	r.HandleFunc("/messages/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/messages/stats", s.handleStats).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleUpgrade)

	s.srv = httptest.NewServer(r)
	return s
}

// URL is the base URL of the REST API, e.g. http://127.0.0.1:41234.
func (s *Server) URL() string { return s.srv.URL }

// RealtimeURL is the ws:// URL of the realtime endpoint.
func (s *Server) RealtimeURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Close drops realtime connections and stops the server.
func (s *Server) Close() {
	s.hub.closeAll()
	s.srv.Close()
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// SetUserID sets the sender id stamped on messages created via send.
func (s *Server) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// AcceptOnly makes every request whose bearer token differs from token fail
// with 401. An empty token accepts everything.
func (s *Server) AcceptOnly(token string) {
	s.mu.Lock()
	s.acceptToken = token
	s.mu.Unlock()
}

// SetContacts replaces the contact list returned verbatim, duplicates kept.
func (s *Server) SetContacts(contacts ...model.Contact) {
	s.mu.Lock()
	s.contacts = append([]model.Contact(nil), contacts...)
	s.mu.Unlock()
}

// SetConversation replaces the history with contactID.
func (s *Server) SetConversation(contactID string, msgs ...model.Message) {
	s.mu.Lock()
	s.conversations[contactID] = append([]model.Message(nil), msgs...)
	s.mu.Unlock()
}

// AddProfile makes initiate succeed for p.ID.
func (s *Server) AddProfile(p model.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// SetUnread sets the unread count returned by stats.
func (s *Server) SetUnread(n int) {
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
}

// Fail makes op ("contacts", "conversation", "initiate", "send", "stats")
// answer with status until cleared with status 0.
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	if status == 0 {
		delete(s.failures, op)
	} else {
		s.failures[op] = status
	}
	s.mu.Unlock()
}

// Delay holds responses for key before answering. key is an op name or
// "conversation/<contactId>".
func (s *Server) Delay(key string, d time.Duration) {
	s.mu.Lock()
	s.delays[key] = d
	s.mu.Unlock()
}

// Requests returns a copy of every REST request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests were made to path with method.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// REST handlers
// ---------------------------------------------------------------------------

// begin records the request and applies auth, failure and delay rules. It
// returns false when the response was already written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, op, delayKey string) bool {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(r.Body, 1<<20))
		r.Body.Close()
	}
	// Re-expose the consumed body to handlers.
	r.Body = io.NopCloser(bytes.NewReader(body))

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          body,
	})
	accept := s.acceptToken
	status := s.failures[op]
	delay := s.delays[op]
	if d, ok := s.delays[delayKey]; ok && delayKey != "" {
		delay = d
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if accept != "" && r.Header.Get("Authorization") != "Bearer "+accept {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
		return false
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"detail": "injected failure"})
		return false
	}
	return true
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "contacts", "") {
		return
	}
	s.mu.Lock()
	out := append([]model.Contact{}, s.contacts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["contactId"]
	if !s.begin(w, r, "conversation", "conversation/"+id) {
		return
	}
	s.mu.Lock()
	out := append([]model.Message{}, s.conversations[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "initiate", "") {
		return
	}
	var req struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "provider_id required"})
		return
	}
	s.mu.Lock()
	p, ok := s.profiles[req.ProviderID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "provider not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider": p})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "send", "") {
		return
	}
	var req struct {
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "receiverId required"})
		return
	}

	s.mu.Lock()
	s.seq++
	msg := model.Message{
		ID:         uuid.NewString(),
		SenderID:   s.userID,
		SenderName: "Me",
		SenderRole: "homeowner",
		Content:    req.Content,
		Timestamp:  time.Now().UTC(),
		Seq:        s.seq,
	}
	s.conversations[req.ReceiverID] = append(s.conversations[req.ReceiverID], msg)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, "stats", "") {
		return
	}
	s.mu.Lock()
	n := s.unread
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, model.Stats{UnreadMessages: n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
