// Package httpapi exposes the open interview rooms and the scoring
// backend over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/aegis/internal/backend"
	"github.com/user/aegis/internal/hub"
	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/types"
)

const (
	defaultTranscriptLimit = 200
	maxUploadBytes         = 10 << 20
	focusConfigTimeout     = 30 * time.Second
)

// Dialer opens the session provider backing a newly opened room.
type Dialer func(ctx context.Context, name types.RoomName) (types.SessionProvider, error)

// Server is the HTTP handler for the room API.
type Server struct {
	hub     *hub.Hub
	backend *backend.Client
	dial    Dialer
	relay   http.Handler
	logger  *slog.Logger
	ctx     context.Context
	mux     *http.ServeMux
	wg      sync.WaitGroup
}

type Option func(*Server)

// WithBackend proxies resume uploads and focus configs to c.
func WithBackend(c *backend.Client) Option {
	return func(s *Server) { s.backend = c }
}

// WithDialer sets how POST /api/rooms connects a room. Without a dialer
// rooms are opened with no session provider.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithRelay mounts h at GET /rooms/{room}/ws.
func WithRelay(h http.Handler) Option {
	return func(s *Server) { s.relay = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBaseContext sets the context for work that outlives a request,
// such as posting focus configs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.ctx = ctx }
}

func NewServer(h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		hub:    h,
		logger: slog.Default(),
		ctx:    context.Background(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	s.mux.HandleFunc("POST /api/rooms", s.handleOpenRoom)
	s.mux.HandleFunc("GET /api/rooms/{room}", s.handleShowRoom)
	s.mux.HandleFunc("DELETE /api/rooms/{room}", s.handleCloseRoom)
	s.mux.HandleFunc("GET /api/rooms/{room}/transcript", s.handleTranscript)
	s.mux.HandleFunc("POST /api/rooms/{room}/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/rooms/{room}/code", s.handleCode)
	s.mux.HandleFunc("POST /api/rooms/{room}/takeover", s.handleTakeover)
	s.mux.HandleFunc("POST /api/rooms/{room}/panel", s.handlePanel)
	s.mux.HandleFunc("POST /api/upload-resume", s.handleUploadResume)
	s.mux.HandleFunc("POST /api/focus-config", s.handleFocusConfig)
	if s.relay != nil {
		s.mux.Handle("GET /rooms/{room}/ws", s.relay)
	}
	return s
}

// Wait blocks until background backend calls have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
// Requests the mux cannot route get a JSON error body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, pattern := s.mux.Handler(r); pattern == "" {
		s.mux.ServeHTTP(&errorWriter{ResponseWriter: w}, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// errorWriter replaces the mux's plain-text 404 and 405 bodies.
type errorWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (e *errorWriter) WriteHeader(code int) {
	e.code = code
	e.Header().Set("Content-Type", "application/json")
	e.ResponseWriter.WriteHeader(code)
}

func (e *errorWriter) Write(b []byte) (int, error) {
	if e.code < 400 {
		return e.ResponseWriter.Write(b)
	}
	if !e.written {
		e.written = true
		json.NewEncoder(e.ResponseWriter).Encode(errorBody{Error: strings.ToLower(http.StatusText(e.code))})
	}
	return len(b), nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type roomSummary struct {
	Room       types.RoomName        `json:"room"`
	Mode       room.ControlMode      `json:"mode"`
	Panel      room.Panel            `json:"panel"`
	Entries    int                   `json:"entries"`
	Connection types.ConnectionState `json:"connection"`
}

func summarize(v *room.View) roomSummary {
	sum := roomSummary{
		Room:       v.Name(),
		Mode:       v.Mode(),
		Panel:      v.Panel(),
		Entries:    v.Len(),
		Connection: types.StateDisconnected,
	}
	if p := v.Provider(); p != nil {
		sum.Connection = p.State()
	}
	return sum
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	views := s.hub.List()
	result := make([]roomSummary, 0, len(views))
	for _, v := range views {
		result = append(result, summarize(v))
	}
	writeJSON(w, http.StatusOK, result)
}

type openRoomRequest struct {
	Room string `json:"room"`
}

func validRoomName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/?#") && strings.TrimSpace(name) == name
}

func (s *Server) handleOpenRoom(w http.ResponseWriter, r *http.Request) {
	var req openRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !validRoomName(req.Room) {
		writeError(w, http.StatusBadRequest, "valid room name is required")
		return
	}
	name := types.RoomName(req.Room)
	if _, ok := s.hub.Get(name); ok {
		writeError(w, http.StatusConflict, "room already open")
		return
	}

	var provider types.SessionProvider
	if s.dial != nil {
		p, err := s.dial(r.Context(), name)
		if err != nil {
			s.logger.Error("dial room failed", "room", req.Room, "error", err)
			writeError(w, http.StatusInternalServerError, "could not connect room")
			return
		}
		provider = p
	}

	view, err := s.hub.Open(name, provider)
	if err != nil {
		if provider != nil {
			provider.Close()
		}
		switch {
		case errors.Is(err, hub.ErrRoomExists):
			writeError(w, http.StatusConflict, "room already open")
		case errors.Is(err, hub.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "hub stopped")
		default:
			s.logger.Error("open room failed", "room", req.Room, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, summarize(view))
}

// view resolves the {room} path value, writing a 404 when it is not open.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*room.View, bool) {
	v, ok := s.hub.Get(types.RoomName(r.PathValue("room")))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return v, true
}

func (s *Server) handleShowRoom(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Close(types.RoomName(r.PathValue("room")))
	if errors.Is(err, hub.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.logger.Error("close room failed", "room", r.PathValue("room"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	limit := defaultTranscriptLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries := v.Transcript()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, ok := v.SendChat(req.Text)
	if !ok {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type codeRequest struct {
	Code string `json:"code"`
}

type codeResponse struct {
	Entry     types.TranscriptEntry `json:"entry"`
	Published bool                  `json:"published"`
	Error     string                `json:"error,omitempty"`
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, err := v.SubmitCode(r.Context(), req.Code)
	if errors.Is(err, room.ErrEmptySubmission) {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	// The submission is recorded even when it could not be published.
	resp := codeResponse{Entry: entry, Published: err == nil}
	if err != nil {
		s.logger.Warn("code submission not published", "room", string(v.Name()), "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type takeoverResponse struct {
	Mode    room.ControlMode `json:"mode"`
	Engaged bool             `json:"engaged"`
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	engaged, err := v.EngageTakeover(r.Context())
	if err != nil {
		s.logger.Warn("takeover not published", "room", string(v.Name()), "error", err)
	}
	writeJSON(w, http.StatusOK, takeoverResponse{Mode: v.Mode(), Engaged: engaged})
}

type panelRequest struct {
	Panel string `json:"panel"`
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := room.ParsePanel(req.Panel)
	if err != nil || p == room.PanelNone {
		writeError(w, http.StatusBadRequest, "panel must be terminal or notepad")
		return
	}
	writeJSON(w, http.StatusOK, map[string]room.Panel{"panel": v.TogglePanel(p)})
}

func (s *Server) handleUploadResume(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field file is required")
		return
	}
	defer file.Close()

	profile := s.backend.UploadResumeOrFallback(r.Context(), header.Filename, file)
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleFocusConfig(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}
	var fc backend.FocusConfig
	if err := json.NewDecoder(r.Body).Decode(&fc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if fc.FocusTopics == nil {
		fc.FocusTopics = []string{}
	}

	// The backend call runs in the background; failures are only logged.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, focusConfigTimeout)
		defer cancel()
		if err := s.backend.SendFocusConfig(ctx, fc); err != nil {
			s.logger.Warn("focus config not delivered", "candidate", fc.CandidateID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
