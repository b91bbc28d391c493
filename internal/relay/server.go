package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/user/aegis/internal/types"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	maxFrameSize      = 1 << 20
)

// Bridge fans data frames out to other relay instances.
type Bridge interface {
	Publish(ctx context.Context, room types.RoomName, f Frame) error
}

type peer struct {
	info types.Participant
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server upgrades participants to WebSocket and relays data frames between
// the members of each room.
type Server struct {
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	sendBuffer     int
	bridge         Bridge
	logger         *slog.Logger

	mu    sync.RWMutex
	rooms map[types.RoomName]map[types.ParticipantID]*peer
}

type Option func(*Server)

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o != "" {
				s.allowedOrigins[o] = true
			}
		}
	}
}

// WithSendBuffer sets how many frames may queue for one slow participant
// before further frames to it are dropped.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		allowedOrigins: make(map[string]bool),
		sendBuffer:     defaultSendBuffer,
		logger:         slog.Default(),
		rooms:          make(map[types.RoomName]map[types.ParticipantID]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetBridge attaches a cross-instance bridge. Must be called before the
// server accepts connections.
func (s *Server) SetBridge(b Bridge) {
	s.bridge = b
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return s.allowedOrigins[origin]
}

// ServeHTTP handles GET /rooms/{room}/ws?identity=&kind=&tracks=.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := types.RoomName(r.PathValue("room"))
	if name == "" {
		http.Error(w, `{"error":"room name required"}`, http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	id := types.ParticipantID(q.Get("identity"))
	if id == "" {
		id = types.ParticipantID("guest-" + uuid.New().String()[:8])
	}
	if s.has(name, id) {
		http.Error(w, `{"error":"identity already in room"}`, http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "room", string(name), "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	p := &peer{
		info: newParticipant(id, q.Get("kind"), ParseTracks(q.Get("tracks"))),
		conn: conn,
		send: make(chan []byte, s.sendBuffer),
		done: make(chan struct{}),
	}
	if err := s.join(name, p); err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}
	s.logger.Info("participant joined", "room", string(name), "identity", string(id), "kind", p.info.Kind)

	go s.writePump(p)
	s.readPump(r.Context(), name, p)

	s.leave(name, p)
	s.logger.Info("participant left", "room", string(name), "identity", string(id))
}

func (s *Server) has(name types.RoomName, id types.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[name][id]
	return ok
}

func (s *Server) join(name types.RoomName, p *peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[name]
	if !ok {
		members = make(map[types.ParticipantID]*peer)
		s.rooms[name] = members
	}
	if _, dup := members[p.info.Identity]; dup {
		return errors.New("identity already in room")
	}
	members[p.info.Identity] = p
	s.broadcastRosterLocked(name)
	return nil
}

func (s *Server) leave(name types.RoomName, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[name]
	if members[p.info.Identity] != p {
		return
	}
	delete(members, p.info.Identity)
	close(p.done)
	if len(members) == 0 {
		delete(s.rooms, name)
		return
	}
	s.broadcastRosterLocked(name)
}

func (s *Server) readPump(ctx context.Context, name types.RoomName, p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket closed unexpectedly", "room", string(name), "identity", string(p.info.Identity), "error", err)
			}
			return
		}

		f, err := ParseFrame(data)
		if err != nil || f.Kind != KindData {
			s.logger.Debug("ignoring frame", "room", string(name), "identity", string(p.info.Identity), "error", err)
			continue
		}
		f.From = p.info.Identity
		f.Participants = nil

		s.Deliver(name, f)
		if s.bridge != nil {
			if err := s.bridge.Publish(ctx, name, f); err != nil {
				s.logger.Warn("bridge publish failed", "room", string(name), "error", err)
			}
		}
	}
}

func (s *Server) writePump(p *peer) {
	defer p.conn.Close()
	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Deliver sends a data frame to every local member of the room except
// its sender. It is also the entry point for frames arriving over a
// bridge.
func (s *Server) Deliver(name types.RoomName, f Frame) {
	data, err := f.Marshal()
	if err != nil {
		s.logger.Error("encoding frame", "room", string(name), "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.rooms[name] {
		if id == f.From {
			continue
		}
		s.enqueue(name, p, data)
	}
}

// broadcastRosterLocked sends the current member list to everyone in the
// room. Caller holds s.mu.
func (s *Server) broadcastRosterLocked(name types.RoomName) {
	roster := s.rosterLocked(name)
	data, err := Frame{Kind: KindRoster, Participants: roster}.Marshal()
	if err != nil {
		s.logger.Error("encoding roster", "room", string(name), "error", err)
		return
	}
	for _, p := range s.rooms[name] {
		s.enqueue(name, p, data)
	}
}

func (s *Server) enqueue(name types.RoomName, p *peer, data []byte) {
	select {
	case p.send <- data:
	default:
		s.logger.Warn("participant send buffer full, dropping frame", "room", string(name), "identity", string(p.info.Identity))
	}
}

func (s *Server) rosterLocked(name types.RoomName) []types.Participant {
	members := s.rooms[name]
	out := make([]types.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Roster returns the participants connected to this instance for room.
func (s *Server) Roster(name types.RoomName) []types.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked(name)
}

// Rooms returns the names of rooms with at least one local participant.
func (s *Server) Rooms() []types.RoomName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]types.RoomName, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
