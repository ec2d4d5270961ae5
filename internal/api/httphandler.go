package api

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"tether/internal/types"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	LoginPath   = "/api/users/login/"
	RefreshPath = "/api/users/refresh-token/"
	MePath      = "/api/users/me/"
	EchoPath    = "/api/echo/"
	NotifyPath  = "/api/notify/"
	WSPath      = "/ws/notifications"

	detailInvalidToken = "Given token not valid for any token type"
)

// Options configures the mock backend.
type Options struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefresh returns a new refresh token on every refresh.
	RotateRefresh bool
	// Users maps username to password.
	Users map[string]string
}

// Server is a small backend speaking the same protocol as the real one:
// JWT bearer auth with a refresh endpoint, and an event channel that
// broadcasts every envelope it receives.
type Server struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	rotate     bool
	users      map[string]string

	clockMu sync.RWMutex
	clock   func() time.Time

	refreshes atomic.Int32

	upgrader websocket.Upgrader
	peersMu  sync.Mutex
	peers    map[*peer]struct{}
}

type peer struct {
	conn    *websocket.Conn
	user    string
	writeMu sync.Mutex
}

func NewServer(o Options) *Server {
	if len(o.Secret) == 0 {
		o.Secret = []byte("tether-mock-secret")
	}
	if o.AccessTTL == 0 {
		o.AccessTTL = 5 * time.Minute
	}
	if o.RefreshTTL == 0 {
		o.RefreshTTL = 24 * time.Hour
	}
	if o.Users == nil {
		o.Users = map[string]string{"demo": "demo"}
	}
	return &Server{
		secret:     o.Secret,
		accessTTL:  o.AccessTTL,
		refreshTTL: o.RefreshTTL,
		rotate:     o.RotateRefresh,
		users:      o.Users,
		clock:      time.Now,
		peers:      map[*peer]struct{}{},
	}
}

func (s *Server) now() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.clock()
}

// SetNow replaces the clock used to issue and verify tokens.
func (s *Server) SetNow(f func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = f
}

// Refreshes is the number of successful refresh calls served.
func (s *Server) Refreshes() int { return int(s.refreshes.Load()) }

// Peers is the number of connected event channel clients.
func (s *Server) Peers() int {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	return len(s.peers)
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, s.handleLogin)
	mux.HandleFunc(RefreshPath, s.handleRefresh)
	mux.HandleFunc(MePath, s.authenticated(s.handleMe))
	mux.HandleFunc(EchoPath, s.authenticated(s.handleEcho))
	mux.HandleFunc(NotifyPath, s.authenticated(s.handleNotify))
	mux.HandleFunc(WSPath, s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Login issues a credential pair directly, bypassing HTTP.
func (s *Server) Login(user string) (types.Credential, error) {
	access, refresh, err := s.issuePair(user)
	if err != nil {
		return types.Credential{}, err
	}
	return types.Credential{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &in); err != nil {
		_ = writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"invalid json"}})
		return
	}
	if in.Username == "" || in.Password == "" {
		_ = writeJSON(w, http.StatusBadRequest, map[string]any{"username": []string{"This field is required."}})
		return
	}
	if pw, ok := s.users[in.Username]; !ok || pw != in.Password {
		_ = writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh, err := s.issuePair(in.Username)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := readJSON(r, &in); err != nil || in.Refresh == "" {
		_ = writeJSON(w, http.StatusBadRequest, map[string]any{"refresh": []string{"This field is required."}})
		return
	}
	c, err := s.verify(in.Refresh, tokenTypeRefresh)
	if err != nil {
		_ = writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	access, err := s.issue(c.Subject, tokenTypeAccess, s.accessTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	out := map[string]any{"access": access}
	if s.rotate {
		refresh, err := s.issue(c.Subject, tokenTypeRefresh, s.refreshTTL)
		if err != nil {
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}
		out["refresh"] = refresh
	}
	s.refreshes.Add(1)
	log.WithField("user", c.Subject).Debug("access token refreshed")
	_ = writeJSON(w, http.StatusOK, out)
}

type userHandler func(w http.ResponseWriter, r *http.Request, user string)

func (s *Server) authenticated(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get(types.AuthHeaderName)
		if !strings.HasPrefix(h, types.BearerPrefix) {
			_ = writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
			return
		}
		c, err := s.verify(strings.TrimPrefix(h, types.BearerPrefix), tokenTypeAccess)
		if err != nil {
			_ = writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": detailInvalidToken, "code": "token_not_valid"})
			return
		}
		next(w, r, c.Subject)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user string) {
	_ = writeJSON(w, http.StatusOK, map[string]any{"username": user})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request, user string) {
	var body any
	if r.ContentLength != 0 {
		if err := readJSON(r, &body); err != nil {
			_ = writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json"})
			return
		}
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{"user": user, "method": r.Method, "body": body})
}

// handleNotify broadcasts the posted envelope to every channel client.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request, user string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var env types.Envelope
	if err := readJSON(r, &env); err != nil || env.Type == "" {
		_ = writeJSON(w, http.StatusBadRequest, map[string]any{"type": []string{"This field is required."}})
		return
	}
	n := s.Broadcast(env)
	_ = writeJSON(w, http.StatusAccepted, map[string]any{"delivered": n})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := s.verify(r.URL.Query().Get(types.TokenQueryParam), tokenTypeAccess)
	if err != nil {
		_ = writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": detailInvalidToken})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	p := &peer{conn: conn, user: c.Subject}
	s.peersMu.Lock()
	s.peers[p] = struct{}{}
	s.peersMu.Unlock()
	log.WithField("user", p.user).Debug("event channel client connected")

	defer func() {
		s.peersMu.Lock()
		delete(s.peers, p)
		s.peersMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			continue
		}
		if env.Type == "ping" {
			_ = p.send(types.Envelope{Type: "pong", Payload: env.Payload})
			continue
		}
		s.Broadcast(env)
	}
}

func (p *peer) send(env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcast sends env to every connected client and returns how many
// received it.
func (s *Server) Broadcast(env types.Envelope) int {
	s.peersMu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMu.Unlock()

	n := 0
	for _, p := range peers {
		if err := p.send(env); err == nil {
			n++
		}
	}
	return n
}

// DropAll closes every channel connection without a close frame, as a
// network failure would.
func (s *Server) DropAll() {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	for p := range s.peers {
		_ = p.conn.Close()
	}
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Body.Close()
	}()
	return json.Unmarshal(body, v)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set(types.ContentTypeHName, types.ContentTypeJSON)
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
