package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/guillefidelio/reviewpilot/pkg/engine/surface"
	"github.com/guillefidelio/reviewpilot/pkg/generate"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

// TokenHeader authenticates relay connections. The relay binds to loopback
// only, but other local processes can reach loopback too.
const TokenHeader = "X-Relay-Token"

// seenLimit bounds the idempotency cache.
const seenLimit = 256

// GenerateFunc performs the privileged generation call on behalf of a
// relayed request.
type GenerateFunc func(ctx context.Context, req *generate.Request) *generate.Result

// Server is the host side of the relay: it accepts connections from
// contained surfaces, serves their generation requests through the
// privileged channel, and pushes results back.
type Server struct {
	addr    string
	token   string
	handler GenerateFunc
	log     *logging.Logger

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*serverConn]struct{}
	seen      map[string]*Envelope
	seenOrder []string
	inflight  map[string]chan struct{}
}

// serverConn is one connected contained surface.
type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	hello         Hello
	lastRequestAt time.Time
}

func (c *serverConn) write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// NewServer creates a relay server. The handler runs one generation call
// per relayed request; it must not be nil.
func NewServer(addr, token string, handler GenerateFunc, log *logging.Logger) *Server {
	return &Server{
		addr:    addr,
		token:   token,
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback-only transport; the token is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:    make(map[*serverConn]struct{}),
		seen:     make(map[string]*Envelope),
		inflight: make(map[string]chan struct{}),
	}
}

// Router builds the HTTP routes: the WebSocket endpoint and a health check.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/relay", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the relay until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket writes manage their own deadlines
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	s.log.Infof("relay listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		provided := r.Header.Get(TokenHeader)
		if provided == "" {
			provided = r.URL.Query().Get("token")
		}
		if provided != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("relay upgrade failed: %v", err)
		return
	}

	conn := &serverConn{ws: ws}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.log.Debugf("relay client connected from %s", r.RemoteAddr)
	// The request context dies when this handler returns; the hijacked
	// connection outlives it.
	go s.readLoop(context.Background(), conn)
}

func (s *Server) readLoop(ctx context.Context, conn *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.ws.Close()
	}()

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("relay client dropped: %v", err)
			}
			return
		}
		if !env.Recognized() {
			continue
		}

		switch env.Type {
		case TypeHello:
			var hello Hello
			if err := env.DecodeData(&hello); err == nil {
				conn.mu.Lock()
				conn.hello = hello
				conn.mu.Unlock()
			}

		case TypePing:
			// The handshake is idempotent; repeated pings just get
			// repeated pongs.
			if pong, err := env.Reply(TypePong, map[string]string{"status": "ok"}); err == nil {
				_ = conn.write(pong)
			}

		case TypeGenerate:
			go s.handleGenerate(ctx, conn, &env)

		case TypeResult, TypePong, TypeError:
			// Response types are client-bound; a client echoing them back
			// is a protocol error worth only a log line.
			s.log.Debugf("unexpected %s envelope from relay client", env.Type)
		}
	}
}

// handleGenerate runs one relayed generation request.
//
// Requests not tagged as relayed are refused: the host surface handles
// direct activations itself, and processing an untagged copy here would
// double-submit the same user click. A repeated request ID replays the
// cached response without re-running the privileged call; the ID is
// reserved before the handler runs, so a duplicate racing the original
// waits for its response instead of running the handler a second time.
func (s *Server) handleGenerate(ctx context.Context, conn *serverConn, env *Envelope) {
	conn.mu.Lock()
	conn.lastRequestAt = time.Now()
	conn.mu.Unlock()

	cached, running, claimed := s.claimRequest(env.RequestID)
	if cached != nil {
		s.log.Debugf("replaying cached response for request %s", env.RequestID)
		s.deliver(conn, cached)
		return
	}
	if !claimed {
		s.log.Debugf("request %s already in flight, waiting for its response", env.RequestID)
		<-running
		if cached := s.cachedResponse(env.RequestID); cached != nil {
			s.deliver(conn, cached)
		}
		return
	}
	defer s.releaseRequest(env.RequestID)

	var req generate.Request
	if err := env.DecodeData(&req); err != nil {
		s.respondError(conn, env, "malformed generation request: "+err.Error())
		return
	}

	if req.Source != generate.SourceRelayed {
		s.log.Warnf("ignoring non-relayed generation request %s (source %q)", env.RequestID, req.Source)
		s.respondError(conn, env, "host only serves relayed requests")
		return
	}

	result := s.handler(ctx, &req)
	if result == nil {
		result = &generate.Result{
			Success:    false,
			Error:      "generation handler returned nothing",
			ErrorClass: generate.ClassNetwork,
		}
	}

	resp, err := env.Reply(TypeResult, result)
	if err != nil {
		s.respondError(conn, env, "failed to encode result")
		return
	}

	s.cacheResponse(env.RequestID, resp)
	s.deliver(conn, resp)
}

func (s *Server) respondError(conn *serverConn, env *Envelope, message string) {
	resp, err := env.Reply(TypeError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.cacheResponse(env.RequestID, resp)
	_ = conn.write(resp)
}

// deliver writes the response to the requesting connection, falling back to
// the targeting heuristic when that frame is already gone.
func (s *Server) deliver(origin *serverConn, env *Envelope) {
	if err := origin.write(env); err == nil {
		return
	}

	target := s.pickTarget(origin)
	if target == nil {
		s.log.Warnf("no reachable surface for response %s, dropping", env.RequestID)
		return
	}
	if err := target.write(env); err != nil {
		s.log.Warnf("response %s delivery failed: %v", env.RequestID, err)
	}
}

// pickTarget chooses a delivery target among the remaining connections:
// the one with the most recent active request, then one whose location
// classifies as a reply surface, then one on the platform domain, then any.
func (s *Server) pickTarget(exclude *serverConn) *serverConn {
	s.mu.Lock()
	candidates := make([]*serverConn, 0, len(s.conns))
	for conn := range s.conns {
		if conn != exclude {
			candidates = append(candidates, conn)
		}
	}
	s.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}

	var active *serverConn
	var activeAt time.Time
	classifier := surface.NewClassifier()
	var bySurface, byDomain *serverConn

	for _, conn := range candidates {
		conn.mu.Lock()
		hello := conn.hello
		requestAt := conn.lastRequestAt
		conn.mu.Unlock()

		if !requestAt.IsZero() && requestAt.After(activeAt) {
			active, activeAt = conn, requestAt
		}
		if bySurface == nil && classifier.Classify(hello.FrameURL).IsCandidateSurface {
			bySurface = conn
		}
		if byDomain == nil && surface.MatchesPlatformDomain(hello.FrameURL) {
			byDomain = conn
		}
	}

	switch {
	case active != nil:
		return active
	case bySurface != nil:
		return bySurface
	case byDomain != nil:
		return byDomain
	default:
		return candidates[0]
	}
}

// claimRequest resolves a request ID against the idempotency state: a
// cached response to replay, or the in-flight marker to wait on, or a
// fresh claim (claimed true) obligating the caller to releaseRequest.
func (s *Server) claimRequest(requestID string) (cached *Envelope, running chan struct{}, claimed bool) {
	if requestID == "" {
		return nil, nil, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if env, ok := s.seen[requestID]; ok {
		return env, nil, false
	}
	if ch, ok := s.inflight[requestID]; ok {
		return nil, ch, false
	}
	s.inflight[requestID] = make(chan struct{})
	return nil, nil, true
}

// releaseRequest closes the in-flight marker. The response must already be
// cached, so waiters replay it rather than re-running the handler.
func (s *Server) releaseRequest(requestID string) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	ch := s.inflight[requestID]
	delete(s.inflight, requestID)
	s.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (s *Server) cachedResponse(requestID string) *Envelope {
	if requestID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[requestID]
}

func (s *Server) cacheResponse(requestID string, env *Envelope) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[requestID]; !exists {
		s.seenOrder = append(s.seenOrder, requestID)
	}
	s.seen[requestID] = env

	for len(s.seenOrder) > seenLimit {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
}
