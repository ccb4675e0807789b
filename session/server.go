package session

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"
	"nhooyr.io/websocket"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/control"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/solver"
)

const (
	// DefaultHeartbeatWindow is how long a session stays active without a frame.
	DefaultHeartbeatWindow = 2 * time.Second
	// DefaultPort is the port the vehicle simulator connects to.
	DefaultPort = 4567

	maxFrameBytes   = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server accepts vehicle websocket connections and runs a Session for each.
type Server struct {
	cfg             config.PlanningConfig
	engine          solver.Engine
	logger          logging.Logger
	loopOpts        []control.Option
	heartbeatWindow time.Duration

	mu       sync.Mutex
	closed   bool
	sessions map[uuid.UUID]*Session
	conns    map[*websocket.Conn]struct{}
	httpSrv  *http.Server

	// cancelled by Close; every connection reads and plans under it.
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLoopOptions applies opts to every session's control loop.
func WithLoopOptions(opts ...control.Option) ServerOption {
	return func(s *Server) { s.loopOpts = append(s.loopOpts, opts...) }
}

// WithHeartbeatWindow sets how long a vehicle may stay silent before its session is dropped.
func WithHeartbeatWindow(window time.Duration) ServerOption {
	return func(s *Server) { s.heartbeatWindow = window }
}

// NewServer returns a server whose sessions plan with cfg and solve with engine.
func NewServer(cfg config.PlanningConfig, engine solver.Engine, logger logging.Logger, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &Server{
		cfg:             cfg,
		engine:          engine,
		logger:          logger,
		heartbeatWindow: DefaultHeartbeatWindow,
		sessions:        map[uuid.UUID]*Session{},
		conns:           map[*websocket.Conn]struct{}{},
		cancelCtx:       cancelCtx,
		cancelFunc:      cancelFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.heartbeatWindow <= 0 {
		cancelFunc()
		return nil, errors.Errorf("heartbeat window must be positive, got %s", s.heartbeatWindow)
	}
	return s, nil
}

// Handler returns the HTTP handler serving vehicle connections.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.handleIndex)
	mux.HandleFunc(pat.Get("/*"), s.handleConnection)
	return mux
}

// Sessions returns the currently connected sessions.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Start listens on addr and serves in the background until Close.
func (s *Server) Start(addr string) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("server is closed")
	}
	if s.httpSrv != nil {
		return nil, errors.New("server already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.cancelCtx },
	}
	s.httpSrv = httpSrv

	s.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("server stopped", "error", err)
		}
	})
	s.logger.Infow("listening", "address", listener.Addr().String())
	return listener.Addr(), nil
}

// Close tells connected vehicles the server is going away, stops accepting connections, and
// waits until every connection handler has returned. A closed server cannot be restarted.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpSrv := s.httpSrv
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var closers sync.WaitGroup
	for _, conn := range conns {
		closers.Add(1)
		utils.PanicCapturingGo(func() {
			defer closers.Done()
			//nolint:errcheck
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	closers.Wait()
	s.cancelFunc()

	var err error
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = httpSrv.Shutdown(ctx)
	}
	s.activeBackgroundWorkers.Wait()
	return multierr.Combine(err, s.logger.Sync())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	//nolint:errcheck
	w.Write([]byte("mpc controller\n"))
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		//nolint:errcheck
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.conns[conn] = struct{}{}
	s.activeBackgroundWorkers.Add(1)
	s.mu.Unlock()
	defer s.activeBackgroundWorkers.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sess, err := s.newSession(r.RemoteAddr)
	if err != nil {
		s.logger.Errorw("failed to create session", "error", err)
		//nolint:errcheck
		conn.Close(websocket.StatusInternalError, "failed to create session")
		return
	}
	logger := s.logger.Sublogger("session")
	logger.Infow("vehicle connected", "session", sess.ID(), "remote", r.RemoteAddr)

	defer func() {
		solveStats := sess.Loop().SolveStats()
		logger.Infow("vehicle disconnected",
			"session", sess.ID(),
			"stats", sess.Stats(),
			"solves", solveStats.Count,
			"solve_mean", solveStats.Mean,
			"solve_p95", solveStats.P95,
		)
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
	}()

	ctx := s.cancelCtx
	for {
		// a vehicle that stays silent past its heartbeat window loses the session.
		readCtx, cancel := context.WithDeadline(ctx, sess.Deadline())
		_, frame, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case ctx.Err() != nil:
				logger.Debugw("connection closed for shutdown", "session", sess.ID())
			case !sess.Active(time.Now()):
				logger.Warnw("vehicle timed out", "session", sess.ID(), "window", sess.HeartbeatWindow())
			case status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway:
				logger.Debugw("read failed", "session", sess.ID(), "error", err)
			}
			//nolint:errcheck
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		reply, err := sess.Handle(ctx, frame)
		if err != nil {
			logger.Debugw("frame dropped", "session", sess.ID(), "error", err)
			continue
		}
		if reply == nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			logger.Debugw("write failed", "session", sess.ID(), "error", err)
			return
		}
	}
}

func (s *Server) newSession(remoteAddr string) (*Session, error) {
	loop, err := control.NewLoop(s.cfg, s.engine, s.logger.Sublogger("control"), s.loopOpts...)
	if err != nil {
		return nil, err
	}
	sess := New(remoteAddr, s.heartbeatWindow, loop)
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}
