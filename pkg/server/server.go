package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/jobs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/session"
	"github.com/cuemby/burrow/pkg/wire"
)

// Config holds server settings shared by every accepted session.
type Config struct {
	ServerID      string
	ConnectionKey string

	StartTag byte
	EndTag   byte

	EncryptMode        bool
	CompressMode       bool
	CompressBlockBytes int

	PossibleSessionTypes []session.Type

	AcceptableTargetIDs   []string
	IgnoreTargetIDs       []string
	IgnoreSnippingTargets []string

	// SessionLimit caps confirmed sessions; 0 means unlimited. Clients
	// past the limit are confirmed with the kill code set.
	SessionLimit int

	HighPriorityCount   int
	NormalPriorityCount int
	LowPriorityCount    int

	AutoEcho         bool
	AutoEchoInterval time.Duration

	// DropConnectionTime expires sessions stuck in the waiting state.
	DropConnectionTime time.Duration

	// SpillDir, when set, swaps queued job payloads to content-addressed
	// files under this directory to bound resident memory.
	SpillDir string
}

// Notifications carries the server-level user callbacks.
type Notifications struct {
	Connection func(id, subID string, connected bool)
	Message    func(msg *container.Container)
	File       func(sourceID, sourceSubID, indicationID, targetPath string)
	Binary     func(sourceID, sourceSubID, targetID, targetSubID string, data []byte)
}

// Server accepts connections and owns the resulting session registry plus
// the job pool their work runs on.
type Server struct {
	cfg   Config
	notif Notifications

	listener net.Listener
	pool     *jobs.ThreadPool
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions []*session.Session
	running  bool

	acceptDone chan struct{}
	waitStop   chan struct{}
}

// New creates a server; call Start to begin accepting.
func New(cfg Config, notif Notifications) *Server {
	if cfg.ServerID == "" {
		cfg.ServerID = "burrow-server"
	}
	if cfg.StartTag == 0 {
		cfg.StartTag = wire.DefaultStartTag
	}
	if cfg.EndTag == 0 {
		cfg.EndTag = wire.DefaultEndTag
	}
	if cfg.DropConnectionTime <= 0 {
		cfg.DropConnectionTime = 10 * time.Second
	}
	return &Server{
		cfg:      cfg,
		notif:    notif,
		logger:   log.WithComponent("server"),
		waitStop: make(chan struct{}),
	}
}

// Start opens the listener and begins accepting sessions.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("invalid argument: server already started")
	}
	s.running = true
	s.mu.Unlock()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("io error: listen on %d: %w", port, err)
	}
	s.listener = listener

	s.pool = jobs.NewThreadPoolWithCounts(
		s.cfg.HighPriorityCount, s.cfg.NormalPriorityCount, s.cfg.LowPriorityCount)
	if s.cfg.SpillDir != "" {
		s.pool.Pool().SetSpillDir(s.cfg.SpillDir)
	}
	s.pool.Start()

	s.acceptDone = make(chan struct{})
	go s.acceptLoop()

	s.logger.Info().
		Str("server_id", s.cfg.ServerID).
		Int("port", port).
		Int("session_limit", s.cfg.SessionLimit).
		Msg("server started")
	return nil
}

// Addr returns the listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the acceptor, stops all sessions and the pool, and releases
// WaitStop.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	sessions := append([]*session.Session(nil), s.sessions...)
	s.sessions = nil
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	<-s.acceptDone

	for _, sess := range sessions {
		sess.Stop()
	}
	if s.pool != nil {
		s.pool.Stop(false)
	}

	close(s.waitStop)
	s.logger.Info().Msg("server stopped")
}

// WaitStop blocks until Stop completes.
func (s *Server) WaitStop() {
	<-s.waitStop
}

// ConfirmedSessions returns the sessions that completed the handshake.
func (s *Server) ConfirmedSessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.State() == session.StateConfirmed {
			out = append(out, sess)
		}
	}
	return out
}

// Send forwards a container to every confirmed session passing the
// session's own target and snipping filters; typeFilter, when non-empty,
// restricts delivery to those line types.
func (s *Server) Send(msg *container.Container, typeFilter ...session.Type) error {
	s.mu.Lock()
	sessions := append([]*session.Session(nil), s.sessions...)
	s.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if len(typeFilter) > 0 && !typeMatches(sess.SessionType(), typeFilter) {
			continue
		}
		if !sess.ShouldReceive(msg.TargetID()) {
			continue
		}
		if err := sess.SendContainer(msg.Copy(true)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendBinary forwards a binary payload to every matching session.
func (s *Server) SendBinary(sourceID, sourceSubID, targetID, targetSubID string, data []byte, typeFilter ...session.Type) error {
	s.mu.Lock()
	sessions := append([]*session.Session(nil), s.sessions...)
	s.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if len(typeFilter) > 0 && !typeMatches(sess.SessionType(), typeFilter) {
			continue
		}
		if !sess.ShouldReceive(targetID) {
			continue
		}
		if err := sess.SendBinary(sourceID, sourceSubID, targetID, targetSubID, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Disconnect stops and removes every session whose peer matches; an empty
// subID matches all sessions of the id.
func (s *Server) Disconnect(id, subID string) {
	s.mu.Lock()
	var keep, drop []*session.Session
	for _, sess := range s.sessions {
		if sess.PeerID() == id && (subID == "" || sess.PeerSubID() == subID) {
			drop = append(drop, sess)
		} else {
			keep = append(keep, sess)
		}
	}
	s.sessions = keep
	s.mu.Unlock()

	for _, sess := range drop {
		sess.Stop()
	}
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.addSession(conn)
	}
}

func (s *Server) addSession(conn net.Conn) {
	cfg := session.Config{
		ServerID:              s.cfg.ServerID,
		ConnectionKey:         s.cfg.ConnectionKey,
		StartTag:              s.cfg.StartTag,
		EndTag:                s.cfg.EndTag,
		EncryptMode:           s.cfg.EncryptMode,
		CompressMode:          s.cfg.CompressMode,
		CompressBlockBytes:    s.cfg.CompressBlockBytes,
		PossibleSessionTypes:  s.cfg.PossibleSessionTypes,
		AcceptableTargetIDs:   s.cfg.AcceptableTargetIDs,
		IgnoreTargetIDs:       s.cfg.IgnoreTargetIDs,
		IgnoreSnippingTargets: s.cfg.IgnoreSnippingTargets,
		AutoEcho:              s.cfg.AutoEcho,
		AutoEchoInterval:      s.cfg.AutoEchoInterval,
		SessionLimitReached: func() bool {
			return s.cfg.SessionLimit > 0 && len(s.ConfirmedSessions()) >= s.cfg.SessionLimit
		},
	}

	notif := session.Notifications{
		Connection: s.onSessionConnection,
		Message:    s.notif.Message,
		File:       s.notif.File,
		Binary:     s.notif.Binary,
	}

	sess := session.New(conn, cfg, s.pool.Pool(), notif)

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()

	sess.Start()

	// Expired and silent sessions are swept one second after each
	// accept, keeping the registry bounded by live peers.
	if err := s.pool.Push(jobs.NewJob(jobs.PriorityNormal, func() error {
		time.Sleep(time.Second)
		s.sweep()
		return nil
	})); err != nil {
		s.logger.Debug().Err(err).Msg("sweep job rejected")
	}
}

func (s *Server) onSessionConnection(sess *session.Session, connected bool) {
	if connected {
		metrics.SessionsActive.Inc()
	} else {
		metrics.SessionsActive.Dec()
		s.removeSession(sess)
	}
	if s.notif.Connection != nil {
		s.notif.Connection(sess.PeerID(), sess.PeerSubID(), connected)
	}
}

func (s *Server) removeSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.sessions {
		if cur == sess {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return
		}
	}
}

func (s *Server) sweep() {
	s.mu.Lock()
	var keep, drop []*session.Session
	for _, sess := range s.sessions {
		expired := sess.State() == session.StateExpired ||
			sess.WaitingLongerThan(s.cfg.DropConnectionTime)
		if expired {
			drop = append(drop, sess)
		} else {
			keep = append(keep, sess)
		}
	}
	s.sessions = keep
	s.mu.Unlock()

	for _, sess := range drop {
		s.logger.Info().
			Str("state", sess.State().String()).
			Msg("sweeping expired session")
		sess.Stop()
	}
}

func typeMatches(t session.Type, filter []session.Type) bool {
	for _, want := range filter {
		if want == t {
			return true
		}
	}
	return false
}
