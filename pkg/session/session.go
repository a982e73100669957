package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/codec"
	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/fileio"
	"github.com/cuemby/burrow/pkg/jobs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/wire"
)

// ErrNotConfirmed reports a send attempted before the handshake completed.
var ErrNotConfirmed = errors.New("handshake rejected: session not confirmed")

// Notifications carries the user callbacks a session fires. Callbacks
// driven by received frames run on job pool workers; Connection with
// connected=false runs on the reader goroutine as its read loop ends.
type Notifications struct {
	// Connection fires with connected=true after a successful handshake
	// and connected=false once when the session ends.
	Connection func(s *Session, connected bool)
	// Message receives application packet-mode containers.
	Message func(msg *container.Container)
	// File fires after a received file-mode payload has been saved.
	File func(sourceID, sourceSubID, indicationID, targetPath string)
	// Binary receives binary-mode payloads.
	Binary func(sourceID, sourceSubID, targetID, targetSubID string, data []byte)
}

// Config holds the per-session settings handed down by the server.
type Config struct {
	ServerID      string
	ServerSubID   string
	ConnectionKey string

	StartTag byte
	EndTag   byte

	EncryptMode        bool
	CompressMode       bool
	CompressBlockBytes int

	PossibleSessionTypes []Type

	AcceptableTargetIDs   []string
	IgnoreTargetIDs       []string
	IgnoreSnippingTargets []string

	AutoEcho         bool
	AutoEchoInterval time.Duration

	// SessionLimitReached, when set, is consulted during the handshake;
	// a true result confirms the client but with the kill code set.
	SessionLimitReached func() bool
}

// Session is the server-side view of one accepted connection: it drives
// the framing state machine, the handshake, and the routing of received
// payloads to the user's notifications.
type Session struct {
	cfg  Config
	conn net.Conn

	reader   *wire.Reader
	writer   *wire.Writer
	pipeline *wire.Pipeline
	pool     *jobs.Pool

	notif  Notifications
	logger zerolog.Logger

	mu              sync.Mutex
	state           State
	sessionType     Type
	peerID          string
	peerSubID       string
	snippingTargets []string
	createdAt       time.Time
	lastEcho        time.Time

	echoStop chan struct{}
	stopOnce sync.Once
}

// New wraps an accepted connection. The session does not read until Start.
func New(conn net.Conn, cfg Config, pool *jobs.Pool, notif Notifications) *Session {
	if cfg.StartTag == 0 {
		cfg.StartTag = wire.DefaultStartTag
	}
	if cfg.EndTag == 0 {
		cfg.EndTag = wire.DefaultEndTag
	}
	if cfg.CompressBlockBytes <= 0 {
		cfg.CompressBlockBytes = codec.DefaultBlockBytes
	}
	if cfg.AutoEchoInterval <= 0 {
		cfg.AutoEchoInterval = 30 * time.Second
	}

	s := &Session{
		cfg:      cfg,
		conn:     conn,
		writer:   wire.NewWriter(conn, cfg.StartTag, cfg.EndTag),
		pipeline: &wire.Pipeline{BlockBytes: cfg.CompressBlockBytes},
		pool:     pool,
		notif:    notif,
		logger:   log.WithComponent("session"),
		state:    StateWaiting,
		echoStop: make(chan struct{}),
	}
	s.reader = wire.NewReader(conn, cfg.StartTag, cfg.EndTag)
	s.reader.OnFrame = s.onFrame
	s.reader.OnDisconnect = s.onDisconnect
	return s
}

// Start begins reading frames; the handshake is driven by the peer's
// request_connection.
func (s *Session) Start() {
	s.mu.Lock()
	s.createdAt = time.Now()
	s.mu.Unlock()
	go s.reader.Run()
}

// Stop tears the session down and closes the connection.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.echoStop)
		s.conn.Close()
	})
}

// State returns the handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the confirmed peer identifier.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// PeerSubID returns the server-assigned peer sub-identifier.
func (s *Session) PeerSubID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerSubID
}

// SessionType returns the negotiated line type.
func (s *Session) SessionType() Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionType
}

// WaitingLongerThan reports whether the session has been stuck in the
// waiting state past the given age; the server sweep uses it to expire
// silent connections.
func (s *Session) WaitingLongerThan(age time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateWaiting && !s.createdAt.IsZero() && time.Since(s.createdAt) > age
}

// ShouldReceive applies the session's target and snipping filters to a
// broadcast addressed to targetID (empty means everyone).
func (s *Session) ShouldReceive(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConfirmed {
		return false
	}
	if len(s.cfg.AcceptableTargetIDs) > 0 && !containsString(s.cfg.AcceptableTargetIDs, s.peerID) {
		return false
	}
	if containsString(s.cfg.IgnoreTargetIDs, s.peerID) {
		return false
	}
	if targetID == "" || targetID == s.peerID {
		return true
	}
	return containsString(s.snippingTargets, targetID)
}

// SendContainer serializes and sends a packet-mode container.
func (s *Session) SendContainer(msg *container.Container) error {
	if s.State() != StateConfirmed {
		return ErrNotConfirmed
	}
	if msg.SourceID() == "" {
		msg.SetSource(s.cfg.ServerID, s.cfg.ServerSubID)
	}
	return s.sendPacket(msg)
}

// SendBinary sends an addressed binary-mode payload.
func (s *Session) SendBinary(sourceID, sourceSubID, targetID, targetSubID string, data []byte) error {
	if s.State() != StateConfirmed {
		return ErrNotConfirmed
	}
	var payload []byte
	payload = wire.AppendStringSegment(payload, sourceID)
	payload = wire.AppendStringSegment(payload, sourceSubID)
	payload = wire.AppendStringSegment(payload, targetID)
	payload = wire.AppendStringSegment(payload, targetSubID)
	payload = wire.AppendSegment(payload, data)

	out, err := s.pipeline.Outbound(payload)
	if err != nil {
		return err
	}
	return s.writer.Send(wire.ModeBinary, out)
}

// Echo sends a liveness probe.
func (s *Session) Echo() error {
	if s.State() != StateConfirmed {
		return ErrNotConfirmed
	}
	echo := BuildEcho(false)
	echo.SetSource(s.cfg.ServerID, s.cfg.ServerSubID)
	echo.SetTarget(s.PeerID(), s.PeerSubID())
	return s.sendPacket(echo)
}

func (s *Session) sendPacket(msg *container.Container) error {
	out, err := s.pipeline.Outbound(msg.SerializeBytes())
	if err != nil {
		return err
	}
	return s.writer.Send(wire.ModePacket, out)
}

// sendRaw bypasses the pipeline; handshake traffic is always plaintext.
func (s *Session) sendRaw(msg *container.Container) error {
	return s.writer.Send(wire.ModePacket, msg.SerializeBytes())
}

func (s *Session) onFrame(mode wire.Mode, payload []byte) {
	// The reader goroutine must never block on user code; decode and
	// dispatch on the job pool.
	data := payload
	var job *jobs.Job
	switch mode {
	case wire.ModePacket:
		job = jobs.NewDataJob(jobs.PriorityHigh, data, s.handlePacket)
	case wire.ModeFile:
		job = jobs.NewDataJob(jobs.PriorityLow, data, s.handleFile)
	case wire.ModeBinary:
		job = jobs.NewDataJob(jobs.PriorityHigh, data, s.handleBinary)
	default:
		return
	}
	if s.pool == nil {
		if err := job.Work(jobs.PriorityNormal); err != nil {
			s.logger.Warn().Err(err).Str("mode", mode.String()).Msg("frame handler failed")
		}
		return
	}
	if err := s.pool.Push(job); err != nil {
		s.logger.Warn().Err(err).Str("mode", mode.String()).Msg("dropping frame, pool rejected job")
	}
}

func (s *Session) handlePacket(data []byte) error {
	// Handshake traffic arrives before the pipeline is negotiated and is
	// always plaintext; everything after the confirm goes through it.
	if s.State() == StateConfirmed {
		decoded, err := s.pipeline.Inbound(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping packet, receive pipeline failed")
			return nil
		}
		data = decoded
	}

	msg, err := container.ParseBytes(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping unparseable packet")
		return nil
	}

	switch msg.MessageType() {
	case MsgRequestConnection:
		s.confirmHandshake(msg)
	case MsgEchoTest:
		s.echoMessage(msg)
	case MsgRequestFiles:
		s.requestFiles(msg)
	case MsgConfirmConnection, MsgTransferCondition:
		s.logger.Debug().Str("message_type", msg.MessageType()).Msg("ignoring unexpected control message")
	default:
		if s.State() != StateConfirmed {
			s.logger.Warn().Str("message_type", msg.MessageType()).Msg("dropping message before handshake")
			return nil
		}
		if s.notif.Message != nil {
			s.notif.Message(msg)
		}
	}
	return nil
}

func (s *Session) confirmHandshake(msg *container.Container) {
	if s.State() != StateWaiting {
		s.logger.Debug().Msg("ignoring duplicate connection request")
		return
	}

	req := ParseConnectionRequest(msg)

	if req.ConnectionKey != s.cfg.ConnectionKey || !s.typeAllowed(req.SessionType) {
		confirm := ConnectionConfirm{
			Accepted:      false,
			SourceID:      s.cfg.ServerID,
			SourceSubID:   s.cfg.ServerSubID,
			TargetID:      req.SourceID,
			ConnectionKey: req.ConnectionKey,
		}
		if err := s.sendRaw(BuildConnectionConfirm(confirm)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send rejection")
		}
		s.mu.Lock()
		s.state = StateExpired
		s.mu.Unlock()
		s.logger.Info().
			Str("peer", req.SourceID).
			Str("session_type", req.SessionType.String()).
			Msg("handshake rejected")
		return
	}

	peerID := req.SourceID
	if peerID == "" {
		peerID = "unknown-" + uuid.New().String()
	}
	peerSubID := uuid.New().String()

	kill := s.cfg.SessionLimitReached != nil && s.cfg.SessionLimitReached()
	encrypt := s.cfg.EncryptMode && req.EncryptMode
	compress := s.cfg.CompressMode && req.CompressMode

	confirm := ConnectionConfirm{
		Accepted:      true,
		KillCode:      kill,
		SourceID:      s.cfg.ServerID,
		SourceSubID:   s.cfg.ServerSubID,
		TargetID:      peerID,
		TargetSubID:   peerSubID,
		ConnectionKey: req.ConnectionKey,
		EncryptMode:   encrypt,
		CompressMode:  compress,
	}

	var key, iv []byte
	if encrypt {
		var err error
		key, iv, err = codec.GenerateKeyIV()
		if err != nil {
			s.logger.Error().Err(err).Msg("key generation failed, disabling encryption")
			encrypt = false
			confirm.EncryptMode = false
		} else {
			confirm.Key = codec.ToBase64(key)
			confirm.IV = codec.ToBase64(iv)
		}
	}

	var snipping []string
	for _, target := range req.SnippingTargets {
		if !containsString(s.cfg.IgnoreSnippingTargets, target) {
			snipping = append(snipping, target)
		}
	}
	confirm.SnippingTargets = snipping

	// The peer may answer the confirm with pipelined traffic straight
	// away, so the negotiated state has to be in place before the
	// confirm leaves.
	s.mu.Lock()
	s.state = StateConfirmed
	s.peerID = peerID
	s.peerSubID = peerSubID
	s.sessionType = req.SessionType
	s.snippingTargets = snipping
	s.lastEcho = time.Now()
	s.pipeline.CompressEnabled = compress
	s.pipeline.EncryptEnabled = encrypt
	s.pipeline.Key = key
	s.pipeline.IV = iv
	s.mu.Unlock()

	if err := s.sendRaw(BuildConnectionConfirm(confirm)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send confirmation")
		s.mu.Lock()
		s.state = StateExpired
		s.mu.Unlock()
		return
	}

	s.logger.Info().
		Str("peer", peerID).
		Str("peer_sub", peerSubID).
		Str("session_type", req.SessionType.String()).
		Bool("compress", compress).
		Bool("encrypt", encrypt).
		Bool("kill_code", kill).
		Msg("session confirmed")

	if s.notif.Connection != nil {
		s.notif.Connection(s, true)
	}
	if s.cfg.AutoEcho && !kill {
		go s.autoEcho()
	}
}

func (s *Session) typeAllowed(t Type) bool {
	if len(s.cfg.PossibleSessionTypes) == 0 {
		return true
	}
	for _, allowed := range s.cfg.PossibleSessionTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

func (s *Session) echoMessage(msg *container.Container) {
	if s.State() != StateConfirmed {
		return
	}
	if v := msg.Value("response"); v != nil && v.ToBool() {
		s.mu.Lock()
		s.lastEcho = time.Now()
		s.mu.Unlock()
		return
	}
	reply := BuildEcho(true)
	reply.SetSource(s.cfg.ServerID, s.cfg.ServerSubID)
	reply.SetTarget(msg.SourceID(), msg.SourceSubID())
	if err := s.sendPacket(reply); err != nil {
		s.logger.Debug().Err(err).Msg("echo reply failed")
	}
}

func (s *Session) autoEcho() {
	ticker := time.NewTicker(s.cfg.AutoEchoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Echo(); err != nil {
				return
			}
		case <-s.echoStop:
			return
		}
	}
}

func (s *Session) requestFiles(msg *container.Container) {
	if s.State() != StateConfirmed {
		return
	}
	entries, indicationID := ParseRequestFiles(msg)
	if len(entries) == 0 {
		return
	}

	total := int32(len(entries))
	var completed, failed atomic.Int32
	for _, entry := range entries {
		entry := entry
		job := jobs.NewJob(jobs.PriorityLow, func() error {
			err := s.sendFile(indicationID, entry)
			if err != nil {
				failed.Add(1)
			} else {
				completed.Add(1)
			}
			doneCount := completed.Load() + failed.Load()
			done := doneCount == total
			percentage := int16(doneCount * 100 / total)
			condition := BuildTransferCondition(indicationID, percentage, done, completed.Load(), failed.Load())
			condition.SetSource(s.cfg.ServerID, s.cfg.ServerSubID)
			condition.SetTarget(msg.SourceID(), msg.SourceSubID())
			if sendErr := s.sendPacket(condition); sendErr != nil {
				s.logger.Debug().Err(sendErr).Msg("transfer condition send failed")
			}
			return err
		})
		if s.pool == nil {
			if err := job.Work(jobs.PriorityNormal); err != nil {
				s.logger.Warn().Err(err).Str("source", entry.SourcePath).Msg("file transfer failed")
			}
			continue
		}
		if err := s.pool.Push(job); err != nil {
			s.logger.Warn().Err(err).Msg("file transfer job rejected")
		}
	}
}

func (s *Session) sendFile(indicationID string, entry FileEntry) error {
	data, err := fileio.Load(entry.SourcePath)
	if err != nil {
		return err
	}

	var payload []byte
	payload = wire.AppendStringSegment(payload, indicationID)
	payload = wire.AppendStringSegment(payload, s.cfg.ServerID)
	payload = wire.AppendStringSegment(payload, s.cfg.ServerSubID)
	payload = wire.AppendStringSegment(payload, s.PeerID())
	payload = wire.AppendStringSegment(payload, s.PeerSubID())
	payload = wire.AppendStringSegment(payload, entry.TargetPath)
	payload = wire.AppendSegment(payload, data)

	out, err := s.pipeline.Outbound(payload)
	if err != nil {
		return err
	}
	return s.writer.Send(wire.ModeFile, out)
}

func (s *Session) handleFile(data []byte) error {
	decoded, err := s.pipeline.Inbound(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping file frame, receive pipeline failed")
		return nil
	}

	offset := 0
	indicationID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("file frame: %w", err)
	}
	sourceID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("file frame: %w", err)
	}
	sourceSubID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("file frame: %w", err)
	}
	if _, err = wire.ReadStringSegment(decoded, &offset); err != nil { // target id
		return fmt.Errorf("file frame: %w", err)
	}
	if _, err = wire.ReadStringSegment(decoded, &offset); err != nil { // target sub id
		return fmt.Errorf("file frame: %w", err)
	}
	targetPath, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("file frame: %w", err)
	}
	fileData, err := wire.ReadSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("file frame: %w", err)
	}

	if err := fileio.Save(targetPath, fileData); err != nil {
		return err
	}
	if s.notif.File != nil {
		s.notif.File(sourceID, sourceSubID, indicationID, targetPath)
	}
	return nil
}

func (s *Session) handleBinary(data []byte) error {
	decoded, err := s.pipeline.Inbound(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping binary frame, receive pipeline failed")
		return nil
	}

	offset := 0
	sourceID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("binary frame: %w", err)
	}
	sourceSubID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("binary frame: %w", err)
	}
	targetID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("binary frame: %w", err)
	}
	targetSubID, err := wire.ReadStringSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("binary frame: %w", err)
	}
	payload, err := wire.ReadSegment(decoded, &offset)
	if err != nil {
		return fmt.Errorf("binary frame: %w", err)
	}

	if s.notif.Binary != nil {
		s.notif.Binary(sourceID, sourceSubID, targetID, targetSubID, payload)
	}
	return nil
}

func (s *Session) onDisconnect(err error) {
	s.mu.Lock()
	wasConfirmed := s.state == StateConfirmed
	s.state = StateDisconnected
	s.mu.Unlock()

	s.Stop()
	if err != nil {
		s.logger.Debug().Err(err).Msg("session read loop ended")
	}
	if wasConfirmed && s.notif.Connection != nil {
		s.notif.Connection(s, false)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
