package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/codec"
	"github.com/cuemby/burrow/pkg/container"
	"github.com/cuemby/burrow/pkg/fileio"
	"github.com/cuemby/burrow/pkg/jobs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/session"
	"github.com/cuemby/burrow/pkg/wire"
)

// ErrNotConnected reports an operation before the handshake confirmed.
var ErrNotConnected = errors.New("handshake rejected: client not connected")

// Config holds client settings.
type Config struct {
	SourceID      string
	ConnectionKey string

	StartTag byte
	EndTag   byte

	SessionType  session.Type
	EncryptMode  bool
	CompressMode bool

	CompressBlockBytes int

	SnippingTargets []string

	HighPriorityCount   int
	NormalPriorityCount int
	LowPriorityCount    int
}

// Notifications carries the client-level user callbacks.
type Notifications struct {
	Connection func(id, subID string, connected bool)
	Message    func(msg *container.Container)
	File       func(sourceID, sourceSubID, indicationID, targetPath string)
	Binary     func(sourceID, sourceSubID, targetID, targetSubID string, data []byte)
}

// Client is one endpoint of the framed TCP protocol: it connects, submits
// the handshake, and exchanges packet, file, and binary frames with the
// server.
type Client struct {
	cfg   Config
	notif Notifications

	conn     net.Conn
	reader   *wire.Reader
	writer   *wire.Writer
	pipeline *wire.Pipeline
	pool     *jobs.ThreadPool
	logger   zerolog.Logger

	mu          sync.Mutex
	state       session.State
	accepted    bool
	sourceSubID string
	serverID    string
	serverSubID string

	confirmed chan struct{}
	stopOnce  sync.Once
}

// New creates a client; call Start to connect.
func New(cfg Config, notif Notifications) *Client {
	if cfg.SourceID == "" {
		cfg.SourceID = "burrow-client-" + uuid.New().String()
	}
	if cfg.StartTag == 0 {
		cfg.StartTag = wire.DefaultStartTag
	}
	if cfg.EndTag == 0 {
		cfg.EndTag = wire.DefaultEndTag
	}
	if cfg.SessionType == 0 {
		cfg.SessionType = session.MessageLine
	}
	if cfg.CompressBlockBytes <= 0 {
		cfg.CompressBlockBytes = codec.DefaultBlockBytes
	}
	return &Client{
		cfg:       cfg,
		notif:     notif,
		logger:    log.WithComponent("client"),
		state:     session.StateWaiting,
		confirmed: make(chan struct{}),
	}
}

// Start connects to the server and submits the connection request. The
// handshake completes asynchronously; WaitConnected blocks for it.
func (c *Client) Start(ip string, port int) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return fmt.Errorf("io error: connect to %s:%d: %w", ip, port, err)
	}
	c.conn = conn
	c.writer = wire.NewWriter(conn, c.cfg.StartTag, c.cfg.EndTag)
	c.pipeline = &wire.Pipeline{BlockBytes: c.cfg.CompressBlockBytes}

	c.pool = jobs.NewThreadPoolWithCounts(
		c.cfg.HighPriorityCount, c.cfg.NormalPriorityCount, c.cfg.LowPriorityCount)
	c.pool.Start()

	c.reader = wire.NewReader(conn, c.cfg.StartTag, c.cfg.EndTag)
	c.reader.OnFrame = c.onFrame
	c.reader.OnDisconnect = c.onDisconnect
	go c.reader.Run()

	request := session.BuildConnectionRequest(session.ConnectionRequest{
		SourceID:        c.cfg.SourceID,
		ConnectionKey:   c.cfg.ConnectionKey,
		SessionType:     c.cfg.SessionType,
		EncryptMode:     c.cfg.EncryptMode,
		CompressMode:    c.cfg.CompressMode,
		SnippingTargets: c.cfg.SnippingTargets,
	})
	if err := c.writer.Send(wire.ModePacket, request.SerializeBytes()); err != nil {
		c.Stop()
		return err
	}
	return nil
}

// WaitConnected blocks until the handshake confirms or the timeout
// expires.
func (c *Client) WaitConnected(timeout time.Duration) error {
	select {
	case <-c.confirmed:
		c.mu.Lock()
		accepted := c.accepted
		c.mu.Unlock()
		if !accepted {
			return ErrNotConnected
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("handshake timeout after %s", timeout)
	}
}

// Stop tears the client down.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
		if c.pool != nil {
			c.pool.Stop(false)
		}
	})
}

// State returns the handshake state.
func (c *Client) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SourceSubID returns the server-assigned sub-identifier.
func (c *Client) SourceSubID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceSubID
}

// Send serializes and sends a packet-mode container to the server.
func (c *Client) Send(msg *container.Container) error {
	if c.State() != session.StateConfirmed {
		return ErrNotConnected
	}
	c.mu.Lock()
	if msg.SourceID() == "" {
		msg.SetSource(c.cfg.SourceID, c.sourceSubID)
	}
	c.mu.Unlock()

	out, err := c.pipeline.Outbound(msg.SerializeBytes())
	if err != nil {
		return err
	}
	return c.writer.Send(wire.ModePacket, out)
}

// Echo sends a liveness probe.
func (c *Client) Echo() error {
	if c.State() != session.StateConfirmed {
		return ErrNotConnected
	}
	echo := session.BuildEcho(false)
	c.mu.Lock()
	echo.SetSource(c.cfg.SourceID, c.sourceSubID)
	echo.SetTarget(c.serverID, c.serverSubID)
	c.mu.Unlock()
	return c.Send(echo)
}

// SendBinary sends an addressed binary payload.
func (c *Client) SendBinary(targetID, targetSubID string, data []byte) error {
	if c.State() != session.StateConfirmed {
		return ErrNotConnected
	}
	c.mu.Lock()
	sourceID, sourceSubID := c.cfg.SourceID, c.sourceSubID
	c.mu.Unlock()

	var payload []byte
	payload = wire.AppendStringSegment(payload, sourceID)
	payload = wire.AppendStringSegment(payload, sourceSubID)
	payload = wire.AppendStringSegment(payload, targetID)
	payload = wire.AppendStringSegment(payload, targetSubID)
	payload = wire.AppendSegment(payload, data)

	out, err := c.pipeline.Outbound(payload)
	if err != nil {
		return err
	}
	return c.writer.Send(wire.ModeBinary, out)
}

// SendFiles schedules file-mode transfers for each entry on the low
// priority bucket; progress is not reported on the sending side.
func (c *Client) SendFiles(entries []session.FileEntry, indicationID string) error {
	if c.State() != session.StateConfirmed {
		return ErrNotConnected
	}
	for _, entry := range entries {
		entry := entry
		job := jobs.NewJob(jobs.PriorityLow, func() error {
			return c.sendFile(indicationID, entry)
		})
		if err := c.pool.Push(job); err != nil {
			return err
		}
	}
	return nil
}

// RequestFiles asks the server to transfer the listed files back.
func (c *Client) RequestFiles(entries []session.FileEntry) (string, error) {
	indicationID := uuid.New().String()
	request := session.BuildRequestFiles(entries, indicationID)
	if err := c.Send(request); err != nil {
		return "", err
	}
	return indicationID, nil
}

func (c *Client) sendFile(indicationID string, entry session.FileEntry) error {
	data, err := fileio.Load(entry.SourcePath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sourceID, sourceSubID := c.cfg.SourceID, c.sourceSubID
	serverID, serverSubID := c.serverID, c.serverSubID
	c.mu.Unlock()

	var payload []byte
	payload = wire.AppendStringSegment(payload, indicationID)
	payload = wire.AppendStringSegment(payload, sourceID)
	payload = wire.AppendStringSegment(payload, sourceSubID)
	payload = wire.AppendStringSegment(payload, serverID)
	payload = wire.AppendStringSegment(payload, serverSubID)
	payload = wire.AppendStringSegment(payload, entry.TargetPath)
	payload = wire.AppendSegment(payload, data)

	out, err := c.pipeline.Outbound(payload)
	if err != nil {
		return err
	}
	return c.writer.Send(wire.ModeFile, out)
}

func (c *Client) onFrame(mode wire.Mode, payload []byte) {
	var job *jobs.Job
	switch mode {
	case wire.ModePacket:
		job = jobs.NewDataJob(jobs.PriorityHigh, payload, c.handlePacket)
	case wire.ModeFile:
		job = jobs.NewDataJob(jobs.PriorityLow, payload, c.handleFile)
	case wire.ModeBinary:
		job = jobs.NewDataJob(jobs.PriorityHigh, payload, c.handleBinary)
	default:
		return
	}
	if err := c.pool.Push(job); err != nil {
		c.logger.Warn().Err(err).Str("mode", mode.String()).Msg("dropping frame, pool rejected job")
	}
}

func (c *Client) handlePacket(data []byte) error {
	if c.State() == session.StateConfirmed {
		decoded, err := c.pipeline.Inbound(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping packet, receive pipeline failed")
			return nil
		}
		data = decoded
	}

	msg, err := container.ParseBytes(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping unparseable packet")
		return nil
	}

	switch msg.MessageType() {
	case session.MsgConfirmConnection:
		c.handleConfirm(msg)
	case session.MsgEchoTest:
		c.handleEcho(msg)
	case session.MsgTransferCondition:
		if c.notif.Message != nil {
			c.notif.Message(msg)
		}
	default:
		if c.State() != session.StateConfirmed {
			c.logger.Warn().Str("message_type", msg.MessageType()).Msg("dropping message before handshake")
			return nil
		}
		if c.notif.Message != nil {
			c.notif.Message(msg)
		}
	}
	return nil
}

func (c *Client) handleConfirm(msg *container.Container) {
	if c.State() != session.StateWaiting {
		return
	}
	confirm := session.ParseConnectionConfirm(msg)

	if !confirm.Accepted {
		c.mu.Lock()
		c.state = session.StateExpired
		c.mu.Unlock()
		close(c.confirmed)
		c.logger.Warn().Msg("connection rejected by server")
		if c.notif.Connection != nil {
			c.notif.Connection(c.cfg.SourceID, "", false)
		}
		// Stop joins the pool workers; this handler runs on one, so the
		// teardown has to happen elsewhere.
		go c.Stop()
		return
	}

	c.mu.Lock()
	c.state = session.StateConfirmed
	c.accepted = true
	c.sourceSubID = confirm.TargetSubID
	c.serverID = confirm.SourceID
	c.serverSubID = confirm.SourceSubID
	c.pipeline.CompressEnabled = confirm.CompressMode
	c.pipeline.EncryptEnabled = confirm.EncryptMode
	if confirm.EncryptMode {
		c.pipeline.Key = codec.FromBase64(confirm.Key)
		c.pipeline.IV = codec.FromBase64(confirm.IV)
	}
	c.mu.Unlock()
	close(c.confirmed)

	c.logger.Info().
		Str("source_id", c.cfg.SourceID).
		Str("source_sub_id", confirm.TargetSubID).
		Bool("compress", confirm.CompressMode).
		Bool("encrypt", confirm.EncryptMode).
		Bool("kill_code", confirm.KillCode).
		Msg("connection confirmed")

	if c.notif.Connection != nil {
		c.notif.Connection(c.cfg.SourceID, confirm.TargetSubID, true)
	}

	if confirm.KillCode {
		// The server is at its session limit; hang up as instructed.
		c.logger.Warn().Msg("kill code received, disconnecting")
		go c.disconnect()
	}
}

func (c *Client) handleEcho(msg *container.Container) {
	if c.State() != session.StateConfirmed {
		return
	}
	if v := msg.Value("response"); v != nil && v.ToBool() {
		return
	}
	reply := session.BuildEcho(true)
	reply.SetTarget(msg.SourceID(), msg.SourceSubID())
	if err := c.Send(reply); err != nil {
		c.logger.Debug().Err(err).Msg("echo reply failed")
	}
}

func (c *Client) handleFile(data []byte) error {
	decoded, err := c.pipeline.Inbound(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping file frame, receive pipeline failed")
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
	if c.notif.File != nil {
		c.notif.File(sourceID, sourceSubID, indicationID, targetPath)
	}
	return nil
}

func (c *Client) handleBinary(data []byte) error {
	decoded, err := c.pipeline.Inbound(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping binary frame, receive pipeline failed")
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

	if c.notif.Binary != nil {
		c.notif.Binary(sourceID, sourceSubID, targetID, targetSubID, payload)
	}
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	wasConfirmed := c.state == session.StateConfirmed
	c.state = session.StateDisconnected
	subID := c.sourceSubID
	c.mu.Unlock()

	c.Stop()
	if wasConfirmed && c.notif.Connection != nil {
		c.notif.Connection(c.cfg.SourceID, subID, false)
	}
}

func (c *Client) onDisconnect(err error) {
	if err != nil {
		c.logger.Debug().Err(err).Msg("client read loop ended")
	}
	c.disconnect()
}
