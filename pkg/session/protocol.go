package session

import (
	"github.com/cuemby/burrow/pkg/container"
)

// ConnectionRequest carries the client side of the handshake.
type ConnectionRequest struct {
	SourceID        string
	SourceSubID     string
	TargetID        string
	ConnectionKey   string
	SessionType     Type
	EncryptMode     bool
	CompressMode    bool
	SnippingTargets []string
}

// ConnectionConfirm carries the server side of the handshake.
type ConnectionConfirm struct {
	Accepted        bool
	KillCode        bool
	SourceID        string
	SourceSubID     string
	TargetID        string
	TargetSubID     string
	ConnectionKey   string
	EncryptMode     bool
	CompressMode    bool
	Key             string // base64, present when EncryptMode
	IV              string // base64, present when EncryptMode
	SnippingTargets []string
}

// BuildConnectionRequest renders the handshake request container.
func BuildConnectionRequest(req ConnectionRequest) *container.Container {
	c := container.NewMessage(MsgRequestConnection)
	c.SetSource(req.SourceID, req.SourceSubID)
	c.SetTarget(req.TargetID, "")
	c.Add(container.NewString("connection_key", req.ConnectionKey))
	c.Add(container.NewShort("session_type", int16(req.SessionType)))
	c.Add(container.NewBool("encrypt_mode", req.EncryptMode))
	c.Add(container.NewBool("compress_mode", req.CompressMode))

	targets := make([]*container.Value, 0, len(req.SnippingTargets))
	for _, target := range req.SnippingTargets {
		targets = append(targets, container.NewString("snipping_target", target))
	}
	c.Add(container.NewContainerValue("snipping_targets", targets...))
	return c
}

// ParseConnectionRequest extracts the handshake request from a received
// container.
func ParseConnectionRequest(c *container.Container) ConnectionRequest {
	req := ConnectionRequest{
		SourceID:    c.SourceID(),
		SourceSubID: c.SourceSubID(),
		TargetID:    c.TargetID(),
	}
	if v := c.Value("connection_key"); v != nil {
		req.ConnectionKey = v.ToString(true)
	}
	if v := c.Value("session_type"); v != nil {
		req.SessionType = Type(v.ToShort())
	}
	if v := c.Value("encrypt_mode"); v != nil {
		req.EncryptMode = v.ToBool()
	}
	if v := c.Value("compress_mode"); v != nil {
		req.CompressMode = v.ToBool()
	}
	if v := c.Value("snipping_targets"); v != nil {
		for _, child := range v.Children() {
			req.SnippingTargets = append(req.SnippingTargets, child.ToString(true))
		}
	}
	return req
}

// BuildConnectionConfirm renders the handshake confirm container.
func BuildConnectionConfirm(confirm ConnectionConfirm) *container.Container {
	c := container.NewMessage(MsgConfirmConnection)
	c.SetSource(confirm.SourceID, confirm.SourceSubID)
	c.SetTarget(confirm.TargetID, confirm.TargetSubID)
	c.Add(container.NewBool("confirm", confirm.Accepted))
	c.Add(container.NewBool("kill_code", confirm.KillCode))
	c.Add(container.NewString("connection_key", confirm.ConnectionKey))
	c.Add(container.NewBool("encrypt_mode", confirm.EncryptMode))
	c.Add(container.NewBool("compress_mode", confirm.CompressMode))
	if confirm.EncryptMode {
		c.Add(container.NewString("key", confirm.Key))
		c.Add(container.NewString("iv", confirm.IV))
	}

	targets := make([]*container.Value, 0, len(confirm.SnippingTargets))
	for _, target := range confirm.SnippingTargets {
		targets = append(targets, container.NewString("snipping_target", target))
	}
	c.Add(container.NewContainerValue("snipping_targets", targets...))
	return c
}

// ParseConnectionConfirm extracts the handshake confirm from a received
// container.
func ParseConnectionConfirm(c *container.Container) ConnectionConfirm {
	confirm := ConnectionConfirm{
		SourceID:    c.SourceID(),
		SourceSubID: c.SourceSubID(),
		TargetID:    c.TargetID(),
		TargetSubID: c.TargetSubID(),
	}
	if v := c.Value("confirm"); v != nil {
		confirm.Accepted = v.ToBool()
	}
	if v := c.Value("kill_code"); v != nil {
		confirm.KillCode = v.ToBool()
	}
	if v := c.Value("connection_key"); v != nil {
		confirm.ConnectionKey = v.ToString(true)
	}
	if v := c.Value("encrypt_mode"); v != nil {
		confirm.EncryptMode = v.ToBool()
	}
	if v := c.Value("compress_mode"); v != nil {
		confirm.CompressMode = v.ToBool()
	}
	if v := c.Value("key"); v != nil {
		confirm.Key = v.ToString(true)
	}
	if v := c.Value("iv"); v != nil {
		confirm.IV = v.ToString(true)
	}
	if v := c.Value("snipping_targets"); v != nil {
		for _, child := range v.Children() {
			confirm.SnippingTargets = append(confirm.SnippingTargets, child.ToString(true))
		}
	}
	return confirm
}

// FileEntry is one source/target pair in a request_files message.
type FileEntry struct {
	SourcePath string
	TargetPath string
}

// BuildRequestFiles renders a file transfer request container.
func BuildRequestFiles(entries []FileEntry, indicationID string) *container.Container {
	c := container.NewMessage(MsgRequestFiles)
	c.Add(container.NewString("indication_id", indicationID))
	for _, entry := range entries {
		c.Add(container.NewContainerValue("file",
			container.NewString("source", entry.SourcePath),
			container.NewString("target", entry.TargetPath),
		))
	}
	return c
}

// ParseRequestFiles extracts file entries from a request_files container.
func ParseRequestFiles(c *container.Container) (entries []FileEntry, indicationID string) {
	if v := c.Value("indication_id"); v != nil {
		indicationID = v.ToString(true)
	}
	for _, v := range c.ValueList("file") {
		var entry FileEntry
		if src := v.ValueByName("source"); src != nil {
			entry.SourcePath = src.ToString(true)
		}
		if dst := v.ValueByName("target"); dst != nil {
			entry.TargetPath = dst.ToString(true)
		}
		entries = append(entries, entry)
	}
	return entries, indicationID
}

// BuildTransferCondition renders a transfer progress container.
func BuildTransferCondition(indicationID string, percentage int16, completed bool, completedCount, failedCount int32) *container.Container {
	c := container.NewMessage(MsgTransferCondition)
	c.Add(container.NewString("indication_id", indicationID))
	c.Add(container.NewShort("percentage", percentage))
	c.Add(container.NewBool("completed", completed))
	c.Add(container.NewInt("completed_count", completedCount))
	c.Add(container.NewInt("failed_count", failedCount))
	return c
}

// BuildEcho renders an echo_test container; response marks a reply.
func BuildEcho(response bool) *container.Container {
	c := container.NewMessage(MsgEchoTest)
	if response {
		c.Add(container.NewBool("response", true))
	}
	return c
}
