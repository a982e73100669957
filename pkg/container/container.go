package container

import (
	"fmt"
	"regexp"
	"strings"
)

// Header keys on the wire. Numeric, compatibility-critical.
const (
	headerTargetID    = "1"
	headerTargetSubID = "2"
	headerSourceID    = "3"
	headerSourceSubID = "4"
	headerMessageType = "5"
	headerVersion     = "6"
)

const (
	// DefaultMessageType marks a plain data container; its address
	// fields are omitted from the serialized header.
	DefaultMessageType = "data_container"
	// DefaultVersion is the wire format version stamped on new
	// containers.
	DefaultVersion = "1.0.0.0"
)

var (
	newlineRe     = regexp.MustCompile(`\r\n?|\n`)
	headerBlockRe = regexp.MustCompile(`@header=\s*\{\s*(.*?)\s*\};`)
	headerItemRe  = regexp.MustCompile(`\[(\w+),(.*?)\];`)
	dataBlockRe   = regexp.MustCompile(`@data=\s*\{\s*(.*?)\s*\};`)
	dataItemRe    = regexp.MustCompile(`\[(\w+),\s*(\w+),\s*(.*?)\];`)
)

// Container is a header plus an ordered list of typed values; the unit of
// exchange on the packet channel. A container deserialized with
// headerOnly=true keeps its body as unparsed text until a mutating or
// reading operation realizes the value list.
type Container struct {
	sourceID    string
	sourceSubID string
	targetID    string
	targetSubID string
	messageType string
	version     string

	values     []*Value
	dataString string
	parsed     bool
}

// New creates an empty container with default type and version.
func New() *Container {
	return &Container{
		messageType: DefaultMessageType,
		version:     DefaultVersion,
		parsed:      true,
	}
}

// NewMessage creates a container carrying the given message type.
func NewMessage(messageType string, values ...*Value) *Container {
	c := New()
	c.messageType = messageType
	for _, v := range values {
		c.Add(v)
	}
	return c
}

// Parse builds a container from its wire text.
func Parse(text string) (*Container, error) {
	c := New()
	if err := c.Deserialize(text, false); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseBytes builds a container from wire bytes.
func ParseBytes(data []byte) (*Container, error) {
	return Parse(string(data))
}

// SourceID returns the source identifier.
func (c *Container) SourceID() string { return c.sourceID }

// SourceSubID returns the source sub-identifier.
func (c *Container) SourceSubID() string { return c.sourceSubID }

// TargetID returns the target identifier.
func (c *Container) TargetID() string { return c.targetID }

// TargetSubID returns the target sub-identifier.
func (c *Container) TargetSubID() string { return c.targetSubID }

// MessageType returns the message type.
func (c *Container) MessageType() string { return c.messageType }

// Version returns the wire format version.
func (c *Container) Version() string { return c.version }

// SetSource sets the source address pair.
func (c *Container) SetSource(id, subID string) {
	c.sourceID = id
	c.sourceSubID = subID
}

// SetTarget sets the target address pair.
func (c *Container) SetTarget(id, subID string) {
	c.targetID = id
	c.targetSubID = subID
}

// SetMessageType sets the message type.
func (c *Container) SetMessageType(messageType string) {
	c.messageType = messageType
}

// SwapHeader exchanges the source and target address pairs; used when
// building a reply to a received message.
func (c *Container) SwapHeader() {
	c.sourceID, c.targetID = c.targetID, c.sourceID
	c.sourceSubID, c.targetSubID = c.targetSubID, c.sourceSubID
}

// Values returns the top-level value list, realizing the parsed form
// first.
func (c *Container) Values() []*Value {
	c.ensureParsed()
	return c.values
}

// Value returns the first top-level value with the given name, nil if
// none.
func (c *Container) Value(name string) *Value {
	c.ensureParsed()
	for _, v := range c.values {
		if v.name == name {
			return v
		}
	}
	return nil
}

// ValueList returns all top-level values with the given name.
func (c *Container) ValueList(name string) []*Value {
	c.ensureParsed()
	var out []*Value
	for _, v := range c.values {
		if v.name == name {
			out = append(out, v)
		}
	}
	return out
}

// Add appends a top-level value.
func (c *Container) Add(v *Value) {
	c.ensureParsed()
	c.values = append(c.values, v)
}

// Remove detaches a top-level value.
func (c *Container) Remove(v *Value) bool {
	c.ensureParsed()
	for i, cur := range c.values {
		if cur == v {
			c.values = append(c.values[:i], c.values[i+1:]...)
			return true
		}
	}
	return false
}

// ClearValues drops the value list and resets the body to parsed-empty.
func (c *Container) ClearValues() {
	c.values = nil
	c.dataString = ""
	c.parsed = true
}

// Copy duplicates the container. With containingValues=false the copy
// keeps only the header.
func (c *Container) Copy(containingValues bool) *Container {
	copied := New()
	if err := copied.Deserialize(c.Serialize(), !containingValues); err != nil {
		return New()
	}
	if !containingValues {
		copied.dataString = ""
		copied.parsed = true
	}
	return copied
}

// Serialize emits the wire text form: header block then data block.
func (c *Container) Serialize() string {
	var b strings.Builder

	b.WriteString("@header={")
	if c.messageType != DefaultMessageType {
		fmt.Fprintf(&b, "[%s,%s];", headerTargetID, c.targetID)
		fmt.Fprintf(&b, "[%s,%s];", headerTargetSubID, c.targetSubID)
		fmt.Fprintf(&b, "[%s,%s];", headerSourceID, c.sourceID)
		fmt.Fprintf(&b, "[%s,%s];", headerSourceSubID, c.sourceSubID)
	}
	fmt.Fprintf(&b, "[%s,%s];", headerMessageType, c.messageType)
	fmt.Fprintf(&b, "[%s,%s];", headerVersion, c.version)
	b.WriteString("};")

	if !c.parsed {
		b.WriteString(c.dataString)
		return b.String()
	}

	b.WriteString("@data={")
	for _, v := range c.values {
		b.WriteString(v.Serialize())
	}
	b.WriteString("};")

	return b.String()
}

// SerializeBytes emits the wire form as bytes.
func (c *Container) SerializeBytes() []byte {
	return []byte(c.Serialize())
}

// Deserialize replaces the container's content with the parsed wire text.
// With headerOnly=true the body is retained as text and parsed lazily.
func (c *Container) Deserialize(text string, headerOnly bool) error {
	c.sourceID = ""
	c.sourceSubID = ""
	c.targetID = ""
	c.targetSubID = ""
	c.messageType = DefaultMessageType
	c.version = DefaultVersion
	c.values = nil
	c.dataString = ""
	c.parsed = true

	if text == "" {
		return fmt.Errorf("parse error: empty container text")
	}

	text = newlineRe.ReplaceAllString(text, "")

	header := headerBlockRe.FindStringSubmatch(text)
	if header == nil {
		return c.deserializeValues(text, headerOnly)
	}

	for _, item := range headerItemRe.FindAllStringSubmatch(header[1], -1) {
		value := strings.TrimRight(item[2], " ")
		switch item[1] {
		case headerTargetID:
			c.targetID = value
		case headerTargetSubID:
			c.targetSubID = value
		case headerSourceID:
			c.sourceID = value
		case headerSourceSubID:
			c.sourceSubID = value
		case headerMessageType:
			c.messageType = value
		case headerVersion:
			c.version = value
		}
	}

	return c.deserializeValues(text, headerOnly)
}

func (c *Container) deserializeValues(text string, headerOnly bool) error {
	c.values = nil

	block := dataBlockRe.FindString(text)
	if block == "" {
		c.dataString = ""
		c.parsed = true
		return fmt.Errorf("parse error: missing @data block")
	}

	if headerOnly {
		c.dataString = block
		c.parsed = false
		return nil
	}

	c.dataString = ""
	c.parsed = true

	var flat []*Value
	for _, item := range dataItemRe.FindAllStringSubmatch(block, -1) {
		flat = append(flat, NewValueFromText(item[1], item[2], item[3]))
	}

	// Re-nest the flat list: containers declare how many direct children
	// follow; a declared count of zero never opens a nesting level.
	var current *Value
	for _, v := range flat {
		if current == nil {
			c.values = append(c.values, v)
			if v.IsContainer() && v.DeclaredCount() > 0 {
				current = v
			}
			continue
		}

		if err := current.add(v, false); err != nil {
			continue
		}

		if v.IsContainer() && v.DeclaredCount() > 0 {
			current = v
			continue
		}

		for current != nil && current.DeclaredCount() == int32(current.ChildCount()) {
			current = current.parent
		}
	}

	return nil
}

func (c *Container) ensureParsed() {
	if c.parsed {
		return
	}
	data := c.dataString
	c.dataString = ""
	c.parsed = true
	_ = c.deserializeValues(data, false)
}

// ToXML renders the container as XML. Pretty-printing only; the result is
// not parseable by Deserialize.
func (c *Container) ToXML() string {
	c.ensureParsed()

	var b strings.Builder
	b.WriteString("<container><header>")
	if c.messageType != DefaultMessageType {
		fmt.Fprintf(&b, "<target_id>%s</target_id>", c.targetID)
		fmt.Fprintf(&b, "<target_sub_id>%s</target_sub_id>", c.targetSubID)
		fmt.Fprintf(&b, "<source_id>%s</source_id>", c.sourceID)
		fmt.Fprintf(&b, "<source_sub_id>%s</source_sub_id>", c.sourceSubID)
	}
	fmt.Fprintf(&b, "<message_type>%s</message_type>", c.messageType)
	fmt.Fprintf(&b, "<version>%s</version>", c.version)
	b.WriteString("</header><values>")
	for _, v := range c.values {
		valueToXML(&b, v)
	}
	b.WriteString("</values></container>")
	return b.String()
}

func valueToXML(b *strings.Builder, v *Value) {
	if v.IsContainer() {
		fmt.Fprintf(b, "<%s>", v.name)
		for _, child := range v.children {
			valueToXML(b, child)
		}
		fmt.Fprintf(b, "</%s>", v.name)
		return
	}
	fmt.Fprintf(b, "<%s>%s</%s>", v.name, v.ToString(true), v.name)
}

// ToJSON renders the container as JSON using one object per field.
// Pretty-printing only; not round-trippable through Deserialize.
func (c *Container) ToJSON() string {
	c.ensureParsed()

	var b strings.Builder
	b.WriteString(`{"header":{`)
	first := true
	writeField := func(key, value string) {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q:%q", key, value)
	}
	if c.messageType != DefaultMessageType {
		writeField("target_id", c.targetID)
		writeField("target_sub_id", c.targetSubID)
		writeField("source_id", c.sourceID)
		writeField("source_sub_id", c.sourceSubID)
	}
	writeField("message_type", c.messageType)
	writeField("version", c.version)
	b.WriteString(`},"values":[`)
	for i, v := range c.values {
		if i > 0 {
			b.WriteString(",")
		}
		valueToJSON(&b, v)
	}
	b.WriteString("]}")
	return b.String()
}

func valueToJSON(b *strings.Builder, v *Value) {
	if v.IsContainer() {
		fmt.Fprintf(b, `{%q:[`, v.name)
		for i, child := range v.children {
			if i > 0 {
				b.WriteString(",")
			}
			valueToJSON(b, child)
		}
		b.WriteString("]}")
		return
	}
	fmt.Fprintf(b, `{%q:%q}`, v.name, v.ToString(true))
}

// Equal reports header and deep value equality.
func (c *Container) Equal(other *Container) bool {
	if other == nil {
		return false
	}
	c.ensureParsed()
	other.ensureParsed()
	if c.sourceID != other.sourceID || c.sourceSubID != other.sourceSubID ||
		c.targetID != other.targetID || c.targetSubID != other.targetSubID ||
		c.messageType != other.messageType || c.version != other.version {
		return false
	}
	if len(c.values) != len(other.values) {
		return false
	}
	for i := range c.values {
		if !c.values[i].Equal(other.values[i]) {
			return false
		}
	}
	return true
}
