package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/codec"
	"github.com/cuemby/burrow/pkg/log"
)

// escapePairs maps raw characters to their wire escape sequences. The
// escaped form is what a Value stores; ToString(true) reverses it.
var escapePairs = [][2]string{
	{"\r", "</0x0A;>"},
	{"\n", "</0x0B;>"},
	{" ", "</0x0C;>"},
	{"\t", "</0x0D;>"},
}

// EscapeString applies the wire escape sequences to raw text.
func EscapeString(s string) string {
	for _, p := range escapePairs {
		s = strings.ReplaceAll(s, p[0], p[1])
	}
	return s
}

// UnescapeString reverses EscapeString.
func UnescapeString(s string) string {
	for i := len(escapePairs) - 1; i >= 0; i-- {
		s = strings.ReplaceAll(s, escapePairs[i][1], escapePairs[i][0])
	}
	return s
}

// Value is one typed node of a container tree. Scalars hold their
// little-endian raw bytes; containers hold a signed 32-bit child count and
// an ordered child list. The parent pointer is a non-owning back-reference
// maintained by Add and Remove.
type Value struct {
	name     string
	vtype    ValueType
	data     []byte
	children []*Value
	parent   *Value
}

// NewNull creates an empty value.
func NewNull(name string) *Value {
	return &Value{name: name, vtype: NullValue}
}

// NewBool creates a bool value.
func NewBool(name string, v bool) *Value {
	data := []byte{0}
	if v {
		data[0] = 1
	}
	return &Value{name: name, vtype: BoolValue, data: data}
}

// NewShort creates a 16-bit signed value.
func NewShort(name string, v int16) *Value {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, uint16(v))
	return &Value{name: name, vtype: ShortValue, data: data}
}

// NewUShort creates a 16-bit unsigned value.
func NewUShort(name string, v uint16) *Value {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, v)
	return &Value{name: name, vtype: UShortValue, data: data}
}

// NewInt creates a 32-bit signed value.
func NewInt(name string, v int32) *Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return &Value{name: name, vtype: IntValue, data: data}
}

// NewUInt creates a 32-bit unsigned value.
func NewUInt(name string, v uint32) *Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return &Value{name: name, vtype: UIntValue, data: data}
}

// NewLong creates a 32-bit signed value with the long wire tag.
func NewLong(name string, v int32) *Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return &Value{name: name, vtype: LongValue, data: data}
}

// NewULong creates a 32-bit unsigned value with the ulong wire tag.
func NewULong(name string, v uint32) *Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return &Value{name: name, vtype: ULongValue, data: data}
}

// NewLLong creates a 64-bit signed value.
func NewLLong(name string, v int64) *Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return &Value{name: name, vtype: LLongValue, data: data}
}

// NewULLong creates a 64-bit unsigned value.
func NewULLong(name string, v uint64) *Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	return &Value{name: name, vtype: ULLongValue, data: data}
}

// NewFloat creates a 32-bit float value.
func NewFloat(name string, v float32) *Value {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, math.Float32bits(v))
	return &Value{name: name, vtype: FloatValue, data: data}
}

// NewDouble creates a 64-bit float value.
func NewDouble(name string, v float64) *Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(v))
	return &Value{name: name, vtype: DoubleValue, data: data}
}

// NewBytes creates a raw byte value; bytes travel as base64 on the wire.
func NewBytes(name string, data []byte) *Value {
	copied := make([]byte, len(data))
	copy(copied, data)
	return &Value{name: name, vtype: BytesValue, data: copied}
}

// NewString creates a string value. The stored form carries the wire
// escapes; ToString(true) returns the original text.
func NewString(name, s string) *Value {
	return &Value{name: name, vtype: StringValue, data: []byte(EscapeString(s))}
}

// NewContainerValue creates a container node holding the given children.
func NewContainerValue(name string, children ...*Value) *Value {
	v := &Value{name: name, vtype: ContainerValue}
	v.setCount(0)
	for _, child := range children {
		v.add(child, true)
	}
	return v
}

// NewValueFromText constructs a value from its wire text form; used by the
// container parser. Numeric parse failures decode as zero.
func NewValueFromText(name, tag, text string) *Value {
	vtype := TypeFromTag(tag)
	switch vtype {
	case BoolValue:
		return NewBool(name, text == "true")
	case ShortValue:
		return NewShort(name, int16(parseInt(name, text, 16)))
	case UShortValue:
		return NewUShort(name, uint16(parseUint(name, text, 16)))
	case IntValue:
		return NewInt(name, int32(parseInt(name, text, 32)))
	case UIntValue:
		return NewUInt(name, uint32(parseUint(name, text, 32)))
	case LongValue:
		return NewLong(name, int32(parseInt(name, text, 32)))
	case ULongValue:
		return NewULong(name, uint32(parseUint(name, text, 32)))
	case LLongValue:
		return NewLLong(name, parseInt(name, text, 64))
	case ULLongValue:
		return NewULLong(name, parseUint(name, text, 64))
	case FloatValue:
		return NewFloat(name, float32(parseFloat(name, text, 32)))
	case DoubleValue:
		return NewDouble(name, parseFloat(name, text, 64))
	case BytesValue:
		return NewBytes(name, codec.FromBase64(text))
	case StringValue:
		v := &Value{name: name, vtype: StringValue, data: []byte(text)}
		return v
	case ContainerValue:
		v := &Value{name: name, vtype: ContainerValue}
		v.setCount(int32(parseInt(name, text, 32)))
		return v
	default:
		return NewNull(name)
	}
}

func parseInt(name, text string, bits int) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, bits)
	if err != nil {
		log.Logger.Error().Str("value", name).Str("text", text).Msg("invalid integer text, decoding as zero")
		return 0
	}
	return n
}

func parseUint(name, text string, bits int) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(text), 10, bits)
	if err != nil {
		log.Logger.Error().Str("value", name).Str("text", text).Msg("invalid unsigned text, decoding as zero")
		return 0
	}
	return n
}

func parseFloat(name, text string, bits int) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), bits)
	if err != nil {
		log.Logger.Error().Str("value", name).Str("text", text).Msg("invalid float text, decoding as zero")
		return 0
	}
	return f
}

// Name returns the value's name.
func (v *Value) Name() string { return v.name }

// Type returns the value's type.
func (v *Value) Type() ValueType { return v.vtype }

// Parent returns the owning container node, nil at top level.
func (v *Value) Parent() *Value { return v.parent }

// Children returns the ordered child list.
func (v *Value) Children() []*Value { return v.children }

// ChildCount returns the number of attached children.
func (v *Value) ChildCount() int { return len(v.children) }

// IsContainer reports whether the value is a container node.
func (v *Value) IsContainer() bool { return v.vtype == ContainerValue }

// DeclaredCount returns the child count a container declared on the wire.
func (v *Value) DeclaredCount() int32 {
	if v.vtype != ContainerValue || len(v.data) < 4 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(v.data))
}

func (v *Value) setCount(n int32) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(n))
	v.data = data
}

// Add attaches a child to a container node and updates the stored child
// count. A value can only be attached under one parent; move it with
// Remove first.
func (v *Value) Add(child *Value) error {
	return v.add(child, true)
}

func (v *Value) add(child *Value, updateCount bool) error {
	if v.vtype != ContainerValue {
		return fmt.Errorf("invalid argument: cannot add child to %s value %q", v.vtype, v.name)
	}
	if child.parent != nil {
		return fmt.Errorf("invalid argument: value %q already has a parent", child.name)
	}
	child.parent = v
	v.children = append(v.children, child)
	if updateCount {
		v.setCount(int32(len(v.children)))
	}
	return nil
}

// Remove detaches a child from its parent and updates the stored count.
func (v *Value) Remove(child *Value) bool {
	for i, c := range v.children {
		if c == child {
			v.children = append(v.children[:i], v.children[i+1:]...)
			child.parent = nil
			v.setCount(int32(len(v.children)))
			return true
		}
	}
	return false
}

// ValueByName returns the first direct child with the given name, nil if
// none.
func (v *Value) ValueByName(name string) *Value {
	for _, c := range v.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// ToBool converts the stored datum to bool.
func (v *Value) ToBool() bool {
	return len(v.data) > 0 && v.data[0] != 0
}

// ToShort converts the stored datum to int16.
func (v *Value) ToShort() int16 { return int16(v.scalar(2)) }

// ToUShort converts the stored datum to uint16.
func (v *Value) ToUShort() uint16 { return uint16(v.scalar(2)) }

// ToInt converts the stored datum to int32.
func (v *Value) ToInt() int32 { return int32(v.scalar(4)) }

// ToUInt converts the stored datum to uint32.
func (v *Value) ToUInt() uint32 { return uint32(v.scalar(4)) }

// ToLong converts the stored datum to int32 (long wire width).
func (v *Value) ToLong() int32 { return int32(v.scalar(4)) }

// ToULong converts the stored datum to uint32.
func (v *Value) ToULong() uint32 { return uint32(v.scalar(4)) }

// ToLLong converts the stored datum to int64.
func (v *Value) ToLLong() int64 { return int64(v.scalar(8)) }

// ToULLong converts the stored datum to uint64.
func (v *Value) ToULLong() uint64 { return v.scalar(8) }

// ToFloat converts the stored datum to float32.
func (v *Value) ToFloat() float32 {
	if v.vtype == DoubleValue {
		return float32(math.Float64frombits(v.scalar(8)))
	}
	return math.Float32frombits(uint32(v.scalar(4)))
}

// ToDouble converts the stored datum to float64.
func (v *Value) ToDouble() float64 {
	if v.vtype == FloatValue {
		return float64(math.Float32frombits(uint32(v.scalar(4))))
	}
	return math.Float64frombits(v.scalar(8))
}

// ToBytes returns the raw stored bytes.
func (v *Value) ToBytes() []byte { return v.data }

// ToString renders the value as text. For string values original=true
// reverses the wire escapes; other types ignore the flag.
func (v *Value) ToString(original bool) string {
	switch v.vtype {
	case BoolValue:
		if v.ToBool() {
			return "true"
		}
		return "false"
	case ShortValue:
		return strconv.FormatInt(int64(v.ToShort()), 10)
	case UShortValue:
		return strconv.FormatUint(uint64(v.ToUShort()), 10)
	case IntValue:
		return strconv.FormatInt(int64(v.ToInt()), 10)
	case UIntValue:
		return strconv.FormatUint(uint64(v.ToUInt()), 10)
	case LongValue:
		return strconv.FormatInt(int64(v.ToLong()), 10)
	case ULongValue:
		return strconv.FormatUint(uint64(v.ToULong()), 10)
	case LLongValue:
		return strconv.FormatInt(v.ToLLong(), 10)
	case ULLongValue:
		return strconv.FormatUint(v.ToULLong(), 10)
	case FloatValue:
		return strconv.FormatFloat(float64(v.ToFloat()), 'g', -1, 32)
	case DoubleValue:
		return strconv.FormatFloat(v.ToDouble(), 'g', -1, 64)
	case BytesValue:
		return codec.ToBase64(v.data)
	case StringValue:
		if original {
			return UnescapeString(string(v.data))
		}
		return string(v.data)
	case ContainerValue:
		return strconv.FormatInt(int64(v.DeclaredCount()), 10)
	default:
		return ""
	}
}

func (v *Value) scalar(width int) uint64 {
	if len(v.data) < width {
		return 0
	}
	switch width {
	case 2:
		return uint64(binary.LittleEndian.Uint16(v.data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(v.data))
	default:
		return binary.LittleEndian.Uint64(v.data)
	}
}

// Serialize emits the value's wire triple followed by its subtree in
// depth-first order.
func (v *Value) Serialize() string {
	var b strings.Builder
	v.serializeTo(&b)
	return b.String()
}

func (v *Value) serializeTo(b *strings.Builder) {
	fmt.Fprintf(b, "[%s,%c,%s];", v.name, v.vtype.Tag(), v.ToString(false))
	for _, child := range v.children {
		child.serializeTo(b)
	}
}

// Equal reports deep equality of name, type, payload and subtree.
func (v *Value) Equal(other *Value) bool {
	if other == nil || v.name != other.name || v.vtype != other.vtype {
		return false
	}
	if v.ToString(false) != other.ToString(false) {
		return false
	}
	if len(v.children) != len(other.children) {
		return false
	}
	for i := range v.children {
		if !v.children[i].Equal(other.children[i]) {
			return false
		}
	}
	return true
}
