package container

// ValueType identifies the datum kind carried by a Value.
type ValueType byte

const (
	NullValue ValueType = iota
	BoolValue
	ShortValue
	UShortValue
	IntValue
	UIntValue
	LongValue
	ULongValue
	LLongValue
	ULLongValue
	FloatValue
	DoubleValue
	BytesValue
	StringValue
	ContainerValue
)

// wireTags is the fixed single-character tag alphabet. The positions are
// compatibility-critical: changing one breaks every deployed peer.
var wireTags = map[ValueType]byte{
	BoolValue:      '1',
	ShortValue:     '2',
	UShortValue:    '3',
	IntValue:       '4',
	UIntValue:      '5',
	LongValue:      '6',
	ULongValue:     '7',
	LLongValue:     '8',
	ULLongValue:    '9',
	FloatValue:     'a',
	DoubleValue:    'b',
	BytesValue:     'c',
	StringValue:    'd',
	ContainerValue: 'e',
}

// Tag returns the wire tag for the type; NullValue has no tag and
// serializes as '0'.
func (t ValueType) Tag() byte {
	if tag, ok := wireTags[t]; ok {
		return tag
	}
	return '0'
}

// TypeFromTag maps a wire tag back to a ValueType. Unrecognized tags
// decode to NullValue.
func TypeFromTag(tag string) ValueType {
	if len(tag) != 1 {
		return NullValue
	}
	for t, b := range wireTags {
		if b == tag[0] {
			return t
		}
	}
	return NullValue
}

func (t ValueType) String() string {
	switch t {
	case BoolValue:
		return "bool"
	case ShortValue:
		return "short"
	case UShortValue:
		return "ushort"
	case IntValue:
		return "int"
	case UIntValue:
		return "uint"
	case LongValue:
		return "long"
	case ULongValue:
		return "ulong"
	case LLongValue:
		return "llong"
	case ULLongValue:
		return "ullong"
	case FloatValue:
		return "float"
	case DoubleValue:
		return "double"
	case BytesValue:
		return "bytes"
	case StringValue:
		return "string"
	case ContainerValue:
		return "container"
	default:
		return "null"
	}
}
