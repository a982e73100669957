package wire

import (
	"encoding/binary"
	"fmt"
)

// AppendSegment appends a length-prefixed byte segment (4-byte LE length
// then the bytes) to buf. File- and binary-mode payloads are built from
// these segments.
func AppendSegment(buf []byte, segment []byte) []byte {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(segment)))
	buf = append(buf, length[:]...)
	return append(buf, segment...)
}

// AppendStringSegment appends a string as a length-prefixed segment.
func AppendStringSegment(buf []byte, s string) []byte {
	return AppendSegment(buf, []byte(s))
}

// ReadSegment consumes one length-prefixed segment starting at *offset and
// advances the offset past it.
func ReadSegment(buf []byte, offset *int) ([]byte, error) {
	if len(buf)-*offset < 4 {
		return nil, fmt.Errorf("parse error: truncated segment length at %d", *offset)
	}
	length := int(binary.LittleEndian.Uint32(buf[*offset:]))
	*offset += 4
	if len(buf)-*offset < length {
		return nil, fmt.Errorf("parse error: truncated segment body at %d", *offset)
	}
	segment := buf[*offset : *offset+length]
	*offset += length
	return segment, nil
}

// ReadStringSegment consumes one segment as a string.
func ReadStringSegment(buf []byte, offset *int) (string, error) {
	segment, err := ReadSegment(buf, offset)
	if err != nil {
		return "", err
	}
	return string(segment), nil
}
