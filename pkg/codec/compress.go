package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/cuemby/burrow/pkg/log"
)

// ErrCodecFailure reports that a compression or encryption transform could
// not process its input.
var ErrCodecFailure = errors.New("codec failure")

// DefaultBlockBytes is the block size used when a caller passes 0.
const DefaultBlockBytes = 1024

// Compress encodes data as a sequence of independently compressed LZ4
// blocks. Each block on the wire is a 4-byte little-endian size followed by
// the block body; a negative size marks a block stored raw because LZ4
// could not shrink it.
func Compress(data []byte, blockBytes int) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if blockBytes <= 0 {
		blockBytes = DefaultBlockBytes
	}

	dst := make([]byte, lz4.CompressBlockBound(blockBytes))
	out := make([]byte, 0, len(data)/2+8)
	sizeBuf := make([]byte, 4)

	var c lz4.Compressor
	for offset := 0; offset < len(data); offset += blockBytes {
		end := offset + blockBytes
		if end > len(data) {
			end = len(data)
		}
		block := data[offset:end]

		n, err := c.CompressBlock(block, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: compress block at %d: %v", ErrCodecFailure, offset, err)
		}
		if n == 0 || n >= len(block) {
			// Incompressible block, store raw.
			binary.LittleEndian.PutUint32(sizeBuf, uint32(int32(-len(block))))
			out = append(out, sizeBuf...)
			out = append(out, block...)
			continue
		}
		binary.LittleEndian.PutUint32(sizeBuf, uint32(int32(n)))
		out = append(out, sizeBuf...)
		out = append(out, dst[:n]...)
	}

	log.Logger.Debug().
		Int("block_bytes", blockBytes).
		Int("original", len(data)).
		Int("compressed", len(out)).
		Msg("compressed payload")

	return out, nil
}

// Decompress reverses Compress with the same block size.
func Decompress(data []byte, blockBytes int) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if blockBytes <= 0 {
		blockBytes = DefaultBlockBytes
	}

	out := make([]byte, 0, len(data)*2)
	dst := make([]byte, blockBytes)

	offset := 0
	for offset < len(data) {
		if len(data)-offset < 4 {
			return nil, fmt.Errorf("%w: truncated block header at %d", ErrCodecFailure, offset)
		}
		size := int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4

		if size == 0 {
			return nil, fmt.Errorf("%w: zero-length block at %d", ErrCodecFailure, offset)
		}

		if size < 0 {
			// Raw block.
			length := int(-size)
			if length > blockBytes || len(data)-offset < length {
				return nil, fmt.Errorf("%w: invalid raw block at %d", ErrCodecFailure, offset)
			}
			out = append(out, data[offset:offset+length]...)
			offset += length
			continue
		}

		length := int(size)
		if len(data)-offset < length {
			return nil, fmt.Errorf("%w: truncated block at %d", ErrCodecFailure, offset)
		}
		n, err := lz4.UncompressBlock(data[offset:offset+length], dst)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress block at %d: %v", ErrCodecFailure, offset, err)
		}
		out = append(out, dst[:n]...)
		offset += length
	}

	return out, nil
}
