package wire

import (
	"github.com/cuemby/burrow/pkg/codec"
)

// Transform is one replaceable pipeline stage. forward=true is the send
// direction (compress/encrypt); forward=false is the inverse.
type Transform func(data []byte, forward bool) ([]byte, error)

// Pipeline applies the negotiated payload transforms around framing:
// compress then encrypt on the way out, decrypt then decompress on the way
// in. Either stage can be disabled or replaced by a caller-supplied
// transform.
type Pipeline struct {
	CompressEnabled bool
	EncryptEnabled  bool

	BlockBytes int
	Key        []byte
	IV         []byte

	// Optional stage overrides.
	CompressFn Transform
	EncryptFn  Transform
}

// Outbound runs the send-side stages in order.
func (p *Pipeline) Outbound(data []byte) ([]byte, error) {
	var err error
	if p.CompressEnabled {
		data, err = p.compress(data, true)
		if err != nil {
			return nil, err
		}
	}
	if p.EncryptEnabled {
		data, err = p.encrypt(data, true)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Inbound runs the receive-side stages in inverse order.
func (p *Pipeline) Inbound(data []byte) ([]byte, error) {
	var err error
	if p.EncryptEnabled {
		data, err = p.encrypt(data, false)
		if err != nil {
			return nil, err
		}
	}
	if p.CompressEnabled {
		data, err = p.compress(data, false)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (p *Pipeline) compress(data []byte, forward bool) ([]byte, error) {
	if p.CompressFn != nil {
		return p.CompressFn(data, forward)
	}
	if forward {
		return codec.Compress(data, p.BlockBytes)
	}
	return codec.Decompress(data, p.BlockBytes)
}

func (p *Pipeline) encrypt(data []byte, forward bool) ([]byte, error) {
	if p.EncryptFn != nil {
		return p.EncryptFn(data, forward)
	}
	if forward {
		return codec.Encrypt(data, p.Key, p.IV)
	}
	return codec.Decrypt(data, p.Key, p.IV)
}
