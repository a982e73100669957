package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Encrypt encrypts data with AES-CBC and PKCS#7 padding. Empty key or IV
// passes the data through unchanged so a session without a negotiated key
// can share the send path.
func Encrypt(data, key, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(key) == 0 || len(iv) == 0 {
		return data, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrCodecFailure, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCodecFailure, block.BlockSize(), len(iv))
	}

	padded := padPKCS7(data, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. Empty key or IV passes the data through.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	if len(data) == 0 || len(key) == 0 || len(iv) == 0 {
		return data, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrCodecFailure, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCodecFailure, block.BlockSize(), len(iv))
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a block multiple", ErrCodecFailure, len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return unpadPKCS7(out, block.BlockSize())
}

// GenerateKeyIV returns a random AES-128 key and IV for a new session.
func GenerateKeyIV() (key, iv []byte, err error) {
	key = make([]byte, 16)
	iv = make([]byte, aes.BlockSize)
	if _, err = io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, fmt.Errorf("%w: generate key: %v", ErrCodecFailure, err)
	}
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("%w: generate iv: %v", ErrCodecFailure, err)
	}
	return key, iv, nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrCodecFailure)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrCodecFailure)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrCodecFailure)
		}
	}
	return data[:len(data)-n], nil
}
