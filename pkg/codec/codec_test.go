package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0, 1, 2, 253, 254, 255}
	assert.Equal(t, data, FromBase64(ToBase64(data)))
}

func TestBase64Empty(t *testing.T) {
	assert.Equal(t, "", ToBase64(nil))
	assert.Nil(t, FromBase64(""))
	assert.Nil(t, FromBase64("not base64 !!!"))
}

func TestCompressRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		blockBytes int
	}{
		{"small", 100, 1024},
		{"exact block", 1024, 1024},
		{"multi block", 64 * 1024, 1024},
		{"odd tail", 3000, 1024},
		{"tiny blocks", 5000, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte("burrow message payload "), tt.size/20+1)[:tt.size]

			compressed, err := Compress(data, tt.blockBytes)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(data), "repetitive data should shrink")

			restored, err := Decompress(compressed, tt.blockBytes)
			require.NoError(t, err)
			assert.Equal(t, data, restored)
		})
	}
}

func TestCompressIncompressibleData(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 4096)
	_, err := rng.Read(data)
	require.NoError(t, err)

	compressed, err := Compress(data, 1024)
	require.NoError(t, err)

	restored, err := Decompress(compressed, 1024)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestCompressEmptyPassThrough(t *testing.T) {
	out, err := Compress(nil, 1024)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Decompress(nil, 1024)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecompressTruncatedFails(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 500)
	compressed, err := Compress(data, 1024)
	require.NoError(t, err)

	_, err = Decompress(compressed[:len(compressed)-3], 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodecFailure)

	_, err = Decompress([]byte{1, 2}, 1024)
	assert.ErrorIs(t, err, ErrCodecFailure)
}

func TestEncryptRoundTrip(t *testing.T) {
	key, iv, err := GenerateKeyIV()
	require.NoError(t, err)
	require.Len(t, key, 16)
	require.Len(t, iv, 16)

	for _, size := range []int{1, 15, 16, 17, 1000, 64 * 1024} {
		data := bytes.Repeat([]byte{0xAB}, size)
		encrypted, err := Encrypt(data, key, iv)
		require.NoError(t, err)
		assert.NotEqual(t, data, encrypted)
		assert.Zero(t, len(encrypted)%16)

		restored, err := Decrypt(encrypted, key, iv)
		require.NoError(t, err)
		assert.Equal(t, data, restored)
	}
}

func TestEncryptEmptyKeyPassThrough(t *testing.T) {
	data := []byte("plaintext stays")
	out, err := Encrypt(data, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	out, err = Decrypt(data, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, iv, err := GenerateKeyIV()
	require.NoError(t, err)
	other, _, err := GenerateKeyIV()
	require.NoError(t, err)

	encrypted, err := Encrypt([]byte("secret payload"), key, iv)
	require.NoError(t, err)

	restored, err := Decrypt(encrypted, other, iv)
	if err == nil {
		// CBC with a wrong key usually corrupts the padding; when the
		// padding happens to validate, the plaintext still differs.
		assert.NotEqual(t, []byte("secret payload"), restored)
	}
}

func TestDecryptBadLengthFails(t *testing.T) {
	key, iv, err := GenerateKeyIV()
	require.NoError(t, err)

	_, err = Decrypt([]byte{1, 2, 3}, key, iv)
	assert.ErrorIs(t, err, ErrCodecFailure)
}

func TestKeysAreRandom(t *testing.T) {
	k1, iv1, err := GenerateKeyIV()
	require.NoError(t, err)
	k2, iv2, err := GenerateKeyIV()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, iv1, iv2)
}
