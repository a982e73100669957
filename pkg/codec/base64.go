package codec

import "encoding/base64"

// ToBase64 encodes raw bytes to standard base64 text.
func ToBase64(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64 text back to raw bytes.
// Invalid input decodes to nil.
func FromBase64(text string) []byte {
	if text == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil
	}
	return data
}
