// Package cryptoutil provides the signature, hashing, and key-custody
// primitives used by the identity and group-sync layers.
package cryptoutil

import "encoding/base64"

// B64Encode encodes data to base64. When urlSafe is true, uses the URL-safe
// alphabet without padding; otherwise the standard alphabet with padding.
func B64Encode(data []byte, urlSafe bool) string {
	if urlSafe {
		return base64.RawURLEncoding.EncodeToString(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// B64Decode decodes a base64 string produced by B64Encode.
func B64Decode(s string, urlSafe bool) ([]byte, error) {
	if urlSafe {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.StdEncoding.DecodeString(s)
}
