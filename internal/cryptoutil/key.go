package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of every key accepted by this package.
const KeySize = 32

// ParseKey decodes a 32-byte key written as base64 or hex. An explicit
// "base64:" or "hex:" prefix skips the guessing.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, errors.New("encryption key is empty")
	}

	var (
		data []byte
		err  error
	)
	if enc, rest, ok := strings.Cut(trimmed, ":"); ok && (enc == "base64" || enc == "hex") {
		if enc == "hex" {
			data, err = hex.DecodeString(rest)
		} else {
			data, err = base64.StdEncoding.DecodeString(rest)
		}
	} else if data, err = base64.StdEncoding.DecodeString(trimmed); err != nil || len(data) != KeySize {
		data, err = hex.DecodeString(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), KeySize)
	}
	return data, nil
}
