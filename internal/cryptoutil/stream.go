package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/minio/sio"
)

const (
	configMagic   = "ESB1"
	configVersion = uint16(1)
	nonceSize     = 12
	headerSize    = len(configMagic) + 2 + nonceSize
)

// EncryptWriter wraps w so everything written to it is sealed with DARE.
// Close must be called to flush the final package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, sio.Config{Key: key})
}

// DecryptReader opens a DARE stream produced by EncryptWriter.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key})
}

// SealConfig encrypts a config file body with AES-GCM behind a short header.
func SealConfig(plain, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	buf := bytes.NewBufferString(configMagic)
	if err := binary.Write(buf, binary.BigEndian, configVersion); err != nil {
		return nil, err
	}
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, plain, nil))
	return buf.Bytes(), nil
}

// OpenConfig reverses SealConfig.
func OpenConfig(sealed, key []byte) ([]byte, error) {
	if len(sealed) < headerSize {
		return nil, errors.New("config cipher too short")
	}
	if string(sealed[:len(configMagic)]) != configMagic {
		return nil, errors.New("invalid config header")
	}
	if ver := binary.BigEndian.Uint16(sealed[len(configMagic):]); ver != configVersion {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[headerSize-nonceSize : headerSize]
	return aead.Open(nil, nonce, sealed[headerSize:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
