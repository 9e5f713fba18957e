package federation

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// ScryptOptions are the key stretching parameters used to seal private keys.
type ScryptOptions struct {
	N, R, P int
}

var DefaultScryptOptions = ScryptOptions{N: 262144, R: 8, P: 1}

// sealer encrypts extended private keys at rest with a key derived from the
// vault passphrase. Each sealed blob is salt || nonce || box.
type sealer struct {
	passphrase []byte
	opts       ScryptOptions
}

func newSealer(passphrase string, opts ScryptOptions) *sealer {
	if passphrase == "" {
		return nil
	}
	return &sealer{passphrase: []byte(passphrase), opts: opts}
}

func (s *sealer) deriveKey(salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key(s.passphrase, salt, s.opts.N, s.opts.R, s.opts.P, keySize)
	if err != nil {
		return nil, err
	}

	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

func (s *sealer) seal(plaintext []byte) (string, error) {
	buf := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}

	key, err := s.deriveKey(buf[:saltSize])
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], buf[saltSize:])
	return hex.EncodeToString(secretbox.Seal(buf, plaintext, &nonce, key)), nil
}

func (s *sealer) open(sealed string) ([]byte, error) {
	data, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, errors.Wrap(ErrSealedKey, err.Error())
	}

	if len(data) < saltSize+nonceSize+secretbox.Overhead {
		return nil, errors.Wrap(ErrSealedKey, "sealed key too short")
	}

	key, err := s.deriveKey(data[:saltSize])
	if err != nil {
		return nil, errors.Wrap(ErrSealedKey, err.Error())
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[saltSize:saltSize+nonceSize])
	plaintext, ok := secretbox.Open(nil, data[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, errors.Wrap(ErrSealedKey, "wrong passphrase")
	}
	return plaintext, nil
}
