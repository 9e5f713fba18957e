package federation

import (
	"github.com/pkg/errors"
)

var (
	ErrGeneration     = errors.New("key pair generation failed")
	ErrKeyPairLimit   = errors.New("key pair limit reached")
	ErrInvalidAccount = errors.New("account id must not be empty")
	ErrDerivation     = errors.New("peg-in derivation failed")
	ErrUnknownKey     = errors.New("key pair not found in vault")
	ErrSealedKey      = errors.New("can not unseal private key")
)
