package api

import (
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/claim"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/federation"
	"github.com/bytom/peggateway/withdrawal"
)

var errBadRequest = errors.New("malformed request body")

var respErrFormatter = map[error]int{
	errBadRequest:                        400,
	federation.ErrInvalidAccount:         400,
	federation.ErrKeyPairLimit:           400,
	claim.ErrMissingField:                400,
	withdrawal.ErrMissingField:           400,
	withdrawal.ErrInvalidRequest:         400,
	withdrawal.ErrInsufficientFunds:      400,
	claim.ErrUnknownAddress:              404,
	withdrawal.ErrNotFound:               404,
	claim.ErrDuplicateClaim:              409,
	withdrawal.ErrInsufficientSignatures: 412,
	claim.ErrProofInvalid:                422,
	claim.ErrNotConfirmed:                422,
	withdrawal.ErrInvalidKeyMaterial:     422,
	withdrawal.ErrRejected:               422,
	federation.ErrGeneration:             500,
	federation.ErrDerivation:             500,
	federation.ErrSealedKey:              500,
	database.ErrInconsistentDB:           500,
	withdrawal.ErrUpstreamUnavailable:    503,
}
