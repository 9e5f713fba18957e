package claim

import (
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/database"
)

var (
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownAddress = errors.New("peg-in address was never issued")
	ErrProofInvalid   = errors.New("invalid deposit proof")
	ErrNotConfirmed   = errors.New("deposit not confirmed yet")
	ErrDuplicateClaim = database.ErrDuplicateClaim
)
