package withdrawal

import (
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/service"
)

var (
	ErrMissingField           = errors.New("missing required field")
	ErrInvalidRequest         = errors.New("invalid withdrawal request")
	ErrInvalidKeyMaterial     = errors.New("invalid key material")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrNotFound               = errors.New("withdrawal not found")
	ErrInvalidTransition      = errors.New("invalid withdrawal status transition")
	ErrInsufficientFunds      = database.ErrInsufficientFunds
	ErrRejected               = service.ErrRejected
	ErrUpstreamUnavailable    = service.ErrUpstreamUnavailable
)
