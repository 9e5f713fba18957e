package service

import (
	"github.com/pkg/errors"
)

var (
	ErrUpstreamUnavailable = errors.New("mainchain node unavailable")
	ErrRejected            = errors.New("transaction rejected by mainchain node")
	ErrBlockNotFound       = errors.New("block not found on mainchain")
)
