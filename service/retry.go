package service

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/config"
)

const logModule = "service"

// nodeStateCodes are answers a node gives while it cannot serve yet.
var nodeStateCodes = map[btcjson.RPCErrorCode]bool{
	btcjson.ErrRPCInWarmup:                true,
	btcjson.ErrRPCClientInInitialDownload: true,
	btcjson.ErrRPCClientNotConnected:      true,
}

// IsTransient reports whether a failed upstream call may succeed when tried
// again. Answers from the node itself are deterministic unless they are
// about the node's own state.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return nodeStateCodes[rpcErr.Code]
	}

	switch errors.Cause(err) {
	case context.Canceled, context.DeadlineExceeded, ErrRejected, ErrBlockNotFound:
		return false
	}
	return true
}

// Retry runs op until it succeeds, fails permanently or the attempts run out.
// Exhausted transient failures come back as ErrUpstreamUnavailable.
func Retry(ctx context.Context, cfg *config.Retry, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval()
	b.MaxInterval = cfg.MaxInterval()
	b.MaxElapsedTime = 0

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{"module": logModule, "err": err, "wait": wait}).Warn("upstream call failed, retrying")
	}

	err := backoff.RetryNotify(func() error {
		if err := op(); err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy, notify)
	if err != nil && IsTransient(err) {
		return errors.Wrap(ErrUpstreamUnavailable, err.Error())
	}
	return err
}
