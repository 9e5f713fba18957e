package claim

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/database/orm"
	"github.com/bytom/peggateway/service"
)

// Deposit is what a verified proof pays to a peg-in address.
type Deposit struct {
	TxID      string
	BlockHash string
	Amount    uint64
	Outputs   []*DepositOutput
}

type DepositOutput struct {
	Vout   uint32
	Amount uint64
}

// ProofVerifier checks that a proof attests a real deposit to the address.
// Deterministic failures are ErrProofInvalid or ErrNotConfirmed; anything
// else is an upstream failure.
type ProofVerifier interface {
	Verify(ctx context.Context, proof *Proof, pegIn *orm.PegInAddress) (*Deposit, error)
}

// ChainClient answers how deep a block is buried on the mainchain.
type ChainClient interface {
	Confirmations(ctx context.Context, blockHash string) (int64, error)
}

// SPVVerifier checks proofs with the partial merkle tree and, when a chain
// client is set, asks the mainchain how deep the block is.
type SPVVerifier struct {
	chain            ChainClient
	minConfirmations int64
	group            singleflight.Group
}

func NewSPVVerifier(chain ChainClient, minConfirmations int64) *SPVVerifier {
	return &SPVVerifier{chain: chain, minConfirmations: minConfirmations}
}

func (v *SPVVerifier) Verify(ctx context.Context, proof *Proof, pegIn *orm.PegInAddress) (*Deposit, error) {
	matches, err := VerifyMerkleBlock(proof.MerkleBlock)
	if err != nil {
		return nil, errors.Wrap(ErrProofInvalid, err.Error())
	}

	txHash := proof.Tx.TxHash()
	var included bool
	for _, match := range matches {
		if match == txHash {
			included = true
			break
		}
	}
	if !included {
		return nil, errors.Wrapf(ErrProofInvalid, "tx %s is not committed by the proof", txHash)
	}

	pkScript, err := hex.DecodeString(pegIn.PkScript)
	if err != nil {
		return nil, errors.Wrap(err, "decode peg-in script")
	}

	deposit := &Deposit{TxID: txHash.String(), BlockHash: proof.BlockHash()}
	for i, out := range proof.Tx.TxOut {
		if out.Value <= 0 || !bytes.Equal(out.PkScript, pkScript) {
			continue
		}

		deposit.Amount += uint64(out.Value)
		deposit.Outputs = append(deposit.Outputs, &DepositOutput{Vout: uint32(i), Amount: uint64(out.Value)})
	}
	if deposit.Amount == 0 {
		return nil, errors.Wrapf(ErrProofInvalid, "tx %s pays nothing to %s", txHash, pegIn.Address)
	}

	if v.chain == nil {
		return deposit, nil
	}

	// concurrent claims out of one block share a single lookup
	res, err := v.group.Do(deposit.BlockHash, func() (interface{}, error) {
		return v.chain.Confirmations(ctx, deposit.BlockHash)
	})
	switch cause := errors.Cause(err); {
	case cause == service.ErrBlockNotFound:
		return nil, errors.Wrapf(ErrProofInvalid, "block %s is not on the mainchain", deposit.BlockHash)
	case cause == context.Canceled || cause == context.DeadlineExceeded:
		return nil, err
	case err != nil && cause != service.ErrUpstreamUnavailable:
		return nil, errors.Wrap(service.ErrUpstreamUnavailable, err.Error())
	case err != nil:
		return nil, err
	}

	if confirmations := res.(int64); confirmations < v.minConfirmations {
		return nil, errors.Wrapf(ErrNotConfirmed, "%d of %d confirmations", confirmations, v.minConfirmations)
	}
	return deposit, nil
}
