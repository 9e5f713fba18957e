package claim

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/database/orm"
)

const logModule = "claim"

type Request struct {
	PegInAddress   string `json:"pegin_address"`
	RawTransaction string `json:"raw_transaction"`
	TxOutProof     string `json:"tx_out_proof"`
	TxID           string `json:"tx_id"`
	ClaimScript    string `json:"claim_script"`
}

func (r *Request) Validate() error {
	var missing []string
	if r.PegInAddress == "" {
		missing = append(missing, "pegin_address")
	}
	if r.RawTransaction == "" {
		missing = append(missing, "raw_transaction")
	}
	if r.TxOutProof == "" {
		missing = append(missing, "tx_out_proof")
	}

	if len(missing) > 0 {
		return errors.Wrap(ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// CreditID names the sidechain credit of a claim.
func CreditID(address, proofID string) string {
	id := sha3.Sum256([]byte(address + ":" + proofID))
	return hex.EncodeToString(id[:])
}

// Processor credits each mainchain deposit to its sidechain account once.
type Processor struct {
	store    database.Store
	verifier ProofVerifier
	locks    *common.KeyedMutex
}

func NewProcessor(store database.Store, verifier ProofVerifier) *Processor {
	return &Processor{store: store, verifier: verifier, locks: common.NewKeyedMutex()}
}

func (p *Processor) checkDuplicate(address, proofID string) error {
	_, err := p.store.GetClaim(address, proofID)
	switch err {
	case nil:
		return errors.Wrapf(ErrDuplicateClaim, "tx %s to %s", proofID, address)
	case database.ErrNotFound:
		return nil
	default:
		return err
	}
}

func (p *Processor) Claim(ctx context.Context, req *Request) (*orm.Claim, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pegIn, err := p.store.GetPegInAddress(req.PegInAddress)
	if err == database.ErrNotFound {
		return nil, errors.Wrap(ErrUnknownAddress, req.PegInAddress)
	} else if err != nil {
		return nil, err
	}

	if req.ClaimScript != "" && !strings.EqualFold(req.ClaimScript, pegIn.ClaimScript) {
		return nil, errors.Wrap(ErrProofInvalid, "claim script does not belong to the address")
	}

	proof, err := ParseProof(req.RawTransaction, req.TxOutProof)
	if err != nil {
		return nil, err
	}

	proofID := proof.TxID()
	if req.TxID != "" && req.TxID != proofID {
		return nil, errors.Wrapf(ErrProofInvalid, "tx_id %s does not match raw transaction %s", req.TxID, proofID)
	}

	if err := p.checkDuplicate(pegIn.Address, proofID); err != nil {
		return nil, err
	}

	unlock := p.locks.Lock(pegIn.Address + ":" + proofID)
	defer unlock()

	if err := p.checkDuplicate(pegIn.Address, proofID); err != nil {
		return nil, err
	}

	deposit, err := p.verifier.Verify(ctx, proof, pegIn)
	if errors.Cause(err) == ErrNotConfirmed {
		if err := p.store.MarkPegInFunded(pegIn.Address); err != nil {
			log.WithFields(log.Fields{"module": logModule, "pegin_address": pegIn.Address, "err": err}).Error("fail on mark peg-in funded")
		}
		return nil, err
	} else if err != nil {
		return nil, err
	}

	claim := &orm.Claim{
		PegInAddress:      pegIn.Address,
		ProofID:           proofID,
		AccountID:         pegIn.AccountID,
		Amount:            deposit.Amount,
		BlockHash:         deposit.BlockHash,
		SidechainCreditID: CreditID(pegIn.Address, proofID),
		ClaimedAt:         time.Now(),
	}

	utxos := make([]*orm.CustodyUTXO, 0, len(deposit.Outputs))
	for _, out := range deposit.Outputs {
		utxos = append(utxos, &orm.CustodyUTXO{
			TxID:            proofID,
			Vout:            out.Vout,
			Amount:          out.Amount,
			PkScript:        pegIn.PkScript,
			PegInAddress:    pegIn.Address,
			ClaimScript:     pegIn.ClaimScript,
			RedeemScript:    pegIn.RedeemScript,
			FederationXPubs: pegIn.FederationXPubs,
			Threshold:       pegIn.Threshold,
		})
	}

	if err := p.store.ApplyClaim(claim, utxos); err != nil {
		if errors.Cause(err) == ErrDuplicateClaim {
			return nil, errors.Wrapf(ErrDuplicateClaim, "tx %s to %s", proofID, pegIn.Address)
		}
		return nil, errors.Wrap(err, "apply claim")
	}

	log.WithFields(log.Fields{
		"module":        logModule,
		"pegin_address": pegIn.Address,
		"account_id":    pegIn.AccountID,
		"proof_id":      proofID,
		"amount":        deposit.Amount,
	}).Info("deposit claimed")
	return claim, nil
}

func (p *Processor) ListClaims() ([]*orm.Claim, error) {
	return p.store.ListClaims()
}

func (p *Processor) Balance(accountID string) (uint64, error) {
	return p.store.GetBalance(accountID)
}
