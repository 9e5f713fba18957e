package withdrawal

import (
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/config"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/database/orm"
	"github.com/bytom/peggateway/federation"
)

const logModule = "withdrawal"

type Request struct {
	AccountID          string            `json:"account_id"`
	DestinationAddress string            `json:"destination_address"`
	Amount             decimal.Decimal   `json:"amount"`
	RootXPubs          common.StringList `json:"root_xpubs"`
	XPrvs              common.StringList `json:"xprvs"`
}

type SignRequest struct {
	WithdrawalID string            `json:"withdrawal_id"`
	XPrvs        common.StringList `json:"xprvs"`
}

// Broadcaster hands a finalized transaction to the mainchain. A deterministic
// refusal is ErrRejected, anything else is treated as the network being
// unavailable.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error)
}

// SigningKeySource holds federation private keys the gateway may sign with
// on its own.
type SigningKeySource interface {
	SigningKey(xpub string) (*hdkeychain.ExtendedKey, error)
}

type share struct {
	xpub string
	key  *hdkeychain.ExtendedKey
}

// Builder turns account balances back into mainchain coins. A withdrawal
// spends custody outputs of the federation named by its root xpubs and is
// broadcast once enough of that federation has signed.
type Builder struct {
	store       database.Store
	broadcaster Broadcaster
	vault       SigningKeySource
	params      *chaincfg.Params
	fee         uint64
	locks       *common.KeyedMutex
}

// NewBuilder returns a builder. vault may be nil, then only the shares sent
// with a request are used.
func NewBuilder(store database.Store, broadcaster Broadcaster, vault SigningKeySource, params *chaincfg.Params, cfg *config.Withdrawal) *Builder {
	return &Builder{
		store:       store,
		broadcaster: broadcaster,
		vault:       vault,
		params:      params,
		fee:         cfg.Fee,
		locks:       common.NewKeyedMutex(),
	}
}

func validateRequest(req *Request) error {
	var missing []string
	if strings.TrimSpace(req.AccountID) == "" {
		missing = append(missing, "account_id")
	}
	if strings.TrimSpace(req.DestinationAddress) == "" {
		missing = append(missing, "destination_address")
	}
	if len(req.RootXPubs) == 0 {
		missing = append(missing, "root_xpubs")
	}
	if len(req.XPrvs) == 0 {
		missing = append(missing, "xprvs")
	}

	if len(missing) > 0 {
		return errors.Wrap(ErrMissingField, strings.Join(missing, ", "))
	}

	if len(req.XPrvs) > len(req.RootXPubs) {
		return errors.Wrapf(ErrInvalidRequest, "%d xprvs for %d root xpubs", len(req.XPrvs), len(req.RootXPubs))
	}

	seen := make(map[string]bool, len(req.RootXPubs))
	for _, xpub := range req.RootXPubs {
		if seen[xpub] {
			return errors.Wrapf(ErrInvalidRequest, "duplicate root xpub %s", xpub)
		}
		seen[xpub] = true
	}
	return nil
}

func (b *Builder) destinationScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "destination address: %v", err)
	}

	if !addr.IsForNet(b.params) {
		return nil, errors.Wrapf(ErrInvalidRequest, "destination address is not for %s", b.params.Name)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "destination address: %v", err)
	}
	return script, nil
}

// parseShares decodes the private shares and matches each one to a root
// xpub. A share for an xpub outside rootXPubs is rejected.
func (b *Builder) parseShares(xprvs, rootXPubs common.StringList) ([]*share, error) {
	shares := make([]*share, 0, len(xprvs))
	for i, xprv := range xprvs {
		key, err := hdkeychain.NewKeyFromString(xprv)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidKeyMaterial, "xprv %d: %v", i, err)
		}

		if !key.IsPrivate() {
			return nil, errors.Wrapf(ErrInvalidKeyMaterial, "xprv %d is not a private key", i)
		}

		if !key.IsForNet(b.params) {
			return nil, errors.Wrapf(ErrInvalidKeyMaterial, "xprv %d is not for %s", i, b.params.Name)
		}

		pub, err := key.Neuter()
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidKeyMaterial, "xprv %d: %v", i, err)
		}

		xpub := pub.String()
		if !rootXPubs.Contains(xpub) {
			return nil, errors.Wrapf(ErrInvalidKeyMaterial, "xprv %d matches none of the root xpubs", i)
		}

		shares = append(shares, &share{xpub: xpub, key: key})
	}
	return shares, nil
}

// vaultShares signs with the vault's keys for root xpubs nobody sent a share
// for.
func (b *Builder) vaultShares(shares []*share, rootXPubs common.StringList) ([]*share, error) {
	if b.vault == nil {
		return shares, nil
	}

	have := make(map[string]bool, len(shares))
	for _, s := range shares {
		have[s.xpub] = true
	}

	for _, xpub := range rootXPubs {
		if have[xpub] {
			continue
		}

		key, err := b.vault.SigningKey(xpub)
		if errors.Cause(err) == federation.ErrUnknownKey {
			continue
		} else if err != nil {
			return nil, err
		}

		shares = append(shares, &share{xpub: xpub, key: key})
	}
	return shares, nil
}

// selectInputs picks custody outputs locked by exactly the root xpubs,
// oldest first, until amount is covered.
func selectInputs(available []*orm.CustodyUTXO, rootXPubs common.StringList, amount uint64) ([]*orm.CustodyUTXO, error) {
	var (
		selected  []*orm.CustodyUTXO
		total     uint64
		threshold int
	)
	for _, utxo := range available {
		if !utxo.FederationXPubs.Equal(rootXPubs) {
			continue
		}

		if threshold == 0 {
			threshold = utxo.Threshold
		} else if utxo.Threshold != threshold {
			continue
		}

		selected = append(selected, utxo)
		if total += utxo.Amount; total >= amount {
			return selected, nil
		}
	}

	if len(selected) == 0 {
		return nil, errors.Wrap(ErrInvalidKeyMaterial, "root xpubs do not control any custody output")
	}
	return nil, errors.Wrapf(ErrInsufficientFunds, "custody holds %d, need %d", total, amount)
}

// CreateWithdrawal debits the account, builds the transaction and signs it
// with the shares at hand. Without enough signers the PartiallySigned
// withdrawal is returned together with ErrInsufficientSignatures.
func (b *Builder) CreateWithdrawal(ctx context.Context, req *Request) (*orm.Withdrawal, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	destination, err := b.destinationScript(req.DestinationAddress)
	if err != nil {
		return nil, err
	}

	amount, err := common.CoinToSatoshi(req.Amount)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	if amount <= b.fee || amount-b.fee < dustLimit {
		return nil, errors.Wrapf(ErrInvalidRequest, "amount %d does not cover fee %d", amount, b.fee)
	}

	shares, err := b.parseShares(req.XPrvs, req.RootXPubs)
	if err != nil {
		return nil, err
	}

	if shares, err = b.vaultShares(shares, req.RootXPubs); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	unlock := b.locks.Lock(requestID)
	defer unlock()

	w, err := b.store.CreateWithdrawal(req.AccountID, amount, func(available []*orm.CustodyUTXO) (*orm.Withdrawal, []*orm.CustodyUTXO, error) {
		inputs, err := selectInputs(available, req.RootXPubs, amount)
		if err != nil {
			return nil, nil, err
		}

		tx, _, fee, err := buildUnsignedTx(inputs, destination, amount, b.fee)
		if err != nil {
			return nil, nil, err
		}

		rawTx, err := encodeTx(tx)
		if err != nil {
			return nil, nil, err
		}

		return &orm.Withdrawal{
			RequestID:          requestID,
			AccountID:          req.AccountID,
			DestinationAddress: req.DestinationAddress,
			Amount:             amount,
			Fee:                fee,
			RootXPubs:          req.RootXPubs,
			Threshold:          inputs[0].Threshold,
			Signatures:         orm.Signatures{},
			UnsignedTx:         rawTx,
			Status:             common.WithdrawalPendingStatus,
		}, inputs, nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"module":      logModule,
		"id":          w.RequestID,
		"account_id":  w.AccountID,
		"destination": w.DestinationAddress,
		"amount":      w.Amount,
	}).Info("withdrawal created")
	return b.process(ctx, w, shares)
}

// SignWithdrawal adds more shares to an unfinished withdrawal. On a Signed
// withdrawal it only retries the broadcast.
func (b *Builder) SignWithdrawal(ctx context.Context, req *SignRequest) (*orm.Withdrawal, error) {
	if strings.TrimSpace(req.WithdrawalID) == "" {
		return nil, errors.Wrap(ErrMissingField, "withdrawal_id")
	}

	unlock := b.locks.Lock(req.WithdrawalID)
	defer unlock()

	w, err := b.GetWithdrawal(req.WithdrawalID)
	if err != nil {
		return nil, err
	}

	switch w.Status {
	case common.WithdrawalBroadcastStatus:
		return w, nil
	case common.WithdrawalRejectedStatus:
		return w, errors.Wrap(ErrRejected, w.RejectReason)
	case common.WithdrawalSignedStatus:
		return b.broadcast(ctx, w)
	}

	if len(req.XPrvs) == 0 {
		return nil, errors.Wrap(ErrMissingField, "xprvs")
	}

	if len(req.XPrvs) > len(w.RootXPubs) {
		return nil, errors.Wrapf(ErrInvalidRequest, "%d xprvs for %d root xpubs", len(req.XPrvs), len(w.RootXPubs))
	}

	shares, err := b.parseShares(req.XPrvs, w.RootXPubs)
	if err != nil {
		return nil, err
	}

	if shares, err = b.vaultShares(shares, w.RootXPubs); err != nil {
		return nil, err
	}
	return b.process(ctx, w, shares)
}

func (b *Builder) loadInputs(w *orm.Withdrawal, tx *wire.MsgTx) ([]*spendInput, error) {
	utxos, err := b.store.ListWithdrawalInputs(w.RequestID)
	if err != nil {
		return nil, err
	}

	byOutPoint := make(map[wire.OutPoint]*orm.CustodyUTXO, len(utxos))
	for _, utxo := range utxos {
		op, err := outPoint(utxo)
		if err != nil {
			return nil, err
		}
		byOutPoint[*op] = utxo
	}

	inputs := make([]*spendInput, 0, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		utxo, ok := byOutPoint[txIn.PreviousOutPoint]
		if !ok {
			return nil, errors.Wrapf(database.ErrInconsistentDB, "input %d of withdrawal %s is not reserved", i, w.RequestID)
		}

		in, err := newSpendInput(utxo)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (b *Builder) apply(w *orm.Withdrawal, event Event) error {
	next, err := Transition(w.Status, event)
	if err != nil {
		return err
	}

	w.Status = next
	return nil
}

// process applies shares and moves the withdrawal as far as it can go. The
// caller holds the withdrawal's lock.
func (b *Builder) process(ctx context.Context, w *orm.Withdrawal, shares []*share) (*orm.Withdrawal, error) {
	fromStatus := w.Status
	tx, err := decodeTx(w.UnsignedTx)
	if err != nil {
		return nil, errors.Wrap(err, "decode unsigned tx")
	}

	inputs, err := b.loadInputs(w, tx)
	if err != nil {
		return nil, err
	}

	if w.Signatures == nil {
		w.Signatures = orm.Signatures{}
	}

	var added int
	for _, s := range shares {
		if _, ok := w.Signatures[s.xpub]; ok {
			continue
		}

		sigs, err := signInputs(tx, inputs, s.key)
		if err != nil {
			return nil, err
		}

		w.Signatures[s.xpub] = sigs
		added++
		if err := b.apply(w, ShareApplied); err != nil {
			return nil, err
		}
	}

	if len(w.Signatures) < w.Threshold {
		if added > 0 {
			if err := b.store.UpdateWithdrawal(w, fromStatus); err != nil {
				return nil, errors.Wrap(err, "save signatures")
			}
		}
		return w, errors.Wrapf(ErrInsufficientSignatures, "%d of %d signers", len(w.Signatures), w.Threshold)
	}

	signed, err := finalizeTx(tx, inputs, w)
	if err != nil {
		log.WithFields(log.Fields{"module": logModule, "id": w.RequestID, "err": err}).Error("fail on finalize withdrawal")
		if err := b.apply(w, Invalid); err != nil {
			return nil, err
		}

		w.RejectReason = err.Error()
		if err := b.store.RejectWithdrawal(w, fromStatus); err != nil {
			return nil, errors.Wrap(err, "reject withdrawal")
		}
		return w, errors.Wrap(ErrInvalidKeyMaterial, err.Error())
	}

	if err := b.apply(w, ThresholdReached); err != nil {
		return nil, err
	}

	if w.SignedTx, err = encodeTx(signed); err != nil {
		return nil, err
	}

	if err := b.store.UpdateWithdrawal(w, fromStatus); err != nil {
		return nil, errors.Wrap(err, "save signed withdrawal")
	}

	log.WithFields(log.Fields{"module": logModule, "id": w.RequestID, "signers": len(w.Signatures)}).Info("withdrawal signed")
	return b.broadcast(ctx, w)
}

func (b *Builder) changeOutput(w *orm.Withdrawal, tx *wire.MsgTx) (*orm.CustodyUTXO, error) {
	if len(tx.TxOut) < 2 {
		return nil, nil
	}

	inputs, err := b.loadInputs(w, tx)
	if err != nil {
		return nil, err
	}

	first := inputs[0].utxo
	return &orm.CustodyUTXO{
		TxID:            tx.TxHash().String(),
		Vout:            1,
		Amount:          uint64(tx.TxOut[1].Value),
		PkScript:        first.PkScript,
		PegInAddress:    first.PegInAddress,
		ClaimScript:     first.ClaimScript,
		RedeemScript:    first.RedeemScript,
		FederationXPubs: first.FederationXPubs,
		Threshold:       first.Threshold,
	}, nil
}

// broadcast sends a Signed withdrawal. Only an accepted answer moves it on.
// A rejected or unreachable broadcast leaves it Signed with its inputs
// reserved, since the signed tx could still be mined.
func (b *Builder) broadcast(ctx context.Context, w *orm.Withdrawal) (*orm.Withdrawal, error) {
	tx, err := decodeTx(w.SignedTx)
	if err != nil {
		return nil, errors.Wrap(err, "decode signed tx")
	}

	txID, err := b.broadcaster.Broadcast(ctx, tx)
	switch {
	case err == nil:
		change, err := b.changeOutput(w, tx)
		if err != nil {
			return nil, err
		}

		if err := b.apply(w, BroadcastAccepted); err != nil {
			return nil, err
		}

		w.MainchainTxID = txID
		w.RejectReason = ""
		if err := b.store.CompleteWithdrawal(w, common.WithdrawalSignedStatus, change); err != nil {
			return nil, errors.Wrap(err, "complete withdrawal")
		}

		log.WithFields(log.Fields{"module": logModule, "id": w.RequestID, "tx_id": txID}).Info("withdrawal broadcast")
		return w, nil

	case errors.Cause(err) == ErrRejected:
		if err := b.apply(w, BroadcastRejected); err != nil {
			return nil, err
		}

		w.RejectReason = err.Error()
		if err := b.store.UpdateWithdrawal(w, common.WithdrawalSignedStatus); err != nil {
			return nil, errors.Wrap(err, "save broadcast rejection")
		}

		log.WithFields(log.Fields{"module": logModule, "id": w.RequestID, "err": err}).Warn("withdrawal rejected by mainchain, kept signed")
		return w, err

	default:
		log.WithFields(log.Fields{"module": logModule, "id": w.RequestID, "err": err}).Warn("fail on broadcast withdrawal")
		if errors.Cause(err) != ErrUpstreamUnavailable {
			err = errors.Wrap(ErrUpstreamUnavailable, err.Error())
		}
		return w, err
	}
}

func (b *Builder) GetWithdrawal(id string) (*orm.Withdrawal, error) {
	w, err := b.store.GetWithdrawal(id)
	if err == database.ErrNotFound {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return w, err
}

func (b *Builder) ListWithdrawals() ([]*orm.Withdrawal, error) {
	return b.store.ListWithdrawals()
}
