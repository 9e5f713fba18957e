package withdrawal

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/database/orm"
	"github.com/bytom/peggateway/federation"
)

const (
	txVersion = 2
	// dustLimit is the smallest output the mainchain relays.
	dustLimit = 546
)

// spendInput is a custody output together with the decoded scripts needed to
// sign and verify the input spending it.
type spendInput struct {
	utxo         *orm.CustodyUTXO
	claimScript  []byte
	redeemScript []byte
	pkScript     []byte
}

func newSpendInput(utxo *orm.CustodyUTXO) (*spendInput, error) {
	in := &spendInput{utxo: utxo}
	var err error
	if in.claimScript, err = hex.DecodeString(utxo.ClaimScript); err != nil {
		return nil, errors.Wrap(err, "decode claim script")
	}

	if in.redeemScript, err = hex.DecodeString(utxo.RedeemScript); err != nil {
		return nil, errors.Wrap(err, "decode redeem script")
	}

	if in.pkScript, err = hex.DecodeString(utxo.PkScript); err != nil {
		return nil, errors.Wrap(err, "decode pk script")
	}
	return in, nil
}

func outPoint(utxo *orm.CustodyUTXO) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(utxo.TxID)
	if err != nil {
		return nil, errors.Wrapf(err, "custody output %s", utxo.TxID)
	}
	return wire.NewOutPoint(hash, utxo.Vout), nil
}

// buildUnsignedTx spends inputs to destination. The fee comes out of the
// destination output, change goes back to the first input's script and
// change below the dust limit is left to the miners. It returns the tx, the
// change amount and the fee actually paid.
func buildUnsignedTx(inputs []*orm.CustodyUTXO, destination []byte, amount, fee uint64) (*wire.MsgTx, uint64, uint64, error) {
	if amount <= fee || amount-fee < dustLimit {
		return nil, 0, 0, errors.Wrapf(ErrInvalidRequest, "amount %d does not cover fee %d", amount, fee)
	}

	tx := wire.NewMsgTx(txVersion)
	var total uint64
	for _, utxo := range inputs {
		op, err := outPoint(utxo)
		if err != nil {
			return nil, 0, 0, err
		}

		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		total += utxo.Amount
	}

	if total < amount {
		return nil, 0, 0, errors.Wrapf(ErrInsufficientFunds, "custody holds %d, need %d", total, amount)
	}

	tx.AddTxOut(wire.NewTxOut(int64(amount-fee), destination))

	change := total - amount
	if change < dustLimit {
		return tx, 0, fee + change, nil
	}

	changeScript, err := hex.DecodeString(inputs[0].PkScript)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "decode change script")
	}

	tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	return tx, change, fee, nil
}

func encodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func decodeTx(s string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

func prevOutFetcher(inputs []*spendInput) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range inputs {
		op, err := outPoint(in.utxo)
		if err != nil {
			return nil, err
		}

		fetcher.AddPrevOut(*op, wire.NewTxOut(int64(in.utxo.Amount), in.pkScript))
	}
	return fetcher, nil
}

// signInputs signs every input with the key tweaked by that input's claim
// script and returns one hex witness signature per input.
func signInputs(tx *wire.MsgTx, inputs []*spendInput, key *hdkeychain.ExtendedKey) ([]string, error) {
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKeyMaterial, err.Error())
	}

	fetcher, err := prevOutFetcher(inputs)
	if err != nil {
		return nil, err
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sigs := make([]string, 0, len(inputs))
	for i, in := range inputs {
		tweaked, err := federation.TweakPrivKey(priv, in.claimScript)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidKeyMaterial, err.Error())
		}

		sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, i, int64(in.utxo.Amount), in.redeemScript, txscript.SigHashAll, tweaked)
		if err != nil {
			return nil, errors.Wrapf(err, "sign input %d", i)
		}
		sigs = append(sigs, hex.EncodeToString(sig))
	}
	return sigs, nil
}

// finalizeTx puts threshold signatures on every input in redeem script key
// order and runs each input through the script engine.
func finalizeTx(tx *wire.MsgTx, inputs []*spendInput, w *orm.Withdrawal) (*wire.MsgTx, error) {
	signed := tx.Copy()
	for i, in := range inputs {
		keys, err := federation.TweakedKeys(in.utxo.FederationXPubs, in.claimScript)
		if err != nil {
			return nil, err
		}

		redeemScript, sorted, err := federation.MultiSigScript(keys, in.utxo.Threshold)
		if err != nil {
			return nil, err
		}

		if !bytes.Equal(redeemScript, in.redeemScript) {
			return nil, errors.Errorf("input %d redeem script does not match its federation", i)
		}

		signerOf := make(map[string]string, len(keys))
		for j, xpub := range in.utxo.FederationXPubs {
			signerOf[string(keys[j].SerializeCompressed())] = xpub
		}

		witness := wire.TxWitness{nil}
		for _, key := range sorted {
			if len(witness)-1 == in.utxo.Threshold {
				break
			}

			sigs, ok := w.Signatures[signerOf[string(key.SerializeCompressed())]]
			if !ok || i >= len(sigs) {
				continue
			}

			sig, err := hex.DecodeString(sigs[i])
			if err != nil {
				return nil, errors.Wrapf(err, "decode signature of input %d", i)
			}
			witness = append(witness, sig)
		}

		if len(witness)-1 < in.utxo.Threshold {
			return nil, errors.Wrapf(ErrInsufficientSignatures, "input %d has %d of %d signatures", i, len(witness)-1, in.utxo.Threshold)
		}
		signed.TxIn[i].Witness = append(witness, in.redeemScript)
	}

	if err := verifyTx(signed, inputs); err != nil {
		return nil, err
	}
	return signed, nil
}

func verifyTx(tx *wire.MsgTx, inputs []*spendInput) error {
	fetcher, err := prevOutFetcher(inputs)
	if err != nil {
		return err
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range inputs {
		engine, err := txscript.NewEngine(in.pkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, int64(in.utxo.Amount), fetcher)
		if err != nil {
			return errors.Wrapf(err, "input %d", i)
		}

		if err := engine.Execute(); err != nil {
			return errors.Wrapf(err, "verify input %d", i)
		}
	}
	return nil
}
