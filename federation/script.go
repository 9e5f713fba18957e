package federation

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const claimTagPrefix = "pegin:"

// PegInScript is everything derived for one account: the claim script that
// tags the account, the federation multisig redeem script and the P2WSH
// output paying to it.
type PegInScript struct {
	ClaimScript  []byte
	RedeemScript []byte
	PkScript     []byte
	Address      string
	// PubKeys are the tweaked federation keys in redeem script order.
	PubKeys []*btcec.PublicKey
}

// ClaimScript is the sidechain program the account claims with. Its hash
// commits the account id into every federation key tweak.
func ClaimScript(accountID string) []byte {
	tag := sha3.Sum256([]byte(claimTagPrefix + accountID))
	script, _ := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(tag[:]).Script()
	return script
}

// ParseXPub decodes a neutered extended key into its public key.
func ParseXPub(xpub string) (*btcec.PublicKey, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, err
	}

	if key.IsPrivate() {
		return nil, errors.New("extended key is private")
	}
	return key.ECPubKey()
}

func tweakScalar(pub *btcec.PublicKey, claimScript []byte) (*secp256k1.ModNScalar, error) {
	mac := hmac.New(sha256.New, pub.SerializeCompressed())
	mac.Write(claimScript)

	var tweak secp256k1.ModNScalar
	if overflow := tweak.SetByteSlice(mac.Sum(nil)); overflow {
		return nil, errors.New("tweak overflows the curve order")
	}
	return &tweak, nil
}

// TweakPubKey returns pub + HMAC-SHA256(pub, claimScript)·G.
func TweakPubKey(pub *btcec.PublicKey, claimScript []byte) (*btcec.PublicKey, error) {
	tweak, err := tweakScalar(pub, claimScript)
	if err != nil {
		return nil, err
	}

	var point, tweakPoint, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarBaseMultNonConst(tweak, &tweakPoint)
	secp256k1.AddNonConst(&point, &tweakPoint, &result)
	result.ToAffine()
	if result.X.IsZero() && result.Y.IsZero() {
		return nil, errors.New("tweaked key is the point at infinity")
	}

	return secp256k1.NewPublicKey(&result.X, &result.Y), nil
}

// TweakPrivKey is the private counterpart of TweakPubKey.
func TweakPrivKey(priv *btcec.PrivateKey, claimScript []byte) (*btcec.PrivateKey, error) {
	tweak, err := tweakScalar(priv.PubKey(), claimScript)
	if err != nil {
		return nil, err
	}

	var key secp256k1.ModNScalar
	key.Set(&priv.Key)
	if key.Add(tweak).IsZero() {
		return nil, errors.New("tweaked key is zero")
	}
	return secp256k1.NewPrivateKey(&key), nil
}

func validateFederation(xpubs []string, threshold int) error {
	if len(xpubs) == 0 {
		return errors.Wrap(ErrDerivation, "empty federation key set")
	}

	if len(xpubs) > txscript.MaxPubKeysPerMultiSig {
		return errors.Wrapf(ErrDerivation, "federation has %d keys, at most %d allowed", len(xpubs), txscript.MaxPubKeysPerMultiSig)
	}

	if threshold < 1 || threshold > len(xpubs) {
		return errors.Wrapf(ErrDerivation, "threshold %d out of range 1..%d", threshold, len(xpubs))
	}

	seen := make(map[string]bool, len(xpubs))
	for _, xpub := range xpubs {
		if seen[xpub] {
			return errors.Wrapf(ErrDerivation, "duplicate federation key %s", xpub)
		}
		seen[xpub] = true
	}
	return nil
}

// TweakedKeys tweaks every federation key by the claim script, keeping the
// order of xpubs.
func TweakedKeys(xpubs []string, claimScript []byte) ([]*btcec.PublicKey, error) {
	keys := make([]*btcec.PublicKey, 0, len(xpubs))
	for _, xpub := range xpubs {
		pub, err := ParseXPub(xpub)
		if err != nil {
			return nil, errors.Wrapf(ErrDerivation, "parse xpub %s: %v", xpub, err)
		}

		tweaked, err := TweakPubKey(pub, claimScript)
		if err != nil {
			return nil, errors.Wrap(ErrDerivation, err.Error())
		}
		keys = append(keys, tweaked)
	}
	return keys, nil
}

// MultiSigScript builds `threshold <keys> n OP_CHECKMULTISIG` with the keys
// sorted by their compressed encoding, and returns the keys in that order.
func MultiSigScript(keys []*btcec.PublicKey, threshold int) ([]byte, []*btcec.PublicKey, error) {
	sorted := append([]*btcec.PublicKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SerializeCompressed(), sorted[j].SerializeCompressed()) < 0
	})

	builder := txscript.NewScriptBuilder().AddInt64(int64(threshold))
	for _, key := range sorted {
		builder.AddData(key.SerializeCompressed())
	}
	builder.AddInt64(int64(len(sorted))).AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, nil, err
	}
	return script, sorted, nil
}

// DerivePegIn derives the peg-in address of an account. The result only
// depends on (xpubs, accountID, threshold) and the network, so anyone holding
// the federation xpubs can re-derive and audit it.
func DerivePegIn(xpubs []string, accountID string, threshold int, params *chaincfg.Params) (*PegInScript, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}

	if err := validateFederation(xpubs, threshold); err != nil {
		return nil, err
	}

	claimScript := ClaimScript(accountID)
	keys, err := TweakedKeys(xpubs, claimScript)
	if err != nil {
		return nil, err
	}

	redeemScript, sorted, err := MultiSigScript(keys, threshold)
	if err != nil {
		return nil, errors.Wrap(ErrDerivation, err.Error())
	}

	scriptHash := sha256.Sum256(redeemScript)
	address, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, errors.Wrap(ErrDerivation, err.Error())
	}

	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, errors.Wrap(ErrDerivation, err.Error())
	}

	return &PegInScript{
		ClaimScript:  claimScript,
		RedeemScript: redeemScript,
		PkScript:     pkScript,
		Address:      address.EncodeAddress(),
		PubKeys:      sorted,
	}, nil
}
