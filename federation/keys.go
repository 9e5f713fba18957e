package federation

import (
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/config"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/database/orm"
)

const logModule = "federation"

// KeySource supplies the federation xpubs peg-in scripts are built from.
type KeySource interface {
	FederationXPubs() ([]string, error)
}

// StaticKeys is a federation fixed by configuration.
type StaticKeys []string

func (s StaticKeys) FederationXPubs() ([]string, error) {
	return append([]string(nil), s...), nil
}

// KeyVault generates and keeps the federation's BIP32 master keys. Private
// keys leave the vault only through SigningKey.
type KeyVault struct {
	store       database.Store
	params      *chaincfg.Params
	maxKeyPairs int
	sealer      *sealer
	newSeed     func() ([]byte, error)
}

func NewKeyVault(store database.Store, params *chaincfg.Params, cfg *config.Federation) *KeyVault {
	return newKeyVault(store, params, cfg, DefaultScryptOptions)
}

func newKeyVault(store database.Store, params *chaincfg.Params, cfg *config.Federation, opts ScryptOptions) *KeyVault {
	return &KeyVault{
		store:       store,
		params:      params,
		maxKeyPairs: cfg.MaxKeyPairs,
		sealer:      newSealer(cfg.VaultPassphrase, opts),
		newSeed: func() ([]byte, error) {
			return hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
		},
	}
}

func publicKeyPair(kp *orm.KeyPair) *orm.KeyPair {
	return &orm.KeyPair{ID: kp.ID, KeyID: kp.KeyID, XPub: kp.XPub, CreatedAt: kp.CreatedAt}
}

// CreateKeyPair generates a fresh master key from the system randomness and
// appends it to the vault. The returned record carries no private material.
func (v *KeyVault) CreateKeyPair() (*orm.KeyPair, error) {
	seed, err := v.newSeed()
	if err != nil {
		return nil, errors.Wrap(ErrGeneration, err.Error())
	}

	master, err := hdkeychain.NewMaster(seed, v.params)
	if err != nil {
		return nil, errors.Wrap(ErrGeneration, err.Error())
	}

	xpub, err := master.Neuter()
	if err != nil {
		return nil, errors.Wrap(ErrGeneration, err.Error())
	}

	keyPair := &orm.KeyPair{
		KeyID: uuid.New().String(),
		XPub:  xpub.String(),
		XPrv:  master.String(),
	}

	if v.sealer != nil {
		if keyPair.XPrv, err = v.sealer.seal([]byte(keyPair.XPrv)); err != nil {
			return nil, errors.Wrap(ErrGeneration, err.Error())
		}
		keyPair.Sealed = true
	}

	if err := v.store.InsertKeyPair(keyPair, v.maxKeyPairs); err != nil {
		if errors.Cause(err) == database.ErrLimitReached {
			return nil, errors.Wrapf(ErrKeyPairLimit, "vault holds at most %d key pairs", v.maxKeyPairs)
		}
		return nil, errors.Wrap(err, "store key pair")
	}

	log.WithFields(log.Fields{"module": logModule, "key_id": keyPair.KeyID, "xpub": keyPair.XPub}).Info("key pair created")
	return publicKeyPair(keyPair), nil
}

// ListKeyPairs returns the public half of every key pair in creation order.
func (v *KeyVault) ListKeyPairs() ([]*orm.KeyPair, error) {
	keyPairs, err := v.store.ListKeyPairs()
	if err != nil {
		return nil, err
	}

	res := make([]*orm.KeyPair, 0, len(keyPairs))
	for _, kp := range keyPairs {
		res = append(res, publicKeyPair(kp))
	}
	return res, nil
}

func (v *KeyVault) FederationXPubs() ([]string, error) {
	keyPairs, err := v.store.ListKeyPairs()
	if err != nil {
		return nil, err
	}

	xpubs := make([]string, 0, len(keyPairs))
	for _, kp := range keyPairs {
		xpubs = append(xpubs, kp.XPub)
	}
	return xpubs, nil
}

// SigningKey unseals the master private key behind xpub.
func (v *KeyVault) SigningKey(xpub string) (*hdkeychain.ExtendedKey, error) {
	keyPair, err := v.store.GetKeyPair(xpub)
	if err == database.ErrNotFound {
		return nil, errors.Wrap(ErrUnknownKey, xpub)
	} else if err != nil {
		return nil, err
	}

	xprv := []byte(keyPair.XPrv)
	if keyPair.Sealed {
		if v.sealer == nil {
			return nil, errors.Wrap(ErrSealedKey, "vault passphrase not configured")
		}

		if xprv, err = v.sealer.open(keyPair.XPrv); err != nil {
			return nil, err
		}
	}

	key, err := hdkeychain.NewKeyFromString(string(xprv))
	if err != nil {
		return nil, errors.Wrap(ErrSealedKey, err.Error())
	}
	return key, nil
}
