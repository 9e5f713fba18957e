package testutil

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Federation returns n deterministic master keys and their xpubs. Key i is
// derived from a seed of 32 bytes all set to i+1.
func Federation(n int, params *chaincfg.Params) ([]string, []*hdkeychain.ExtendedKey) {
	xpubs := make([]string, 0, n)
	xprvs := make([]*hdkeychain.ExtendedKey, 0, n)
	for i := 0; i < n; i++ {
		master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{byte(i + 1)}, 32), params)
		if err != nil {
			panic(err)
		}

		xpub, err := master.Neuter()
		if err != nil {
			panic(err)
		}

		xpubs = append(xpubs, xpub.String())
		xprvs = append(xprvs, master)
	}
	return xpubs, xprvs
}

// XPrvStrings serializes the keys the way API callers send them.
func XPrvStrings(keys []*hdkeychain.ExtendedKey) []string {
	res := make([]string, 0, len(keys))
	for _, key := range keys {
		res = append(res, key.String())
	}
	return res
}
