package federation

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/database/orm"
)

// PegInDeriver issues one peg-in address per account. Asking again for an
// account returns the address issued first.
type PegInDeriver struct {
	store     database.Store
	keys      KeySource
	threshold int
	params    *chaincfg.Params
}

func NewPegInDeriver(store database.Store, keys KeySource, threshold int, params *chaincfg.Params) *PegInDeriver {
	return &PegInDeriver{store: store, keys: keys, threshold: threshold, params: params}
}

func (d *PegInDeriver) CreatePegInAddress(accountID string) (*orm.PegInAddress, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrInvalidAccount
	}

	xpubs, err := d.keys.FederationXPubs()
	if err != nil {
		return nil, errors.Wrap(ErrDerivation, err.Error())
	}

	script, err := DerivePegIn(xpubs, accountID, d.threshold, d.params)
	if err != nil {
		return nil, err
	}

	address, err := d.store.InsertPegInAddress(&orm.PegInAddress{
		AccountID:       accountID,
		Address:         script.Address,
		ClaimScript:     hex.EncodeToString(script.ClaimScript),
		RedeemScript:    hex.EncodeToString(script.RedeemScript),
		PkScript:        hex.EncodeToString(script.PkScript),
		FederationXPubs: common.StringList(xpubs),
		Threshold:       d.threshold,
		Status:          common.PegInIssuedStatus,
	})
	if err != nil {
		return nil, errors.Wrap(err, "store peg-in address")
	}

	log.WithFields(log.Fields{"module": logModule, "account_id": accountID, "address": address.Address}).Info("peg-in address issued")
	return address, nil
}

// ListPegInAddresses returns every issued address in insertion order.
func (d *PegInDeriver) ListPegInAddresses() ([]*orm.PegInAddress, error) {
	return d.store.ListPegInAddresses()
}
