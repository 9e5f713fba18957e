package orm

import (
	"encoding/json"
	"time"

	"github.com/bytom/peggateway/common"
)

type PegInAddress struct {
	ID              uint64            `gorm:"primary_key"`
	AccountID       string            `gorm:"unique_index"`
	Address         string            `gorm:"unique_index"`
	ClaimScript     string
	RedeemScript    string
	PkScript        string
	FederationXPubs common.StringList `gorm:"type:text"`
	Threshold       int
	Status          uint8
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (PegInAddress) TableName() string { return "pegin_addresses" }

func (p *PegInAddress) MarshalJSON() ([]byte, error) {
	status, err := common.PegInStatus2Str(p.Status)
	if err != nil {
		return nil, err
	}

	return json.Marshal(&struct {
		AccountID       string            `json:"account_id"`
		Address         string            `json:"address"`
		ClaimScript     string            `json:"claim_script"`
		RedeemScript    string            `json:"redeem_script"`
		FederationXPubs common.StringList `json:"federation_xpubs"`
		Threshold       int               `json:"threshold"`
		Status          string            `json:"status"`
		CreatedAt       time.Time         `json:"created_at"`
	}{
		AccountID:       p.AccountID,
		Address:         p.Address,
		ClaimScript:     p.ClaimScript,
		RedeemScript:    p.RedeemScript,
		FederationXPubs: p.FederationXPubs,
		Threshold:       p.Threshold,
		Status:          status,
		CreatedAt:       p.CreatedAt,
	})
}
