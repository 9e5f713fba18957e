package orm

import (
	"encoding/json"
	"time"

	"github.com/bytom/peggateway/common"
)

// Claim records a credited mainchain deposit. (PegInAddress, ProofID) is
// unique.
type Claim struct {
	ID                uint64 `gorm:"primary_key"`
	PegInAddress      string `gorm:"unique_index:idx_pegin_proof"`
	ProofID           string `gorm:"unique_index:idx_pegin_proof"`
	AccountID         string `gorm:"index"`
	Amount            uint64
	BlockHash         string
	SidechainCreditID string
	ClaimedAt         time.Time
}

func (Claim) TableName() string { return "claims" }

func (c *Claim) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		PegInAddress      string    `json:"pegin_address"`
		ProofID           string    `json:"mainchain_proof_id"`
		AccountID         string    `json:"account_id"`
		Amount            string    `json:"amount"`
		BlockHash         string    `json:"block_hash"`
		SidechainCreditID string    `json:"sidechain_credit_id"`
		ClaimedAt         time.Time `json:"claimed_at"`
	}{
		PegInAddress:      c.PegInAddress,
		ProofID:           c.ProofID,
		AccountID:         c.AccountID,
		Amount:            common.SatoshiToCoin(c.Amount),
		BlockHash:         c.BlockHash,
		SidechainCreditID: c.SidechainCreditID,
		ClaimedAt:         c.ClaimedAt,
	})
}
