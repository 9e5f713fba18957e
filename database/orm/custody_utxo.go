package orm

import (
	"database/sql"
	"time"

	"github.com/bytom/peggateway/common"
)

// CustodyUTXO is a mainchain output locked to a federation peg-in script.
// The script data is copied from the peg-in address so a withdrawal can sign
// without further lookups.
type CustodyUTXO struct {
	ID              uint64 `gorm:"primary_key"`
	TxID            string `gorm:"unique_index:idx_outpoint"`
	Vout            uint32 `gorm:"unique_index:idx_outpoint"`
	Amount          uint64
	PkScript        string
	PegInAddress    string `gorm:"index"`
	ClaimScript     string
	RedeemScript    string
	FederationXPubs common.StringList `gorm:"type:text"`
	Threshold       int
	WithdrawalID    sql.NullString `sql:"default:null" gorm:"index"`
	Spent           bool
	CreatedAt       time.Time
}

func (CustodyUTXO) TableName() string { return "custody_utxos" }
