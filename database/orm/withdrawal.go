package orm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/bytom/peggateway/common"
)

// Signatures maps a signer xpub to its hex signatures, one per input.
type Signatures map[string][]string

func (s Signatures) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}

	b, err := json.Marshal(map[string][]string(s))
	return string(b), err
}

func (s *Signatures) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*s = Signatures{}
		return nil
	default:
		return errors.Errorf("can not scan %T into Signatures", src)
	}

	sigs := Signatures{}
	if err := json.Unmarshal(data, &sigs); err != nil {
		return err
	}

	*s = sigs
	return nil
}

type Withdrawal struct {
	ID                 uint64 `gorm:"primary_key"`
	RequestID          string `gorm:"unique_index"`
	AccountID          string `gorm:"index"`
	DestinationAddress string
	Amount             uint64
	Fee                uint64
	RootXPubs          common.StringList `gorm:"type:text"`
	Threshold          int
	Signatures         Signatures `gorm:"type:text"`
	UnsignedTx         string     `gorm:"type:text"`
	SignedTx           string     `gorm:"type:text"`
	MainchainTxID      string
	RejectReason       string
	Status             uint8
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Withdrawal) TableName() string { return "withdrawals" }

// Clone returns a copy that shares no maps or slices with w.
func (w *Withdrawal) Clone() *Withdrawal {
	c := *w
	c.RootXPubs = append(common.StringList(nil), w.RootXPubs...)
	c.Signatures = make(Signatures, len(w.Signatures))
	for xpub, sigs := range w.Signatures {
		c.Signatures[xpub] = append([]string(nil), sigs...)
	}
	return &c
}

func (w *Withdrawal) MarshalJSON() ([]byte, error) {
	status, err := common.WithdrawalStatus2Str(w.Status)
	if err != nil {
		return nil, err
	}

	signers := make([]string, 0, len(w.Signatures))
	for _, xpub := range w.RootXPubs {
		if _, ok := w.Signatures[xpub]; ok {
			signers = append(signers, xpub)
		}
	}

	return json.Marshal(&struct {
		ID                 string            `json:"id"`
		AccountID          string            `json:"account_id"`
		DestinationAddress string            `json:"destination_address"`
		Amount             string            `json:"amount"`
		Fee                string            `json:"fee"`
		RootXPubs          common.StringList `json:"root_xpubs"`
		Threshold          int               `json:"required_threshold"`
		Signers            []string          `json:"signers"`
		SignedTx           string            `json:"signed_tx,omitempty"`
		MainchainTxID      string            `json:"mainchain_tx_id,omitempty"`
		RejectReason       string            `json:"reject_reason,omitempty"`
		Status             string            `json:"status"`
		CreatedAt          time.Time         `json:"created_at"`
	}{
		ID:                 w.RequestID,
		AccountID:          w.AccountID,
		DestinationAddress: w.DestinationAddress,
		Amount:             common.SatoshiToCoin(w.Amount),
		Fee:                common.SatoshiToCoin(w.Fee),
		RootXPubs:          w.RootXPubs,
		Threshold:          w.Threshold,
		Signers:            signers,
		SignedTx:           w.SignedTx,
		MainchainTxID:      w.MainchainTxID,
		RejectReason:       w.RejectReason,
		Status:             status,
		CreatedAt:          w.CreatedAt,
	})
}
