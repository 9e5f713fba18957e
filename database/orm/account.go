package orm

// Account is the sidechain ledger entry of an account, in satoshi.
type Account struct {
	AccountID string `gorm:"primary_key"`
	Balance   uint64
}

func (Account) TableName() string { return "accounts" }
