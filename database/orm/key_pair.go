package orm

import (
	"time"
)

// KeyPair is a federation key held by the vault. XPrv is sealed when a vault
// passphrase is configured and never leaves this package through JSON.
type KeyPair struct {
	ID        uint64    `gorm:"primary_key" json:"-"`
	KeyID     string    `gorm:"unique_index" json:"id"`
	XPub      string    `gorm:"unique_index" json:"xpub"`
	XPrv      string    `json:"-"`
	Sealed    bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (KeyPair) TableName() string { return "key_pairs" }
