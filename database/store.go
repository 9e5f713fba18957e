package database

import (
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/database/orm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateClaim    = errors.New("deposit already claimed")
	ErrInconsistentDB    = errors.New("inconsistent db status")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitReached      = errors.New("record limit reached")
)

// WithdrawalBuildFunc receives the unreserved custody outputs, oldest first,
// and returns the withdrawal to save together with the outputs it spends.
// It runs while the store holds the account, so it must not call back into
// the store.
type WithdrawalBuildFunc func(available []*orm.CustodyUTXO) (*orm.Withdrawal, []*orm.CustodyUTXO, error)

// Store is the durable state of the gateway. Every method is atomic.
type Store interface {
	// InsertKeyPair appends a key pair. A positive limit caps the number of
	// stored pairs and fails with ErrLimitReached once hit.
	InsertKeyPair(keyPair *orm.KeyPair, limit int) error
	GetKeyPair(xpub string) (*orm.KeyPair, error)
	ListKeyPairs() ([]*orm.KeyPair, error)

	// InsertPegInAddress stores the address unless the account already owns
	// one, in which case the stored record is returned instead.
	InsertPegInAddress(address *orm.PegInAddress) (*orm.PegInAddress, error)
	GetPegInAddress(address string) (*orm.PegInAddress, error)
	ListPegInAddresses() ([]*orm.PegInAddress, error)
	// MarkPegInFunded moves an Issued address to Funded and leaves any other
	// status untouched.
	MarkPegInFunded(address string) error

	GetClaim(address, proofID string) (*orm.Claim, error)
	// ApplyClaim records the claim and its custody outputs, credits the
	// owning account and marks the address Claimed. ErrDuplicateClaim leaves
	// everything unchanged.
	ApplyClaim(claim *orm.Claim, utxos []*orm.CustodyUTXO) error
	ListClaims() ([]*orm.Claim, error)
	GetBalance(accountID string) (uint64, error)

	// CreateWithdrawal debits amount from the account, reserves the outputs
	// chosen by build and saves the returned withdrawal.
	CreateWithdrawal(accountID string, amount uint64, build WithdrawalBuildFunc) (*orm.Withdrawal, error)
	GetWithdrawal(requestID string) (*orm.Withdrawal, error)
	ListWithdrawals() ([]*orm.Withdrawal, error)
	ListWithdrawalInputs(requestID string) ([]*orm.CustodyUTXO, error)
	// UpdateWithdrawal saves signatures, transactions and status when the
	// stored status still equals fromStatus, else ErrInconsistentDB.
	UpdateWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error
	// CompleteWithdrawal saves the broadcast withdrawal, spends its inputs
	// and records the change output when there is one.
	CompleteWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8, change *orm.CustodyUTXO) error
	// RejectWithdrawal saves the rejected withdrawal, releases its inputs and
	// refunds the account.
	RejectWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error
}
