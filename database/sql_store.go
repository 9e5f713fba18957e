package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/groupcache/lru"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/database/orm"
)

const (
	logModule = "database"

	maxPegInCached = 1024

	addressPrefix   = "address"
	accountIDPrefix = "accountID"

	mysqlDuplicateEntry = 1062
)

func fmtAddressKey(address string) string {
	return fmt.Sprintf("%s:%s", addressPrefix, address)
}

func fmtAccountIDKey(accountID string) string {
	return fmt.Sprintf("%s:%s", accountIDPrefix, accountID)
}

func isDuplicateErr(err error) bool {
	mysqlErr, ok := errors.Cause(err).(*mysql.MySQLError)
	return ok && mysqlErr.Number == mysqlDuplicateEntry
}

// SQLStore keeps the gateway state in MySQL. Peg-in addresses are cached by
// address and account since their scripts never change once issued.
type SQLStore struct {
	db *gorm.DB

	cacheMu sync.Mutex
	cache   *lru.Cache
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(
		&orm.KeyPair{},
		&orm.PegInAddress{},
		&orm.Claim{},
		&orm.CustodyUTXO{},
		&orm.Account{},
		&orm.Withdrawal{},
	).Error; err != nil {
		return nil, errors.Wrap(err, "migrate tables")
	}

	return &SQLStore{db: db, cache: lru.New(maxPegInCached)}, nil
}

func (s *SQLStore) cacheGet(key string) (*orm.PegInAddress, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}

	p := *v.(*orm.PegInAddress)
	return &p, true
}

func (s *SQLStore) cacheAdd(p *orm.PegInAddress) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	c := *p
	s.cache.Add(fmtAddressKey(p.Address), &c)
	s.cache.Add(fmtAccountIDKey(p.AccountID), &c)
}

func (s *SQLStore) cacheRemove(p *orm.PegInAddress) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache.Remove(fmtAddressKey(p.Address))
	s.cache.Remove(fmtAccountIDKey(p.AccountID))
}

func notFound(err error) error {
	if gorm.IsRecordNotFoundError(err) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) InsertKeyPair(keyPair *orm.KeyPair, limit int) error {
	dbTx := s.db.Begin()
	if limit > 0 {
		var count int
		if err := dbTx.Set("gorm:query_option", "FOR UPDATE").Model(&orm.KeyPair{}).Count(&count).Error; err != nil {
			dbTx.Rollback()
			return errors.Wrap(err, "count key pairs")
		}

		if count >= limit {
			dbTx.Rollback()
			return ErrLimitReached
		}
	}

	if err := dbTx.Create(keyPair).Error; err != nil {
		dbTx.Rollback()
		return errors.Wrap(err, "insert key pair")
	}

	return dbTx.Commit().Error
}

func (s *SQLStore) GetKeyPair(xpub string) (*orm.KeyPair, error) {
	keyPair := &orm.KeyPair{}
	if err := s.db.Where(&orm.KeyPair{XPub: xpub}).First(keyPair).Error; err != nil {
		return nil, notFound(err)
	}

	return keyPair, nil
}

func (s *SQLStore) ListKeyPairs() ([]*orm.KeyPair, error) {
	var keyPairs []*orm.KeyPair
	if err := s.db.Order("id asc").Find(&keyPairs).Error; err != nil {
		return nil, errors.Wrap(err, "list key pairs")
	}

	return keyPairs, nil
}

func (s *SQLStore) getPegInByAccount(accountID string) (*orm.PegInAddress, error) {
	if p, ok := s.cacheGet(fmtAccountIDKey(accountID)); ok {
		return p, nil
	}

	p := &orm.PegInAddress{}
	if err := s.db.Where(&orm.PegInAddress{AccountID: accountID}).First(p).Error; err != nil {
		return nil, notFound(err)
	}

	s.cacheAdd(p)
	return p, nil
}

func (s *SQLStore) InsertPegInAddress(address *orm.PegInAddress) (*orm.PegInAddress, error) {
	if exist, err := s.getPegInByAccount(address.AccountID); err == nil {
		return exist, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	p := *address
	if err := s.db.Create(&p).Error; err != nil {
		if !isDuplicateErr(err) {
			return nil, errors.Wrap(err, "insert peg-in address")
		}

		// a concurrent request for the same account won the unique index
		exist, err := s.getPegInByAccount(address.AccountID)
		if err != nil {
			return nil, errors.Wrap(ErrInconsistentDB, "address issued to another account")
		}
		return exist, nil
	}

	s.cacheAdd(&p)
	return &p, nil
}

func (s *SQLStore) GetPegInAddress(address string) (*orm.PegInAddress, error) {
	if p, ok := s.cacheGet(fmtAddressKey(address)); ok {
		return p, nil
	}

	p := &orm.PegInAddress{}
	if err := s.db.Where(&orm.PegInAddress{Address: address}).First(p).Error; err != nil {
		return nil, notFound(err)
	}

	s.cacheAdd(p)
	return p, nil
}

func (s *SQLStore) ListPegInAddresses() ([]*orm.PegInAddress, error) {
	var addresses []*orm.PegInAddress
	if err := s.db.Order("id asc").Find(&addresses).Error; err != nil {
		return nil, errors.Wrap(err, "list peg-in addresses")
	}

	return addresses, nil
}

func (s *SQLStore) MarkPegInFunded(address string) error {
	p, err := s.GetPegInAddress(address)
	if err != nil {
		return err
	}

	if err := s.db.Model(&orm.PegInAddress{}).
		Where("address = ? AND status = ?", address, common.PegInIssuedStatus).
		Updates(map[string]interface{}{"status": common.PegInFundedStatus, "updated_at": time.Now()}).Error; err != nil {
		return errors.Wrap(err, "mark peg-in funded")
	}

	s.cacheRemove(p)
	return nil
}

func (s *SQLStore) GetClaim(address, proofID string) (*orm.Claim, error) {
	claim := &orm.Claim{}
	if err := s.db.Where(&orm.Claim{PegInAddress: address, ProofID: proofID}).First(claim).Error; err != nil {
		return nil, notFound(err)
	}

	return claim, nil
}

func creditAccount(db *gorm.DB, accountID string, amount uint64) error {
	return db.Exec("INSERT INTO accounts (account_id, balance) VALUES (?, ?) ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)", accountID, amount).Error
}

func (s *SQLStore) ApplyClaim(claim *orm.Claim, utxos []*orm.CustodyUTXO) error {
	p, err := s.GetPegInAddress(claim.PegInAddress)
	if err != nil {
		return err
	}

	dbTx := s.db.Begin()
	if err := s.applyClaim(dbTx, claim, utxos); err != nil {
		dbTx.Rollback()
		return err
	}

	if err := dbTx.Commit().Error; err != nil {
		return err
	}

	s.cacheRemove(p)
	log.WithFields(log.Fields{"module": logModule, "pegin_address": claim.PegInAddress, "proof_id": claim.ProofID}).Debug("claim stored")
	return nil
}

func (s *SQLStore) applyClaim(dbTx *gorm.DB, claim *orm.Claim, utxos []*orm.CustodyUTXO) error {
	if err := dbTx.Create(claim).Error; err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicateClaim
		}
		return errors.Wrap(err, "insert claim")
	}

	for _, u := range utxos {
		if err := dbTx.Create(u).Error; err != nil {
			return errors.Wrap(err, "insert custody utxo")
		}
	}

	if err := creditAccount(dbTx, claim.AccountID, claim.Amount); err != nil {
		return errors.Wrap(err, "credit account")
	}

	return dbTx.Model(&orm.PegInAddress{}).
		Where("address = ? AND status < ?", claim.PegInAddress, common.PegInClaimedStatus).
		Updates(map[string]interface{}{"status": common.PegInClaimedStatus, "updated_at": time.Now()}).Error
}

func (s *SQLStore) ListClaims() ([]*orm.Claim, error) {
	var claims []*orm.Claim
	if err := s.db.Order("id asc").Find(&claims).Error; err != nil {
		return nil, errors.Wrap(err, "list claims")
	}

	return claims, nil
}

func (s *SQLStore) GetBalance(accountID string) (uint64, error) {
	account := &orm.Account{}
	if err := s.db.Where(&orm.Account{AccountID: accountID}).First(account).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}

	return account.Balance, nil
}

func (s *SQLStore) CreateWithdrawal(accountID string, amount uint64, build WithdrawalBuildFunc) (*orm.Withdrawal, error) {
	dbTx := s.db.Begin()
	withdrawal, err := s.createWithdrawal(dbTx, accountID, amount, build)
	if err != nil {
		dbTx.Rollback()
		return nil, err
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, err
	}
	return withdrawal, nil
}

func (s *SQLStore) createWithdrawal(dbTx *gorm.DB, accountID string, amount uint64, build WithdrawalBuildFunc) (*orm.Withdrawal, error) {
	account := &orm.Account{}
	if err := dbTx.Set("gorm:query_option", "FOR UPDATE").Where(&orm.Account{AccountID: accountID}).First(account).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrInsufficientFunds
		}
		return nil, errors.Wrap(err, "lock account")
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	var available []*orm.CustodyUTXO
	if err := dbTx.Set("gorm:query_option", "FOR UPDATE").
		Where("spent = ? AND withdrawal_id IS NULL", false).
		Order("id asc").Find(&available).Error; err != nil {
		return nil, errors.Wrap(err, "query custody utxos")
	}

	withdrawal, selected, err := build(available)
	if err != nil {
		return nil, err
	}

	res := dbTx.Model(&orm.Account{}).
		Where("account_id = ? AND balance >= ?", accountID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "debit account")
	}

	if res.RowsAffected != 1 {
		return nil, ErrInconsistentDB
	}

	if err := dbTx.Create(withdrawal).Error; err != nil {
		return nil, errors.Wrap(err, "insert withdrawal")
	}

	for _, u := range selected {
		res := dbTx.Model(&orm.CustodyUTXO{}).
			Where("id = ? AND spent = ? AND withdrawal_id IS NULL", u.ID, false).
			UpdateColumn("withdrawal_id", withdrawal.RequestID)
		if res.Error != nil {
			return nil, errors.Wrap(res.Error, "reserve custody utxo")
		}

		if res.RowsAffected != 1 {
			return nil, ErrInconsistentDB
		}
	}

	return withdrawal, nil
}

func (s *SQLStore) GetWithdrawal(requestID string) (*orm.Withdrawal, error) {
	withdrawal := &orm.Withdrawal{}
	if err := s.db.Where(&orm.Withdrawal{RequestID: requestID}).First(withdrawal).Error; err != nil {
		return nil, notFound(err)
	}

	return withdrawal, nil
}

func (s *SQLStore) ListWithdrawals() ([]*orm.Withdrawal, error) {
	var withdrawals []*orm.Withdrawal
	if err := s.db.Order("id asc").Find(&withdrawals).Error; err != nil {
		return nil, errors.Wrap(err, "list withdrawals")
	}

	return withdrawals, nil
}

func (s *SQLStore) ListWithdrawalInputs(requestID string) ([]*orm.CustodyUTXO, error) {
	var inputs []*orm.CustodyUTXO
	if err := s.db.Where("withdrawal_id = ?", requestID).Order("id asc").Find(&inputs).Error; err != nil {
		return nil, errors.Wrap(err, "list withdrawal inputs")
	}

	return inputs, nil
}

func casWithdrawal(db *gorm.DB, withdrawal *orm.Withdrawal, fromStatus uint8) error {
	res := db.Model(&orm.Withdrawal{}).
		Where("request_id = ? AND status = ?", withdrawal.RequestID, fromStatus).
		Updates(map[string]interface{}{
			"signatures":      withdrawal.Signatures,
			"signed_tx":       withdrawal.SignedTx,
			"mainchain_tx_id": withdrawal.MainchainTxID,
			"reject_reason":   withdrawal.RejectReason,
			"status":          withdrawal.Status,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update withdrawal")
	}

	if res.RowsAffected != 1 {
		return ErrInconsistentDB
	}
	return nil
}

func (s *SQLStore) UpdateWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error {
	return casWithdrawal(s.db, withdrawal, fromStatus)
}

func (s *SQLStore) CompleteWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8, change *orm.CustodyUTXO) error {
	dbTx := s.db.Begin()
	if err := casWithdrawal(dbTx, withdrawal, fromStatus); err != nil {
		dbTx.Rollback()
		return err
	}

	if err := dbTx.Model(&orm.CustodyUTXO{}).Where("withdrawal_id = ?", withdrawal.RequestID).UpdateColumn("spent", true).Error; err != nil {
		dbTx.Rollback()
		return errors.Wrap(err, "spend custody utxos")
	}

	if change != nil {
		if err := dbTx.Create(change).Error; err != nil {
			dbTx.Rollback()
			return errors.Wrap(err, "insert change utxo")
		}
	}

	return dbTx.Commit().Error
}

func (s *SQLStore) RejectWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error {
	dbTx := s.db.Begin()
	if err := casWithdrawal(dbTx, withdrawal, fromStatus); err != nil {
		dbTx.Rollback()
		return err
	}

	if err := dbTx.Model(&orm.CustodyUTXO{}).
		Where("withdrawal_id = ? AND spent = ?", withdrawal.RequestID, false).
		UpdateColumn("withdrawal_id", gorm.Expr("NULL")).Error; err != nil {
		dbTx.Rollback()
		return errors.Wrap(err, "release custody utxos")
	}

	if err := creditAccount(dbTx, withdrawal.AccountID, withdrawal.Amount); err != nil {
		dbTx.Rollback()
		return errors.Wrap(err, "refund account")
	}

	return dbTx.Commit().Error
}
