package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/database/orm"
)

func claimKey(address, proofID string) string {
	return fmt.Sprintf("%s:%s", address, proofID)
}

// MemoryStore keeps all state in process. Records are copied on the way in
// and out so callers never share memory with the store.
type MemoryStore struct {
	mu sync.Mutex

	keyPairs      []*orm.KeyPair
	pegIns        []*orm.PegInAddress
	pegInByAddr   map[string]*orm.PegInAddress
	pegInByAcct   map[string]*orm.PegInAddress
	claims        []*orm.Claim
	claimByKey    map[string]*orm.Claim
	utxos         []*orm.CustodyUTXO
	balances      map[string]uint64
	withdrawals   []*orm.Withdrawal
	withdrawalMap map[string]*orm.Withdrawal
	nextID        uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pegInByAddr:   make(map[string]*orm.PegInAddress),
		pegInByAcct:   make(map[string]*orm.PegInAddress),
		claimByKey:    make(map[string]*orm.Claim),
		balances:      make(map[string]uint64),
		withdrawalMap: make(map[string]*orm.Withdrawal),
	}
}

func (m *MemoryStore) id() uint64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) InsertKeyPair(keyPair *orm.KeyPair, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > 0 && len(m.keyPairs) >= limit {
		return ErrLimitReached
	}

	for _, kp := range m.keyPairs {
		if kp.XPub == keyPair.XPub || kp.KeyID == keyPair.KeyID {
			return ErrInconsistentDB
		}
	}

	keyPair.ID = m.id()
	if keyPair.CreatedAt.IsZero() {
		keyPair.CreatedAt = time.Now()
	}

	kp := *keyPair
	m.keyPairs = append(m.keyPairs, &kp)
	return nil
}

func (m *MemoryStore) GetKeyPair(xpub string) (*orm.KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, kp := range m.keyPairs {
		if kp.XPub == xpub {
			c := *kp
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListKeyPairs() ([]*orm.KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyPairs := make([]*orm.KeyPair, 0, len(m.keyPairs))
	for _, kp := range m.keyPairs {
		c := *kp
		keyPairs = append(keyPairs, &c)
	}
	return keyPairs, nil
}

func copyPegIn(p *orm.PegInAddress) *orm.PegInAddress {
	c := *p
	c.FederationXPubs = append(common.StringList(nil), p.FederationXPubs...)
	return &c
}

func (m *MemoryStore) InsertPegInAddress(address *orm.PegInAddress) (*orm.PegInAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exist, ok := m.pegInByAcct[address.AccountID]; ok {
		return copyPegIn(exist), nil
	}

	if _, ok := m.pegInByAddr[address.Address]; ok {
		return nil, ErrInconsistentDB
	}

	p := copyPegIn(address)
	p.ID = m.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.pegIns = append(m.pegIns, p)
	m.pegInByAddr[p.Address] = p
	m.pegInByAcct[p.AccountID] = p
	return copyPegIn(p), nil
}

func (m *MemoryStore) GetPegInAddress(address string) (*orm.PegInAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pegInByAddr[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPegIn(p), nil
}

func (m *MemoryStore) ListPegInAddresses() ([]*orm.PegInAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addresses := make([]*orm.PegInAddress, 0, len(m.pegIns))
	for _, p := range m.pegIns {
		addresses = append(addresses, copyPegIn(p))
	}
	return addresses, nil
}

func (m *MemoryStore) MarkPegInFunded(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pegInByAddr[address]
	if !ok {
		return ErrNotFound
	}

	if p.Status == common.PegInIssuedStatus {
		p.Status = common.PegInFundedStatus
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) GetClaim(address, proofID string) (*orm.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claimByKey[claimKey(address, proofID)]
	if !ok {
		return nil, ErrNotFound
	}

	claim := *c
	return &claim, nil
}

func (m *MemoryStore) ApplyClaim(claim *orm.Claim, utxos []*orm.CustodyUTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := claimKey(claim.PegInAddress, claim.ProofID)
	if _, ok := m.claimByKey[key]; ok {
		return ErrDuplicateClaim
	}

	p, ok := m.pegInByAddr[claim.PegInAddress]
	if !ok {
		return ErrNotFound
	}

	for _, u := range utxos {
		for _, exist := range m.utxos {
			if exist.TxID == u.TxID && exist.Vout == u.Vout {
				return ErrInconsistentDB
			}
		}
	}

	c := *claim
	c.ID = m.id()
	m.claims = append(m.claims, &c)
	m.claimByKey[key] = &c
	claim.ID = c.ID

	for _, u := range utxos {
		m.insertUTXO(u)
	}

	m.balances[claim.AccountID] += claim.Amount
	if p.Status != common.PegInClaimedStatus {
		p.Status = common.PegInClaimedStatus
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) insertUTXO(u *orm.CustodyUTXO) {
	c := *u
	c.ID = m.id()
	c.FederationXPubs = append(common.StringList(nil), u.FederationXPubs...)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.utxos = append(m.utxos, &c)
}

func (m *MemoryStore) ListClaims() ([]*orm.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claims := make([]*orm.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		claim := *c
		claims = append(claims, &claim)
	}
	return claims, nil
}

func (m *MemoryStore) GetBalance(accountID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances[accountID], nil
}

func copyUTXO(u *orm.CustodyUTXO) *orm.CustodyUTXO {
	c := *u
	c.FederationXPubs = append(common.StringList(nil), u.FederationXPubs...)
	return &c
}

func (m *MemoryStore) CreateWithdrawal(accountID string, amount uint64, build WithdrawalBuildFunc) (*orm.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[accountID] < amount {
		return nil, ErrInsufficientFunds
	}

	var available []*orm.CustodyUTXO
	for _, u := range m.utxos {
		if !u.Spent && !u.WithdrawalID.Valid {
			available = append(available, copyUTXO(u))
		}
	}

	withdrawal, selected, err := build(available)
	if err != nil {
		return nil, err
	}

	if _, ok := m.withdrawalMap[withdrawal.RequestID]; ok {
		return nil, ErrInconsistentDB
	}

	reserved := make([]*orm.CustodyUTXO, 0, len(selected))
	for _, s := range selected {
		u := m.findUTXO(s.ID)
		if u == nil || u.Spent || u.WithdrawalID.Valid {
			return nil, ErrInconsistentDB
		}
		reserved = append(reserved, u)
	}

	for _, u := range reserved {
		u.WithdrawalID = sql.NullString{String: withdrawal.RequestID, Valid: true}
	}
	m.balances[accountID] -= amount

	w := withdrawal.Clone()
	w.ID = m.id()
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	m.withdrawals = append(m.withdrawals, w)
	m.withdrawalMap[w.RequestID] = w
	return w.Clone(), nil
}

func (m *MemoryStore) findUTXO(id uint64) *orm.CustodyUTXO {
	for _, u := range m.utxos {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (m *MemoryStore) GetWithdrawal(requestID string) (*orm.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawalMap[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

func (m *MemoryStore) ListWithdrawals() ([]*orm.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawals := make([]*orm.Withdrawal, 0, len(m.withdrawals))
	for _, w := range m.withdrawals {
		withdrawals = append(withdrawals, w.Clone())
	}
	return withdrawals, nil
}

func (m *MemoryStore) ListWithdrawalInputs(requestID string) ([]*orm.CustodyUTXO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inputs []*orm.CustodyUTXO
	for _, u := range m.utxos {
		if u.WithdrawalID.Valid && u.WithdrawalID.String == requestID {
			inputs = append(inputs, copyUTXO(u))
		}
	}
	return inputs, nil
}

func (m *MemoryStore) casWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) (*orm.Withdrawal, error) {
	w, ok := m.withdrawalMap[withdrawal.RequestID]
	if !ok {
		return nil, ErrNotFound
	}

	if w.Status != fromStatus {
		return nil, ErrInconsistentDB
	}

	updated := withdrawal.Clone()
	updated.ID = w.ID
	updated.CreatedAt = w.CreatedAt
	updated.UpdatedAt = time.Now()
	*w = *updated
	return w, nil
}

func (m *MemoryStore) UpdateWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.casWithdrawal(withdrawal, fromStatus)
	return err
}

func (m *MemoryStore) CompleteWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8, change *orm.CustodyUTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.casWithdrawal(withdrawal, fromStatus)
	if err != nil {
		return err
	}

	for _, u := range m.utxos {
		if u.WithdrawalID.Valid && u.WithdrawalID.String == w.RequestID {
			u.Spent = true
		}
	}

	if change != nil {
		m.insertUTXO(change)
	}
	return nil
}

func (m *MemoryStore) RejectWithdrawal(withdrawal *orm.Withdrawal, fromStatus uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.casWithdrawal(withdrawal, fromStatus)
	if err != nil {
		return err
	}

	for _, u := range m.utxos {
		if u.WithdrawalID.Valid && u.WithdrawalID.String == w.RequestID && !u.Spent {
			u.WithdrawalID = sql.NullString{}
		}
	}

	m.balances[w.AccountID] += w.Amount
	return nil
}
