package withdrawal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/config"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/database/orm"
	"github.com/bytom/peggateway/federation"
	"github.com/bytom/peggateway/service"
	"github.com/bytom/peggateway/testutil"
)

var testParams = &chaincfg.RegressionNetParams

type fakeBroadcaster struct {
	mu  sync.Mutex
	txs []*wire.MsgTx
	err error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	f.txs = append(f.txs, tx)
	return tx.TxHash().String(), nil
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

type fakeVault map[string]*hdkeychain.ExtendedKey

func (v fakeVault) SigningKey(xpub string) (*hdkeychain.ExtendedKey, error) {
	key, ok := v[xpub]
	if !ok {
		return nil, errors.Wrap(federation.ErrUnknownKey, xpub)
	}
	return key, nil
}

type fixture struct {
	store       *database.MemoryStore
	xpubs       []string
	keys        []*hdkeychain.ExtendedKey
	xprvs       []string
	broadcaster *fakeBroadcaster
	builder     *Builder
}

// newFixture credits acct-1 with one custody output per deposit, locked by a
// 2-of-3 federation.
func newFixture(t *testing.T, deposits ...uint64) *fixture {
	store := database.NewMemoryStore()
	xpubs, keys := testutil.Federation(3, testParams)
	pegIn, err := federation.NewPegInDeriver(store, federation.StaticKeys(xpubs), 2, testParams).CreatePegInAddress("acct-1")
	require.NoError(t, err)

	for i, amount := range deposits {
		txID := chainhash.DoubleHashH([]byte(fmt.Sprintf("deposit-%d", i))).String()
		claim := &orm.Claim{
			PegInAddress: pegIn.Address,
			ProofID:      txID,
			AccountID:    pegIn.AccountID,
			Amount:       amount,
			ClaimedAt:    time.Now(),
		}
		utxo := &orm.CustodyUTXO{
			TxID:            txID,
			Amount:          amount,
			PkScript:        pegIn.PkScript,
			PegInAddress:    pegIn.Address,
			ClaimScript:     pegIn.ClaimScript,
			RedeemScript:    pegIn.RedeemScript,
			FederationXPubs: pegIn.FederationXPubs,
			Threshold:       pegIn.Threshold,
		}
		require.NoError(t, store.ApplyClaim(claim, []*orm.CustodyUTXO{utxo}))
	}

	broadcaster := &fakeBroadcaster{}
	return &fixture{
		store:       store,
		xpubs:       xpubs,
		keys:        keys,
		xprvs:       testutil.XPrvStrings(keys),
		broadcaster: broadcaster,
		builder:     NewBuilder(store, broadcaster, nil, testParams, &config.Withdrawal{Fee: 1000}),
	}
}

func (f *fixture) request(amount string, xprvs ...string) *Request {
	return &Request{
		AccountID:          "acct-1",
		DestinationAddress: testDestination(),
		Amount:             decimal.RequireFromString(amount),
		RootXPubs:          common.StringList(f.xpubs),
		XPrvs:              common.StringList(xprvs),
	}
}

func (f *fixture) balance(t *testing.T) uint64 {
	balance, err := f.store.GetBalance("acct-1")
	require.NoError(t, err)
	return balance
}

func testDestination() string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{0x11}, 20), testParams)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress()
}

func destinationScript(t *testing.T) []byte {
	addr, err := btcutil.DecodeAddress(testDestination(), testParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

func TestCreateWithdrawal(t *testing.T) {
	f := newFixture(t, 100000000)

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0], f.xprvs[2]))
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status, spew.Sdump(w))
	require.Len(t, w.Signatures, 2)
	require.Equal(t, 2, w.Threshold)
	require.Equal(t, uint64(1000), w.Fee)
	require.Zero(t, f.balance(t))

	require.Equal(t, 1, f.broadcaster.count())
	tx := f.broadcaster.txs[0]
	require.Equal(t, tx.TxHash().String(), w.MainchainTxID)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(100000000-1000), tx.TxOut[0].Value)
	require.Equal(t, destinationScript(t), tx.TxOut[0].PkScript)

	inputs, err := f.builder.loadInputs(w, tx)
	require.NoError(t, err)
	require.NoError(t, verifyTx(tx, inputs))

	// a 2-of-3 witness: dummy, two signatures, redeem script
	require.Len(t, tx.TxIn[0].Witness, 4)

	stored, err := f.builder.GetWithdrawal(w.RequestID)
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, stored.Status)
}

func TestCreateWithdrawalUpstreamUnavailable(t *testing.T) {
	f := newFixture(t, 100000000)
	f.broadcaster.err = errors.Wrap(ErrUpstreamUnavailable, "connection refused")

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0], f.xprvs[1]))
	require.Equal(t, ErrUpstreamUnavailable, errors.Cause(err))
	require.Equal(t, common.WithdrawalSignedStatus, w.Status)

	tx, err := decodeTx(w.SignedTx)
	require.NoError(t, err)

	inputs, err := f.builder.loadInputs(w, tx)
	require.NoError(t, err)
	require.NoError(t, verifyTx(tx, inputs))

	f.broadcaster.err = nil
	w, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: w.RequestID})
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Equal(t, 1, f.broadcaster.count())
	require.Zero(t, f.balance(t))
}

func TestCreateWithdrawalOneShare(t *testing.T) {
	f := newFixture(t, 100000000)

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[1]))
	require.Equal(t, ErrInsufficientSignatures, errors.Cause(err))
	require.NotNil(t, w)
	require.Equal(t, common.WithdrawalPartiallySignedStatus, w.Status)
	require.Empty(t, w.SignedTx)
	require.Zero(t, f.broadcaster.count())

	stored, err := f.builder.GetWithdrawal(w.RequestID)
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalPartiallySignedStatus, stored.Status)
	require.Len(t, stored.Signatures, 1)

	// the same share again changes nothing
	w, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: w.RequestID, XPrvs: common.StringList{f.xprvs[1]}})
	require.Equal(t, ErrInsufficientSignatures, errors.Cause(err))
	require.Equal(t, common.WithdrawalPartiallySignedStatus, w.Status)
	require.Zero(t, f.broadcaster.count())

	w, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: w.RequestID, XPrvs: common.StringList{f.xprvs[2]}})
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Equal(t, 1, f.broadcaster.count())
}

func TestSignWithdrawalConcurrent(t *testing.T) {
	f := newFixture(t, 100000000)

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0]))
	require.Equal(t, ErrInsufficientSignatures, errors.Cause(err))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			xprv := f.xprvs[1+i%2]
			res, err := f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: w.RequestID, XPrvs: common.StringList{xprv}})
			if err != nil {
				t.Errorf("sign withdrawal: %v", err)
				return
			}

			if res.Status != common.WithdrawalBroadcastStatus {
				t.Errorf("got status %d, want broadcast", res.Status)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.broadcaster.count())
	require.Zero(t, f.balance(t))
}

func TestCreateWithdrawalValidation(t *testing.T) {
	f := newFixture(t, 100000000)
	outsiderXPubs, outsiderKeys := testutil.Federation(4, testParams)
	outsider := outsiderKeys[3].String()

	cases := []struct {
		desc    string
		req     func() *Request
		wantErr error
	}{
		{
			desc: "empty destination",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], f.xprvs[1])
				req.DestinationAddress = ""
				return req
			},
			wantErr: ErrMissingField,
		},
		{
			desc: "empty account",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], f.xprvs[1])
				req.AccountID = " "
				return req
			},
			wantErr: ErrMissingField,
		},
		{
			desc: "no root xpubs",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], f.xprvs[1])
				req.RootXPubs = nil
				return req
			},
			wantErr: ErrMissingField,
		},
		{
			desc:    "no xprvs",
			req:     func() *Request { return f.request("1.0") },
			wantErr: ErrMissingField,
		},
		{
			desc: "malformed destination",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], f.xprvs[1])
				req.DestinationAddress = "not-an-address"
				return req
			},
			wantErr: ErrInvalidRequest,
		},
		{
			desc: "destination of another network",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], f.xprvs[1])
				addr, _ := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{0x11}, 20), &chaincfg.MainNetParams)
				req.DestinationAddress = addr.EncodeAddress()
				return req
			},
			wantErr: ErrInvalidRequest,
		},
		{
			desc:    "zero amount",
			req:     func() *Request { return f.request("0", f.xprvs[0], f.xprvs[1]) },
			wantErr: ErrInvalidRequest,
		},
		{
			desc:    "amount below fee",
			req:     func() *Request { return f.request("0.00001", f.xprvs[0], f.xprvs[1]) },
			wantErr: ErrInvalidRequest,
		},
		{
			desc:    "more xprvs than xpubs",
			req:     func() *Request { return f.request("1.0", f.xprvs[0], f.xprvs[1], f.xprvs[2], outsider) },
			wantErr: ErrInvalidRequest,
		},
		{
			desc:    "xprv outside the root xpubs",
			req:     func() *Request { return f.request("1.0", f.xprvs[0], outsider) },
			wantErr: ErrInvalidKeyMaterial,
		},
		{
			desc:    "xpub passed as xprv",
			req:     func() *Request { return f.request("1.0", f.xprvs[0], f.xpubs[1]) },
			wantErr: ErrInvalidKeyMaterial,
		},
		{
			desc:    "garbage xprv",
			req:     func() *Request { return f.request("1.0", f.xprvs[0], "xprv-garbage") },
			wantErr: ErrInvalidKeyMaterial,
		},
		{
			desc: "root xpubs of another federation",
			req: func() *Request {
				req := f.request("1.0", f.xprvs[0], outsider)
				req.RootXPubs = common.StringList{f.xpubs[0], f.xpubs[1], outsiderXPubs[3]}
				return req
			},
			wantErr: ErrInvalidKeyMaterial,
		},
		{
			desc:    "more than the balance",
			req:     func() *Request { return f.request("1.5", f.xprvs[0], f.xprvs[1]) },
			wantErr: ErrInsufficientFunds,
		},
	}

	for _, c := range cases {
		w, err := f.builder.CreateWithdrawal(context.Background(), c.req())
		require.Equal(t, c.wantErr, errors.Cause(err), c.desc)
		require.Nil(t, w, c.desc)
	}

	withdrawals, err := f.builder.ListWithdrawals()
	require.NoError(t, err)
	require.Empty(t, withdrawals)
	require.Equal(t, uint64(100000000), f.balance(t))
	require.Zero(t, f.broadcaster.count())
}

func TestCreateWithdrawalRejected(t *testing.T) {
	f := newFixture(t, 100000000)
	f.broadcaster.err = errors.Wrap(ErrRejected, "min relay fee not met")

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0], f.xprvs[1]))
	require.Equal(t, ErrRejected, errors.Cause(err))
	require.Equal(t, common.WithdrawalSignedStatus, w.Status)
	require.NotEmpty(t, w.RejectReason)
	require.NotEmpty(t, w.SignedTx)

	// the signed tx may still be mined, so neither the balance nor the
	// custody output comes back
	require.Zero(t, f.balance(t))
	reserved, err := f.store.ListWithdrawalInputs(w.RequestID)
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	_, err = f.builder.CreateWithdrawal(context.Background(), f.request("0.5", f.xprvs[0], f.xprvs[1]))
	require.Equal(t, ErrInsufficientFunds, errors.Cause(err))

	stored, err := f.builder.GetWithdrawal(w.RequestID)
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalSignedStatus, stored.Status)
	require.Equal(t, w.RejectReason, stored.RejectReason)

	f.broadcaster.err = nil
	w, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: w.RequestID})
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Empty(t, w.RejectReason)
	require.Equal(t, 1, f.broadcaster.count())
}

func TestBroadcastThroughNode(t *testing.T) {
	retry := config.Retry{Attempts: 3, InitialIntervalMs: 1, MaxIntervalMs: 2}
	cases := []struct {
		desc      string
		rpcErr    *btcjson.RPCError
		wantErr   error
		wantCalls int
	}{
		{desc: "warming up", rpcErr: &btcjson.RPCError{Code: btcjson.ErrRPCInWarmup, Message: "Loading block index..."}, wantErr: ErrUpstreamUnavailable, wantCalls: retry.Attempts},
		{desc: "initial download", rpcErr: &btcjson.RPCError{Code: btcjson.ErrRPCClientInInitialDownload, Message: "in initial download"}, wantErr: ErrUpstreamUnavailable, wantCalls: retry.Attempts},
		{desc: "policy rejection", rpcErr: &btcjson.RPCError{Code: btcjson.ErrRPCVerifyRejected, Message: "min relay fee not met"}, wantErr: ErrRejected, wantCalls: 1},
	}

	for _, c := range cases {
		f := newFixture(t, 100000000)
		server := testutil.NewRPCServer(func(method string, params []json.RawMessage) (interface{}, *btcjson.RPCError, int) {
			return nil, c.rpcErr, http.StatusOK
		})
		node, err := service.NewNode(server.Mainchain(), retry)
		require.NoError(t, err)
		f.builder = NewBuilder(f.store, node, nil, testParams, &config.Withdrawal{Fee: 1000})

		w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0], f.xprvs[1]))
		require.Equal(t, c.wantErr, errors.Cause(err), c.desc)
		require.Equal(t, c.wantCalls, server.Calls(), c.desc)
		require.Equal(t, common.WithdrawalSignedStatus, w.Status, c.desc)
		require.Zero(t, f.balance(t), c.desc)

		reserved, err := f.store.ListWithdrawalInputs(w.RequestID)
		require.NoError(t, err, c.desc)
		require.Len(t, reserved, 1, c.desc)

		node.Close()
		server.Close()
	}
}

func TestCreateWithdrawalChange(t *testing.T) {
	f := newFixture(t, 50000000, 150000000)

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("0.8", f.xprvs[0], f.xprvs[1]))
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Equal(t, uint64(120000000), f.balance(t))

	tx := f.broadcaster.txs[0]
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(80000000-1000), tx.TxOut[0].Value)
	require.Equal(t, int64(120000000), tx.TxOut[1].Value)

	// the change output is the only custody left
	w, err = f.builder.CreateWithdrawal(context.Background(), f.request("1.2", f.xprvs[1], f.xprvs[2]))
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Zero(t, f.balance(t))

	tx = f.broadcaster.txs[1]
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, f.broadcaster.txs[0].TxHash(), tx.TxIn[0].PreviousOutPoint.Hash)
	require.Equal(t, uint32(1), tx.TxIn[0].PreviousOutPoint.Index)
}

func TestCreateWithdrawalVaultSigning(t *testing.T) {
	f := newFixture(t, 100000000)
	vault := fakeVault{f.xpubs[2]: f.keys[2]}
	f.builder = NewBuilder(f.store, f.broadcaster, vault, testParams, &config.Withdrawal{Fee: 1000})

	// the vault only adds to a caller's share
	_, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0"))
	require.Equal(t, ErrMissingField, errors.Cause(err))
	require.Equal(t, uint64(100000000), f.balance(t))

	w, err := f.builder.CreateWithdrawal(context.Background(), f.request("1.0", f.xprvs[0]))
	require.NoError(t, err)
	require.Equal(t, common.WithdrawalBroadcastStatus, w.Status)
	require.Contains(t, w.Signatures, f.xpubs[2])
}

func TestGetWithdrawalNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.GetWithdrawal("missing")
	require.Equal(t, ErrNotFound, errors.Cause(err))

	_, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{WithdrawalID: "missing"})
	require.Equal(t, ErrNotFound, errors.Cause(err))

	_, err = f.builder.SignWithdrawal(context.Background(), &SignRequest{})
	require.Equal(t, ErrMissingField, errors.Cause(err))
}
