package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var depositCounter uint32

// DepositProof is a mined mainchain deposit in the form a claim carries it.
type DepositProof struct {
	Tx         *wire.MsgTx
	RawTx      string
	TxOutProof string
	BlockHash  string
}

func uniqueOutPoint() wire.OutPoint {
	var seed [8]byte
	binary.LittleEndian.PutUint32(seed[:4], atomic.AddUint32(&depositCounter, 1))
	binary.LittleEndian.PutUint32(seed[4:], uint32(time.Now().UnixNano()))
	return wire.OutPoint{Hash: chainhash.DoubleHashH(seed[:]), Index: 0}
}

func spendTx(outputs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(func() *wire.OutPoint { op := uniqueOutPoint(); return &op }(), []byte{txscript.OP_TRUE}, nil))
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx
}

// NewDepositProof mines a transaction with the given outputs into a block of
// four transactions and returns it with its partial merkle tree proof.
func NewDepositProof(outputs ...*wire.TxOut) (*DepositProof, error) {
	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: math.MaxUint32},
		SignatureScript:  []byte{txscript.OP_1, byte(atomic.AddUint32(&depositCounter, 1))},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(wire.NewTxOut(50*btcutil.SatoshiPerBitcoin, []byte{txscript.OP_TRUE}))

	deposit := spendTx(outputs...)
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   4,
			PrevBlock: uniqueOutPoint().Hash,
			Timestamp: time.Unix(time.Now().Unix(), 0),
			Bits:      0x207fffff,
		},
	}
	for _, tx := range []*wire.MsgTx{
		coinbase,
		spendTx(wire.NewTxOut(1000, []byte{txscript.OP_TRUE})),
		deposit,
		spendTx(wire.NewTxOut(2000, []byte{txscript.OP_TRUE})),
	} {
		if err := block.AddTransaction(tx); err != nil {
			return nil, err
		}
	}

	merkleRoot := blockchain.CalcMerkleRoot(btcutil.NewBlock(block).Transactions(), false)
	block.Header.MerkleRoot = merkleRoot

	filter := bloom.NewFilter(1, 0, 0.000001, wire.BloomUpdateNone)
	depositHash := deposit.TxHash()
	filter.AddHash(&depositHash)
	merkleBlock, _ := bloom.NewMerkleBlock(btcutil.NewBlock(block), filter)

	var proof bytes.Buffer
	if err := merkleBlock.BtcEncode(&proof, wire.ProtocolVersion, wire.LatestEncoding); err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	if err := deposit.Serialize(&raw); err != nil {
		return nil, err
	}

	return &DepositProof{
		Tx:         deposit,
		RawTx:      hex.EncodeToString(raw.Bytes()),
		TxOutProof: hex.EncodeToString(proof.Bytes()),
		BlockHash:  block.BlockHash().String(),
	}, nil
}
