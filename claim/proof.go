package claim

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// Proof is a mainchain deposit transaction together with the partial merkle
// tree (as returned by gettxoutproof) committing it into a block.
type Proof struct {
	Tx          *wire.MsgTx
	MerkleBlock *wire.MsgMerkleBlock
}

func ParseProof(rawTx, txOutProof string) (*Proof, error) {
	txBytes, err := hex.DecodeString(rawTx)
	if err != nil {
		return nil, errors.Wrapf(ErrProofInvalid, "decode raw transaction: %v", err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, errors.Wrapf(ErrProofInvalid, "deserialize raw transaction: %v", err)
	}

	proofBytes, err := hex.DecodeString(txOutProof)
	if err != nil {
		return nil, errors.Wrapf(ErrProofInvalid, "decode tx out proof: %v", err)
	}

	mb := &wire.MsgMerkleBlock{}
	if err := mb.BtcDecode(bytes.NewReader(proofBytes), wire.ProtocolVersion, wire.LatestEncoding); err != nil {
		return nil, errors.Wrapf(ErrProofInvalid, "decode tx out proof: %v", err)
	}

	return &Proof{Tx: tx, MerkleBlock: mb}, nil
}

// TxID is the proof id of the deposit.
func (p *Proof) TxID() string {
	return p.Tx.TxHash().String()
}

func (p *Proof) BlockHash() string {
	return p.MerkleBlock.Header.BlockHash().String()
}

// partialMerkleTree walks a BIP37 partial merkle tree. Flag bits are read
// least significant bit first.
type partialMerkleTree struct {
	numTx     uint32
	hashes    []*chainhash.Hash
	flags     []byte
	bitsUsed  int
	hashUsed  int
	matchedTx []chainhash.Hash
}

func (t *partialMerkleTree) width(height uint) uint32 {
	return (t.numTx + (1 << height) - 1) >> height
}

func (t *partialMerkleTree) traverse(height uint, pos uint32) (chainhash.Hash, error) {
	if t.bitsUsed >= len(t.flags)*8 {
		return chainhash.Hash{}, errors.New("partial merkle tree overflows its flag bits")
	}

	parentOfMatch := t.flags[t.bitsUsed/8]&(1<<uint(t.bitsUsed%8)) != 0
	t.bitsUsed++

	if height == 0 || !parentOfMatch {
		if t.hashUsed >= len(t.hashes) {
			return chainhash.Hash{}, errors.New("partial merkle tree overflows its hashes")
		}

		hash := *t.hashes[t.hashUsed]
		t.hashUsed++
		if height == 0 && parentOfMatch {
			t.matchedTx = append(t.matchedTx, hash)
		}
		return hash, nil
	}

	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}

	right := left
	if pos*2+1 < t.width(height-1) {
		if right, err = t.traverse(height-1, pos*2+1); err != nil {
			return chainhash.Hash{}, err
		}

		// identical siblings allow forging the tree (CVE-2012-2459)
		if right == left {
			return chainhash.Hash{}, errors.New("partial merkle tree has duplicate siblings")
		}
	}

	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:]), nil
}

// VerifyMerkleBlock checks the partial merkle tree against the header's
// merkle root and returns the matched transaction ids.
func VerifyMerkleBlock(mb *wire.MsgMerkleBlock) ([]chainhash.Hash, error) {
	if mb.Transactions == 0 {
		return nil, errors.New("merkle block has no transactions")
	}

	if uint32(len(mb.Hashes)) > mb.Transactions {
		return nil, errors.New("merkle block has more hashes than transactions")
	}

	if len(mb.Flags)*8 < len(mb.Hashes) {
		return nil, errors.New("merkle block has fewer flag bits than hashes")
	}

	tree := &partialMerkleTree{numTx: mb.Transactions, hashes: mb.Hashes, flags: mb.Flags}
	var height uint
	for tree.width(height) > 1 {
		height++
	}

	root, err := tree.traverse(height, 0)
	if err != nil {
		return nil, err
	}

	if tree.hashUsed != len(tree.hashes) {
		return nil, errors.New("merkle block has unused hashes")
	}

	if (tree.bitsUsed+7)/8 != len(tree.flags) {
		return nil, errors.New("merkle block has unused flag bytes")
	}

	if root != mb.Header.MerkleRoot {
		return nil, errors.New("merkle root mismatch")
	}
	return tree.matchedTx, nil
}
