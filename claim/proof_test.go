package claim

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/bytom/peggateway/testutil"
)

func TestVerifyMerkleBlock(t *testing.T) {
	deposit, err := testutil.NewDepositProof(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))
	require.NoError(t, err)

	proof, err := ParseProof(deposit.RawTx, deposit.TxOutProof)
	require.NoError(t, err)
	require.Equal(t, deposit.Tx.TxHash().String(), proof.TxID())
	require.Equal(t, deposit.BlockHash, proof.BlockHash())

	matches, err := VerifyMerkleBlock(proof.MerkleBlock)
	require.NoError(t, err)
	require.Contains(t, matches, deposit.Tx.TxHash())
}

func TestVerifyMerkleBlockTampered(t *testing.T) {
	cases := []struct {
		desc   string
		tamper func(mb *wire.MsgMerkleBlock)
	}{
		{
			desc: "merkle root",
			tamper: func(mb *wire.MsgMerkleBlock) {
				mb.Header.MerkleRoot = chainhash.DoubleHashH([]byte("forged"))
			},
		},
		{
			desc: "hash",
			tamper: func(mb *wire.MsgMerkleBlock) {
				forged := chainhash.DoubleHashH([]byte("forged"))
				mb.Hashes[len(mb.Hashes)-1] = &forged
			},
		},
		{
			desc: "extra hash",
			tamper: func(mb *wire.MsgMerkleBlock) {
				mb.Hashes = append(mb.Hashes, mb.Hashes[0])
			},
		},
		{
			desc: "no transactions",
			tamper: func(mb *wire.MsgMerkleBlock) {
				mb.Transactions = 0
			},
		},
		{
			desc: "no flags",
			tamper: func(mb *wire.MsgMerkleBlock) {
				mb.Flags = nil
			},
		},
		{
			desc: "extra flag byte",
			tamper: func(mb *wire.MsgMerkleBlock) {
				mb.Flags = append(mb.Flags, 0)
			},
		},
	}

	for _, c := range cases {
		deposit, err := testutil.NewDepositProof(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))
		require.NoError(t, err)

		proof, err := ParseProof(deposit.RawTx, deposit.TxOutProof)
		require.NoError(t, err)

		c.tamper(proof.MerkleBlock)
		if _, err := VerifyMerkleBlock(proof.MerkleBlock); err == nil {
			t.Fatalf("%s: tampered proof accepted", c.desc)
		}
	}
}

func TestParseProofErrors(t *testing.T) {
	deposit, err := testutil.NewDepositProof(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))
	require.NoError(t, err)

	cases := []struct {
		rawTx, proof string
	}{
		{rawTx: "zz", proof: deposit.TxOutProof},
		{rawTx: "00", proof: deposit.TxOutProof},
		{rawTx: deposit.RawTx, proof: "zz"},
		{rawTx: deposit.RawTx, proof: deposit.TxOutProof[:40]},
	}

	for i, c := range cases {
		_, err := ParseProof(c.rawTx, c.proof)
		if errors.Cause(err) != ErrProofInvalid {
			t.Fatalf("case %d: got err %v, want %v", i, err, ErrProofInvalid)
		}
	}
}
