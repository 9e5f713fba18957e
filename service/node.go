package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bytom/peggateway/config"
)

func alreadyBroadcast(rpcErr *btcjson.RPCError) bool {
	return rpcErr.Code == btcjson.ErrRPCVerifyAlreadyInChain ||
		strings.Contains(rpcErr.Message, "txn-already-known") ||
		strings.Contains(rpcErr.Message, "txn-already-in-mempool")
}

// Node talks to a bitcoind style mainchain node over JSON-RPC. Every call is
// retried on transient failures.
type Node struct {
	client *rpcclient.Client
	retry  config.Retry
}

func NewNode(cfg *config.Mainchain, retry config.Retry) (*Node, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Upstream,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPassword,
		CookiePath:   cfg.RPCCookiePath,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create mainchain rpc client")
	}

	return &Node{client: client, retry: retry}, nil
}

func (n *Node) Close() {
	n.client.Shutdown()
}

// Confirmations returns how many blocks bury the given block, counting the
// block itself.
func (n *Node) Confirmations(ctx context.Context, blockHash string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return 0, errors.Wrap(ErrBlockNotFound, err.Error())
	}

	var confirmations int64
	err = Retry(ctx, &n.retry, func() error {
		header, err := n.client.GetBlockHeaderVerbose(hash)
		if err != nil {
			return err
		}

		confirmations = header.Confirmations
		return nil
	})

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey {
		return 0, errors.Wrap(ErrBlockNotFound, blockHash)
	}
	return confirmations, err
}

// Broadcast submits a fully signed transaction and returns its txid. A
// transaction the node already has counts as accepted.
func (n *Node) Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, "serialize transaction")
	}

	param, err := json.Marshal(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}

	var txID string
	err = Retry(ctx, &n.retry, func() error {
		res, err := n.client.RawRequest("sendrawtransaction", []json.RawMessage{param})
		if err != nil {
			return err
		}

		return json.Unmarshal(res, &txID)
	})

	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return txID, err
	}

	if alreadyBroadcast(rpcErr) {
		return tx.TxHash().String(), nil
	}

	// Missing inputs is also the answer for a tx that was accepted earlier
	// and whose outputs are spent by now.
	if rpcErr.Code == btcjson.ErrRPCVerify {
		known, err := n.hasTransaction(ctx, tx)
		if err != nil {
			return "", err
		}

		if known {
			return tx.TxHash().String(), nil
		}
	}

	log.WithFields(log.Fields{"module": logModule, "tx_hash": tx.TxHash().String(), "code": rpcErr.Code, "err": rpcErr.Message}).Warn("mainchain rejected transaction")
	return "", errors.Wrap(ErrRejected, rpcErr.Message)
}

// hasTransaction reports whether the node has tx in its mempool or chain.
func (n *Node) hasTransaction(ctx context.Context, tx *wire.MsgTx) (bool, error) {
	hash := tx.TxHash()
	err := Retry(ctx, &n.retry, func() error {
		_, err := n.client.GetRawTransaction(&hash)
		return err
	})

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey {
		return false, nil
	}
	return err == nil, err
}
