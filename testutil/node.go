package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/bytom/peggateway/config"
)

const (
	NodeRPCUser     = "pegd"
	NodeRPCPassword = "secret"
)

// RPCHandler answers one JSON-RPC call. A status other than 200 is written
// back without a JSON body.
type RPCHandler func(method string, params []json.RawMessage) (result interface{}, rpcErr *btcjson.RPCError, status int)

// RPCServer serves JSON-RPC over HTTP the way bitcoind does, basic auth
// included.
type RPCServer struct {
	*httptest.Server
	calls int32
}

func NewRPCServer(handle RPCHandler) *RPCServer {
	s := &RPCServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.calls, 1)
		if user, pass, ok := r.BasicAuth(); !ok || user != NodeRPCUser || pass != NodeRPCPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     interface{}       `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr, status := handle(req.Method, req.Params)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte("node is busy"))
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{"result": result, "error": rpcErr, "id": req.ID})
	}))
	return s
}

// Calls is how many requests reached the server.
func (s *RPCServer) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

// Mainchain is a config pointing at the server with working credentials.
func (s *RPCServer) Mainchain() *config.Mainchain {
	return &config.Mainchain{
		Net:           "regtest",
		Upstream:      strings.TrimPrefix(s.URL, "http://"),
		RPCUser:       NodeRPCUser,
		RPCPassword:   NodeRPCPassword,
		Confirmations: 6,
		ValidatePegin: true,
	}
}
