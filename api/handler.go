package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/bytom/peggateway/claim"
	"github.com/bytom/peggateway/common"
	"github.com/bytom/peggateway/database/orm"
	"github.com/bytom/peggateway/withdrawal"
)

// listJSON encodes a listing the way the front-end consumes it, as a JSON
// string in the data field.
func listJSON(list interface{}) (string, error) {
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Server) CreateKeyPair(c *gin.Context) (*orm.KeyPair, error) {
	return s.vault.CreateKeyPair()
}

func (s *Server) ListKeyPairs(c *gin.Context) (string, error) {
	keyPairs, err := s.vault.ListKeyPairs()
	if err != nil {
		return "", err
	}
	return listJSON(keyPairs)
}

type createPegInAddressReq struct {
	AccountID string `json:"account_id"`
}

func (s *Server) CreatePegInAddress(c *gin.Context, req *createPegInAddressReq) (*orm.PegInAddress, error) {
	return s.deriver.CreatePegInAddress(req.AccountID)
}

func (s *Server) ListPegInAddresses(c *gin.Context) (string, error) {
	addresses, err := s.deriver.ListPegInAddresses()
	if err != nil {
		return "", err
	}
	return listJSON(addresses)
}

func (s *Server) ClaimTx(c *gin.Context, req *claim.Request) (*orm.Claim, error) {
	return s.claims.Claim(c.Request.Context(), req)
}

func (s *Server) ListClaims(c *gin.Context) (string, error) {
	claims, err := s.claims.ListClaims()
	if err != nil {
		return "", err
	}
	return listJSON(claims)
}

func (s *Server) SendToMainchain(c *gin.Context, req *withdrawal.Request) (*orm.Withdrawal, error) {
	return s.withdrawals.CreateWithdrawal(c.Request.Context(), req)
}

func (s *Server) SignWithdrawal(c *gin.Context, req *withdrawal.SignRequest) (*orm.Withdrawal, error) {
	return s.withdrawals.SignWithdrawal(c.Request.Context(), req)
}

func (s *Server) ListWithdrawals(c *gin.Context) (string, error) {
	withdrawals, err := s.withdrawals.ListWithdrawals()
	if err != nil {
		return "", err
	}
	return listJSON(withdrawals)
}

type balanceReq struct {
	AccountID string `json:"account_id"`
}

type balanceResp struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

func (s *Server) GetBalance(c *gin.Context, req *balanceReq) (*balanceResp, error) {
	if req.AccountID == "" {
		req.AccountID = c.Query("account_id")
	}

	if req.AccountID == "" {
		return nil, claim.ErrMissingField
	}

	balance, err := s.claims.Balance(req.AccountID)
	if err != nil {
		return nil, err
	}
	return &balanceResp{AccountID: req.AccountID, Balance: common.SatoshiToCoin(balance)}, nil
}
