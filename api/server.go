package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/claim"
	"github.com/bytom/peggateway/config"
	"github.com/bytom/peggateway/database"
	"github.com/bytom/peggateway/federation"
	"github.com/bytom/peggateway/withdrawal"
)

const logModule = "api"

type Server struct {
	cfg         *config.Config
	vault       *federation.KeyVault
	deriver     *federation.PegInDeriver
	claims      *claim.Processor
	withdrawals *withdrawal.Builder
	metrics     *metrics
	engine      *gin.Engine
}

// NewServer wires the gateway on top of store. chain may be nil, then peg-in
// proofs are accepted without asking the mainchain for confirmations.
func NewServer(cfg *config.Config, store database.Store, chain claim.ChainClient, broadcaster withdrawal.Broadcaster) (*Server, error) {
	params, err := cfg.NetParams()
	if err != nil {
		return nil, err
	}

	vault := federation.NewKeyVault(store, params, &cfg.Federation)
	var keys federation.KeySource = vault
	if len(cfg.Federation.XPubs) > 0 {
		keys = federation.StaticKeys(cfg.Federation.XPubs)
	}

	var signer withdrawal.SigningKeySource
	if cfg.Withdrawal.VaultSigning {
		signer = vault
	}

	if chain == nil && cfg.Mainchain.ValidatePegin {
		return nil, errors.New("validate_pegin needs a mainchain client")
	}

	server := &Server{
		cfg:         cfg,
		vault:       vault,
		deriver:     federation.NewPegInDeriver(store, keys, cfg.Federation.Quorum, params),
		claims:      claim.NewProcessor(store, claim.NewSPVVerifier(chain, cfg.Mainchain.Confirmations)),
		withdrawals: withdrawal.NewBuilder(store, broadcaster, signer, params, &cfg.Withdrawal),
		metrics:     newMetrics(),
	}
	if cfg.API.IsReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	server.setupRouter()
	return server, nil
}

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery(), s.metrics.middleware(), s.Middleware())

	v1 := r.Group("/api")
	v1.POST("/create_key_pair", handlerMiddleware(s.CreateKeyPair))
	v1.GET("/get_key_pair", handlerMiddleware(s.ListKeyPairs))
	v1.POST("/get_key_pair", handlerMiddleware(s.ListKeyPairs))
	v1.POST("/create_pegin_address", handlerMiddleware(s.CreatePegInAddress))
	v1.GET("/get_pegin_address", handlerMiddleware(s.ListPegInAddresses))
	v1.POST("/get_pegin_address", handlerMiddleware(s.ListPegInAddresses))
	v1.POST("/claim_tx", handlerMiddleware(s.ClaimTx))
	v1.POST("/send_to_mainchain", handlerMiddleware(s.SendToMainchain))
	v1.POST("/sign_withdrawal", handlerMiddleware(s.SignWithdrawal))
	v1.GET("/get_claims", handlerMiddleware(s.ListClaims))
	v1.GET("/get_withdrawals", handlerMiddleware(s.ListWithdrawals))
	v1.GET("/get_balance", handlerMiddleware(s.GetBalance))
	v1.POST("/get_balance", handlerMiddleware(s.GetBalance))

	r.GET("/metrics", gin.WrapH(s.metrics.handler()))
	s.engine = r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() error {
	return s.engine.Run(fmt.Sprintf(":%d", s.cfg.API.ListeningPort))
}

func (s *Server) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// add Access-Control-Allow-Origin
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
