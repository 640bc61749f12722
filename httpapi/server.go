// Package httpapi exposes the mint service over HTTP: the public query and
// purchase surface, the administrator surface, and the oracle callback
// webhook.
package httpapi

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	lotmint "github.com/lotmint/lotmint"
	"github.com/lotmint/lotmint/types"
)

const (
	adminKeyHeader  = "X-Admin-Key"
	oracleKeyHeader = "X-Oracle-Key"
)

// Server wires the mint service into a gin router.
type Server struct {
	svc          *lotmint.Service
	adminKey     string
	oracleKey    string
	oracleCaller common.Address
	metrics      *metrics
	engine       *gin.Engine
}

// Option configures the server.
type Option func(*Server)

// WithAdminKey sets the bearer key protecting the administrator surface.
func WithAdminKey(key string) Option {
	return func(s *Server) {
		s.adminKey = key
	}
}

// WithOracleKey sets the shared key the oracle webhook must present.
func WithOracleKey(key string) Option {
	return func(s *Server) {
		s.oracleKey = key
	}
}

// WithOracleCaller sets the caller identity attributed to authenticated
// webhook deliveries. It must match the service's trusted oracle caller.
func WithOracleCaller(addr common.Address) Option {
	return func(s *Server) {
		s.oracleCaller = addr
	}
}

// New creates a server around the service.
func New(svc *lotmint.Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/v1")
	v1.GET("/price", s.handlePrice)
	v1.GET("/pool", s.handlePool)
	v1.GET("/version", s.handleVersion)
	v1.GET("/tokens/:id", s.handleToken)
	v1.POST("/mint", s.handleMint)

	adm := v1.Group("/admin", s.requireKey(adminKeyHeader, func() string { return s.adminKey }))
	adm.POST("/price", s.handleSetPrice)
	adm.POST("/ranges", s.handleExtendRange)
	adm.POST("/oracle/withdraw", s.handleWithdraw)

	v1.POST("/oracle/callback",
		s.requireKey(oracleKeyHeader, func() string { return s.oracleKey }),
		s.handleCallback)

	engine.GET("/metrics", s.metrics.handler())

	s.engine = engine
	return s
}

// Router returns the underlying gin engine, for embedding and tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves HTTP on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// requireKey rejects requests whose header does not carry the expected key.
// An empty configured key disables the surface entirely.
func (s *Server) requireKey(header string, key func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := key()
		if expected == "" || c.GetHeader(header) != expected {
			abortWithError(c, lotmint.NewError(lotmint.ErrCodeUnauthorized, "missing or invalid key", nil))
			return
		}
		c.Next()
	}
}

func (s *Server) handlePrice(c *gin.Context) {
	cfg := s.svc.PriceConfig()
	if cfg.UnitPrice == nil || cfg.UnitPrice.Sign() == 0 {
		abortWithError(c, lotmint.NewError(lotmint.ErrCodePriceNotSet, "unit price has not been configured", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unitPrice": cfg.UnitPrice.String(),
		"asset":     cfg.Asset.Hex(),
		"receiver":  cfg.Receiver.Hex(),
	})
}

func (s *Server) handlePool(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"remaining": s.svc.Remaining(),
		"capacity":  s.svc.Capacity(),
		"pending":   s.svc.PendingCount(),
		"ranges":    s.svc.Ranges(),
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	version, err := s.svc.Version(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (s *Server) handleToken(c *gin.Context) {
	var uri struct {
		ID uint64 `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return
	}

	lot, pending, err := s.svc.LotOf(types.TokenID(uri.ID))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if pending {
		c.JSON(http.StatusOK, gin.H{"tokenId": uri.ID, "pending": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": uri.ID, "lot": lot})
}

func (s *Server) handleMint(c *gin.Context) {
	var req struct {
		Buyer    string `json:"buyer" binding:"required"`
		Quantity uint32 `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Buyer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buyer address"})
		return
	}

	receipt, err := s.svc.Mint(c.Request.Context(), common.HexToAddress(req.Buyer), req.Quantity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.metrics.mints.Inc()
	s.metrics.tokensMinted.Add(float64(receipt.Quantity))
	s.metrics.lotsRemaining.Set(float64(s.svc.Remaining()))

	c.JSON(http.StatusCreated, gin.H{
		"receiptId":  receipt.ID.String(),
		"buyer":      receipt.Buyer.Hex(),
		"quantity":   receipt.Quantity,
		"amount":     receipt.Amount.String(),
		"tokenIds":   receipt.TokenIDs,
		"requestIds": receipt.RequestIDs,
	})
}

func (s *Server) handleSetPrice(c *gin.Context) {
	var req struct {
		Price string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	if err := s.svc.SetPrice(c.Request.Context(), s.svc.Admin(), price); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unitPrice": price.String()})
}

func (s *Server) handleExtendRange(c *gin.Context) {
	var req struct {
		Start uint64 `json:"start" binding:"required"`
		End   uint64 `json:"end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.ExtendRange(c.Request.Context(), s.svc.Admin(), req.Start, req.End); err != nil {
		abortWithError(c, err)
		return
	}
	s.metrics.lotsRemaining.Set(float64(s.svc.Remaining()))
	c.JSON(http.StatusOK, gin.H{
		"remaining": s.svc.Remaining(),
		"capacity":  s.svc.Capacity(),
	})
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req struct {
		To     string `json:"to" binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal"})
		return
	}

	if err := s.svc.WithdrawOracleFunds(c.Request.Context(), s.svc.Admin(), common.HexToAddress(req.To), amount); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount.String()})
}

func (s *Server) handleCallback(c *gin.Context) {
	var req struct {
		RequestID uint64   `json:"requestId" binding:"required"`
		Words     []string `json:"words" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	words := make([]*big.Int, 0, len(req.Words))
	for _, w := range req.Words {
		word, ok := new(big.Int).SetString(w, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid random word"})
			return
		}
		words = append(words, word)
	}

	lot, err := s.svc.FulfillRandomness(c.Request.Context(), s.oracleCaller, types.RequestID(req.RequestID), words)
	if err != nil {
		s.metrics.rejectedCallbacks.Inc()
		abortWithError(c, err)
		return
	}
	s.metrics.resolutions.Inc()
	s.metrics.lotsRemaining.Set(float64(s.svc.Remaining()))

	c.JSON(http.StatusOK, gin.H{"requestId": req.RequestID, "lot": lot})
}

// abortWithError maps mint error codes onto HTTP statuses and renders the
// coded error body.
func abortWithError(c *gin.Context, err error) {
	var mintErr *lotmint.Error
	status := http.StatusInternalServerError

	if e, ok := err.(*lotmint.Error); ok {
		mintErr = e
		switch e.Code {
		case lotmint.ErrCodeUnauthorized, lotmint.ErrCodeUnauthorizedCaller:
			status = http.StatusUnauthorized
		case lotmint.ErrCodeUnknownToken, lotmint.ErrCodeUnknownRequest:
			status = http.StatusNotFound
		case lotmint.ErrCodeInsufficientAllowance, lotmint.ErrCodeInsufficientBalance:
			status = http.StatusPaymentRequired
		case lotmint.ErrCodePoolExhausted:
			status = http.StatusConflict
		case lotmint.ErrCodeStorage:
			status = http.StatusInternalServerError
		default:
			status = http.StatusBadRequest
		}
	} else {
		mintErr = lotmint.NewError(lotmint.ErrCodeStorage, err.Error(), nil)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": mintErr})
}
