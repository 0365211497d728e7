package server

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/detector"
	"github.com/metachris/mevguard/relay"
	"github.com/pkg/errors"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusForErr maps the error taxonomy onto HTTP status codes
func statusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, common.ErrInvalidRequest), errors.Is(err, common.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrTransportUnavailable), errors.Is(err, common.ErrProtocol):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func unavailable(c *gin.Context, component string) {
	c.JSON(http.StatusServiceUnavailable, errorResponse{Error: component + " not configured"})
}

func parseLimit(c *gin.Context) (int, bool) {
	value := c.Query("limit")
	if value == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func (s *Server) getAttacks(c *gin.Context) {
	if s.attacks == nil {
		unavailable(c, "ingestion")
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"attacks": s.attacks.GetRecentAttacks(limit)})
}

func (s *Server) getAttackStats(c *gin.Context) {
	if s.attacks == nil {
		unavailable(c, "ingestion")
		return
	}
	c.JSON(http.StatusOK, s.attacks.GetAttackStatistics())
}

func (s *Server) getOpportunities(c *gin.Context) {
	if s.opportunities == nil {
		unavailable(c, "feed")
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": s.opportunities.GetRecentOpportunities(limit)})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{}

	if s.attacks != nil {
		status := s.attacks.Status()
		resp["ingest"] = gin.H{
			"active":          s.attacks.IsActive(),
			"mode":            status.Mode,
			"pendingCount":    status.PendingCount,
			"averageGasPrice": common.BigIntString(status.AverageGasPrice),
			"observed":        status.Observed,
			"recentAttacks":   status.RecentAttacks,
		}
	}
	if s.opportunities != nil {
		resp["feed"] = gin.H{
			"running":   s.opportunities.IsRunning(),
			"connected": s.opportunities.IsConnected(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

type slippageRequest struct {
	Pools        []common.DexPoolSnapshot `json:"pools"`
	PriceSamples []float64                `json:"priceSamples"`
	Intent       common.TradeIntent       `json:"intent"`
}

// postSlippage always answers with a recommendation; an invalid trade yields a volatility-only one
func (s *Server) postSlippage(c *gin.Context) {
	var req slippageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rec, err := detector.RecommendSlippage(req.Pools, req.PriceSamples, req.Intent)
	if err != nil {
		s.logger.Debug("slippage recommendation degraded", "error", err)
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) postSimulate(c *gin.Context) {
	if s.bundles == nil {
		unavailable(c, "relay")
		return
	}
	var req relay.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res := s.bundles.SimulateBundle(c.Request.Context(), req)
	c.JSON(statusForErr(res.Err), res)
}

func (s *Server) postOptimize(c *gin.Context) {
	if s.bundles == nil {
		unavailable(c, "relay")
		return
	}
	var req relay.OptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res := s.bundles.OptimizeBundle(c.Request.Context(), req)
	c.JSON(statusForErr(res.Err), res)
}

type privateTxRequest struct {
	RawTx          string   `json:"rawTx"`
	Fast           bool     `json:"fast"`
	Hints          []string `json:"hints"`
	MaxBlockNumber *big.Int `json:"maxBlockNumber"`
}

func (s *Server) postPrivateTx(c *gin.Context) {
	if s.bundles == nil {
		unavailable(c, "relay")
		return
	}
	var req privateTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res := s.bundles.SubmitPrivateTransaction(c.Request.Context(), req.RawTx, relay.PrivateTxOptions{
		Fast:           req.Fast,
		Hints:          req.Hints,
		MaxBlockNumber: req.MaxBlockNumber,
	})
	c.JSON(statusForErr(res.Err), res)
}
