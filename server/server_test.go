package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/ingest"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAttacks struct {
	records   []*common.AttackRecord
	lastLimit int
}

func (f *fakeAttacks) GetRecentAttacks(limit int) []*common.AttackRecord {
	f.lastLimit = limit
	if limit < len(f.records) {
		return f.records[:limit]
	}
	return f.records
}

func (f *fakeAttacks) GetAttackStatistics() common.AttackStatistics {
	return common.ComputeAttackStatistics(f.records)
}

func (f *fakeAttacks) Status() *ingest.Status {
	return &ingest.Status{
		Mode:            ingest.ModePush,
		PendingCount:    42,
		AverageGasPrice: big.NewInt(30_000_000_000),
		RecentAttacks:   f.records,
		Observed:        420,
	}
}

func (f *fakeAttacks) IsActive() bool { return true }

type fakeBundles struct {
	sim       *relay.BundleSimulationResult
	lastRawTx string
	lastOpts  relay.PrivateTxOptions
}

func (f *fakeBundles) SimulateBundle(ctx context.Context, req relay.SimulationRequest) *relay.BundleSimulationResult {
	return f.sim
}

func (f *fakeBundles) OptimizeBundle(ctx context.Context, req relay.OptimizationRequest) *relay.BundleOptimizationResult {
	return &relay.BundleOptimizationResult{Success: f.sim.Success, Err: f.sim.Err, Error: f.sim.Error, Simulation: f.sim, Adjustments: []relay.Adjustment{}}
}

func (f *fakeBundles) SubmitPrivateTransaction(ctx context.Context, rawTx string, opts relay.PrivateTxOptions) *relay.PrivateTxResult {
	f.lastRawTx, f.lastOpts = rawTx, opts
	return &relay.PrivateTxResult{Success: true, TxHash: "0xabc"}
}

func sampleRecords() []*common.AttackRecord {
	return []*common.AttackRecord{
		{TxHash: ethcommon.HexToHash("0x01"), Type: common.AttackSandwich, RiskScore: 80, SlippageLoss: big.NewInt(1000), GasPrice: big.NewInt(1)},
		{TxHash: ethcommon.HexToHash("0x02"), Type: common.AttackOther, RiskScore: 20, SlippageLoss: big.NewInt(500), GasPrice: big.NewInt(1)},
	}
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, New(":0").Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetAttacks(t *testing.T) {
	attacks := &fakeAttacks{records: sampleRecords()}
	router := New(":0", WithAttacks(attacks)).Router()

	rec := do(t, router, http.MethodGet, "/api/v1/attacks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLimit, attacks.lastLimit)

	var resp struct {
		Attacks []struct {
			TxHash    string `json:"txHash"`
			Type      string `json:"type"`
			RiskScore int    `json:"riskScore"`
		} `json:"attacks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Attacks, 2)
	assert.Equal(t, "sandwich", resp.Attacks[0].Type)
	assert.Equal(t, 80, resp.Attacks[0].RiskScore)

	rec = do(t, router, http.MethodGet, "/api/v1/attacks?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Attacks, 1)

	do(t, router, http.MethodGet, "/api/v1/attacks?limit=100000", "")
	assert.Equal(t, maxLimit, attacks.lastLimit)

	rec = do(t, router, http.MethodGet, "/api/v1/attacks?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnconfiguredComponents(t *testing.T) {
	router := New(":0").Router()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/api/v1/attacks", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/api/v1/opportunities", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodPost, "/api/v1/bundles/simulate", `{"txs":[]}`).Code)

	rec := do(t, router, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestAttackStats(t *testing.T) {
	router := New(":0", WithAttacks(&fakeAttacks{records: sampleRecords()})).Router()
	rec := do(t, router, http.MethodGet, "/api/v1/attacks/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total             int            `json:"total"`
		ByType            map[string]int `json:"byType"`
		AverageRisk       float64        `json:"averageRisk"`
		TotalSlippageLoss string         `json:"totalSlippageLoss"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.ByType["sandwich"])
	assert.Equal(t, 0, resp.ByType["frontrun"])
	assert.Equal(t, 50.0, resp.AverageRisk)
	assert.Equal(t, "1500", resp.TotalSlippageLoss)
}

func TestStatus(t *testing.T) {
	router := New(":0", WithAttacks(&fakeAttacks{})).Router()
	rec := do(t, router, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Ingest struct {
			Active          bool   `json:"active"`
			Mode            string `json:"mode"`
			PendingCount    int    `json:"pendingCount"`
			AverageGasPrice string `json:"averageGasPrice"`
		} `json:"ingest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ingest.Active)
	assert.Equal(t, "push", resp.Ingest.Mode)
	assert.Equal(t, 42, resp.Ingest.PendingCount)
	assert.Equal(t, "30000000000", resp.Ingest.AverageGasPrice)
}

func TestSlippage(t *testing.T) {
	router := New(":0").Router()

	body := `{
		"pools": [{"baseAsset": "WETH", "quoteAsset": "USDC", "baseReserve": 1000000000000000000000, "quoteReserve": 2000000000000}],
		"priceSamples": [100, 100, 100, 100, 100, 100, 100, 100, 100, 100],
		"intent": {"baseAsset": "WETH", "quoteAsset": "USDC", "amountIn": 1000000000000000000, "sellBase": true}
	}`
	rec := do(t, router, http.MethodPost, "/api/v1/slippage", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp common.SlippageRecommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(39), resp.PriceImpactBps)
	assert.Equal(t, int64(49), resp.RecommendedBps)

	// amounts as decimal and hex strings, the way every response encodes them
	body = `{
		"pools": [{"baseAsset": "WETH", "quoteAsset": "USDC", "baseReserve": "1000000000000000000000", "quoteReserve": "0x1d1a94a2000"}],
		"priceSamples": [100, 100, 100, 100, 100, 100, 100, 100, 100, 100],
		"intent": {"baseAsset": "WETH", "quoteAsset": "USDC", "amountIn": "0xde0b6b3a7640000", "sellBase": true}
	}`
	rec = do(t, router, http.MethodPost, "/api/v1/slippage", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = common.SlippageRecommendation{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(49), resp.RecommendedBps)

	rec = do(t, router, http.MethodPost, "/api/v1/slippage", `{"intent": {"amountIn": "lots"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/slippage", `{"intent": {"amountIn": 0}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	rec = do(t, router, http.MethodPost, "/api/v1/slippage", `{"pools": "nope"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulateStatusCodes(t *testing.T) {
	bundles := &fakeBundles{sim: &relay.BundleSimulationResult{Success: true, GasUsed: "21000"}}
	router := New(":0", WithBundles(bundles)).Router()

	rec := do(t, router, http.MethodPost, "/api/v1/bundles/simulate", `{"txs": ["0x02"], "blockNumber": 19000000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"gasUsed":"21000"`)

	err := common.InvalidRequest("bundle has no transactions")
	bundles.sim = &relay.BundleSimulationResult{Err: err, Error: err.Error()}
	rec = do(t, router, http.MethodPost, "/api/v1/bundles/simulate", `{"txs": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bundle has no transactions")

	err = common.Unavailable(context.DeadlineExceeded, "relay")
	bundles.sim = &relay.BundleSimulationResult{Err: err, Error: err.Error()}
	rec = do(t, router, http.MethodPost, "/api/v1/bundles/optimize", `{"simulation": {"txs": ["0x02"]}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPrivateTx(t *testing.T) {
	bundles := &fakeBundles{}
	router := New(":0", WithBundles(bundles)).Router()

	rec := do(t, router, http.MethodPost, "/api/v1/private-tx", `{"rawTx": "0x02f8", "fast": true, "hints": ["hash"], "maxBlockNumber": 19000025}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0x02f8", bundles.lastRawTx)
	assert.True(t, bundles.lastOpts.Fast)
	assert.Equal(t, []string{"hash"}, bundles.lastOpts.Hints)
	assert.Equal(t, int64(19000025), bundles.lastOpts.MaxBlockNumber.Int64())
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	router := New(":0", WithMetrics(m, registry)).Router()

	do(t, router, http.MethodGet, "/health", "")
	rec := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mevguard_http_requests_total{`)
	assert.Contains(t, rec.Body.String(), `handler="/health"`)
}
