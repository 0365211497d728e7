package relay

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/metachris/mevguard/common"
	"github.com/tidwall/gjson"
)

type simBundleArgs struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
	Timestamp        uint64   `json:"timestamp,omitempty"`
}

// SimulateBundle simulates the bundle with flashbots_simBundle. An empty transaction list or a
// non-positive block number fails with ErrInvalidRequest without contacting the relay.
func (c *Client) SimulateBundle(ctx context.Context, req SimulationRequest) *BundleSimulationResult {
	res := &BundleSimulationResult{}
	if err := validateBundle(req.Transactions, req.BlockNumber); err != nil {
		return res.fail(err)
	}

	stateBlock := req.StateBlockNumber
	if stateBlock == "" {
		stateBlock = "latest"
	}

	result, err := c.call(ctx, "flashbots_simBundle", simBundleArgs{
		Txs:              req.Transactions,
		BlockNumber:      hexutil.EncodeBig(req.BlockNumber),
		StateBlockNumber: stateBlock,
		Timestamp:        req.Timestamp,
	})
	if err != nil {
		return res.fail(err)
	}

	normalizeSimulation(result, res)
	return res
}

func (r *BundleSimulationResult) fail(err error) *BundleSimulationResult {
	r.Success, r.Err, r.Error = false, err, errString(err)
	return r
}

// normalizeSimulation maps the various relay response shapes onto res
func normalizeSimulation(result gjson.Result, res *BundleSimulationResult) {
	res.BundleHash = result.Get("bundleHash").String()
	res.GasUsed = intField(result, "totalGasUsed", "gasUsed")
	res.GasFees = intField(result, "gasFees")
	res.CoinbaseDiff = intField(result, "coinbaseDiff")
	res.EthSentToCoinbase = intField(result, "ethSentToCoinbase")
	res.NetProfit = intField(result, "netProfit", "profit")
	res.EffectiveGasPrice = intField(result, "bundleGasPrice", "effectiveGasPrice")
	if n, ok := bigFromResult(result.Get("stateBlockNumber")); ok && n.IsUint64() {
		res.StateBlockNumber = n.Uint64()
	}

	// coinbase payment per unit of gas, as builders order bundles
	if res.EffectiveGasPrice == "" {
		diff, okDiff := common.ParseBigInt(res.CoinbaseDiff)
		gasUsed, okGas := common.ParseBigInt(res.GasUsed)
		if okDiff && okGas && gasUsed.Sign() > 0 {
			res.EffectiveGasPrice = new(big.Int).Div(diff, gasUsed).String()
		}
	}

	failures := make([]string, 0)
	if msg := result.Get("error").String(); msg != "" {
		failures = append(failures, msg)
	}
	if s := result.Get("success"); s.Exists() && !s.Bool() && len(failures) == 0 {
		failures = append(failures, "relay reported simulation failure")
	}

	for i, txRes := range result.Get("results").Array() {
		txSim := TxSimulation{
			TxHash:       txRes.Get("txHash").String(),
			GasUsed:      intField(txRes, "gasUsed"),
			CoinbaseDiff: intField(txRes, "coinbaseDiff"),
		}
		for _, key := range []string{"error", "revert"} {
			if v := txRes.Get(key); v.Exists() && v.String() != "" {
				txSim.Error = v.String()
				break
			}
		}
		if txSim.Error != "" {
			failures = append(failures, fmt.Sprintf("tx %d (%s): %s", i, txSim.TxHash, txSim.Error))
		}
		res.Transactions = append(res.Transactions, txSim)
	}

	if len(res.Transactions) > 0 {
		res.Details = append(res.Details, fmt.Sprintf("%d transaction(s) simulated", len(res.Transactions)))
	}
	if res.StateBlockNumber > 0 {
		res.Details = append(res.Details, fmt.Sprintf("state block %d", res.StateBlockNumber))
	}

	if len(failures) > 0 {
		res.Details = append(res.Details, failures...)
		res.fail(common.ProtocolError("bundle simulation failed: %s", strings.Join(failures, "; ")))
		return
	}
	res.Success = true
}

// intField returns the first present key of r as a decimal integer string, or "" if none is present
func intField(r gjson.Result, keys ...string) string {
	for _, key := range keys {
		if n, ok := bigFromResult(r.Get(key)); ok {
			return n.String()
		}
	}
	return ""
}

// bigFromResult accepts hex strings, decimal strings and JSON numbers
func bigFromResult(r gjson.Result) (*big.Int, bool) {
	switch r.Type {
	case gjson.String:
		return common.ParseBigInt(r.Str)
	case gjson.Number:
		if n, ok := new(big.Int).SetString(r.Raw, 10); ok {
			return n, true
		}
		f, ok := new(big.Float).SetPrec(256).SetString(r.Raw)
		if !ok || !f.IsInt() {
			return nil, false
		}
		n, _ := f.Int(nil)
		return n, true
	}
	return nil, false
}
