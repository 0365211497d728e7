package relay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/metachris/mevguard/common"
)

// OptimizeBundle simulates the bundle and derives profitability improving adjustments from the result.
// A failed simulation yields a failed optimization with the simulation's error and no adjustments.
func (c *Client) OptimizeBundle(ctx context.Context, req OptimizationRequest) *BundleOptimizationResult {
	sim := c.SimulateBundle(ctx, req.Simulation)
	return optimize(sim, req.PriorityFee)
}

func optimize(sim *BundleSimulationResult, priorityFee *big.Int) *BundleOptimizationResult {
	res := &BundleOptimizationResult{
		Simulation:  sim,
		Adjustments: []Adjustment{},
		Notes:       []string{},
	}

	if !sim.Success {
		res.Success, res.Err, res.Error = false, sim.Err, sim.Error
		res.Notes = append(res.Notes, "simulation failed, no adjustments derived")
		res.Notes = append(res.Notes, sim.Details...)
		return res
	}

	gasFees, hasFees := common.ParseBigInt(sim.GasFees)
	coinbaseDiff, hasDiff := common.ParseBigInt(sim.CoinbaseDiff)

	if sim.NetProfit == "" && hasDiff && hasFees {
		sim.NetProfit = new(big.Int).Sub(coinbaseDiff, gasFees).String()
	}

	if netProfit, ok := common.ParseBigInt(sim.NetProfit); ok {
		res.Notes = append(res.Notes, fmt.Sprintf("estimated net profit: %s ETH", common.WeiToEth(netProfit).StringFixed(6)))
		if netProfit.Sign() < 0 {
			res.Notes = append(res.Notes, "bundle is unprofitable at the simulated fees")
		}
	}

	if hasFees && gasFees.Sign() > 0 && priorityFee != nil && priorityFee.Sign() > 0 {
		reduced := new(big.Int).Mul(priorityFee, big.NewInt(95))
		reduced.Div(reduced, big.NewInt(100))
		res.Adjustments = append(res.Adjustments, Adjustment{
			Field:  "maxPriorityFeePerGas",
			Value:  reduced.String(),
			Reason: fmt.Sprintf("gas fees of %s ETH are paid; priority fee reduced to 95%% (%s wei)", common.WeiToEth(gasFees).StringFixed(6), common.BigIntToEString(reduced, 2)),
		})
	}

	sentToCoinbase, hasSent := common.ParseBigInt(sim.EthSentToCoinbase)
	if (!hasDiff || coinbaseDiff.Sign() <= 0) && (!hasSent || sentToCoinbase.Sign() <= 0) {
		res.Notes = append(res.Notes, "bundle makes no coinbase payment")
	}

	res.Success = true
	return res
}
