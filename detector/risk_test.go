package detector

import (
	"math/big"
	"testing"

	"github.com/metachris/mevguard/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreFor(attackType common.AttackType, gasGwei int64, value *big.Int, pending int) Assessment {
	tx := &common.PendingTransaction{GasPrice: gweiInt(gasGwei), Value: value}
	return Assess(tx, attackType, pending)
}

func TestRiskScoreIsMonotonicAndBounded(t *testing.T) {
	gasLevels := []int64{0, 1, 4, 20, 50, 99, 100, 101, 400, 10_000}
	valueLevels := []*big.Int{big.NewInt(0), milliEth(1), milliEth(100), milliEth(999), milliEth(3000), milliEth(1_000_000)}
	pendingLevels := []int{0, 1, 99, 100, 750, 1500, 50_000}

	for _, at := range common.AllAttackTypes() {
		for gi, gas := range gasLevels {
			for vi, value := range valueLevels {
				for pi, pending := range pendingLevels {
					a := scoreFor(at, gas, value, pending)
					require.GreaterOrEqual(t, a.Score, 0)
					require.LessOrEqual(t, a.Score, 100)

					if gi > 0 {
						prev := scoreFor(at, gasLevels[gi-1], value, pending)
						require.GreaterOrEqual(t, a.Score, prev.Score, "gas increase lowered score for %s", at)
					}
					if vi > 0 {
						prev := scoreFor(at, gas, valueLevels[vi-1], pending)
						require.GreaterOrEqual(t, a.Score, prev.Score, "value increase lowered score for %s", at)
						require.GreaterOrEqual(t, a.SlippageLoss.Cmp(prev.SlippageLoss), 0)
					}
					if pi > 0 {
						prev := scoreFor(at, gas, value, pendingLevels[pi-1])
						require.GreaterOrEqual(t, a.Score, prev.Score, "congestion increase lowered score for %s", at)
					}
				}
			}
		}
	}
}

func TestRiskScoreSaturatesAt100(t *testing.T) {
	a := scoreFor(common.AttackSandwich, 100_000, milliEth(100_000_000), 1_000_000)
	assert.Equal(t, 100, a.Score)
	assert.NotEmpty(t, a.Factors)
}

func TestRiskNoneIsZero(t *testing.T) {
	a := scoreFor(common.AttackNone, 500, milliEth(1000), 5000)
	assert.Equal(t, 0, a.Score)
	assert.Equal(t, 0, a.SlippageLoss.Sign())
}

func TestSlippageLossEstimate(t *testing.T) {
	// 1 ETH sandwiched with no congestion loses 1.5%
	loss := EstimateSlippageLoss(milliEth(1000), common.AttackSandwich, 0)
	assert.Equal(t, milliEth(15).String(), loss.String())

	// congestion adds one bps per 1000 pending, capped at 50
	loss = EstimateSlippageLoss(milliEth(1000), common.AttackSandwich, 2000)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(152), big.NewInt(100_000_000_000_000)).String(), loss.String())

	capped := EstimateSlippageLoss(milliEth(1000), common.AttackSandwich, 10_000_000)
	assert.Equal(t, milliEth(20).String(), capped.String())

	assert.Equal(t, 0, EstimateSlippageLoss(nil, common.AttackSandwich, 0).Sign())
}
