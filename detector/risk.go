package detector

import (
	"fmt"
	"math/big"

	"github.com/metachris/go-ethutils/utils"
	"github.com/metachris/mevguard/common"
)

var (
	gwei           = big.NewInt(1_000_000_000)
	tenthOfEther   = big.NewInt(100_000_000_000_000_000)
	bpsDenominator = big.NewInt(10_000)
)

// Score components. Each is non-decreasing in its input and capped, so the sum is monotonic and stays in [0, 100].
const (
	maxGasPoints        = 25
	gweiPerGasPoint     = 4
	maxValuePoints      = 30 // one point per 0.1 ETH
	maxCongestionPoints = 15
	pendingPerPoint     = 100

	maxCongestionLossBps = 50
	pendingPerLossBps    = 1000
)

// Assessment is the risk scoring output for one classified transaction
type Assessment struct {
	Score        int
	SlippageLoss *big.Int // wei
	Factors      []string
}

func basePoints(t common.AttackType) int {
	switch t {
	case common.AttackSandwich:
		return 30
	case common.AttackFrontRun:
		return 25
	case common.AttackBackRun:
		return 15
	case common.AttackOther:
		return 5
	case common.AttackNone:
		return 0
	}
	return 0
}

// lossBps is the share of the transaction value expected to be lost to the attack
func lossBps(t common.AttackType) int64 {
	switch t {
	case common.AttackSandwich:
		return 150
	case common.AttackFrontRun:
		return 100
	case common.AttackBackRun:
		return 30
	case common.AttackOther:
		return 10
	case common.AttackNone:
		return 0
	}
	return 0
}

// Assess scores tx for the given classification. pendingCount is the current mempool
// congestion (number of pending transactions known to the caller).
func Assess(tx *common.PendingTransaction, attackType common.AttackType, pendingCount int) Assessment {
	if attackType == common.AttackNone {
		return Assessment{SlippageLoss: new(big.Int)}
	}

	factors := make([]string, 0, 4)
	gasPrice := tx.EffectiveGasPrice()
	value := tx.ValueOrZero()

	score := basePoints(attackType)
	factors = append(factors, fmt.Sprintf("%s pattern", attackType))

	gasPoints := capPoints(new(big.Int).Div(gasPrice, new(big.Int).Mul(gwei, big.NewInt(gweiPerGasPoint))), maxGasPoints)
	score += gasPoints
	if utils.IsBigIntZero(gasPrice) {
		factors = append(factors, "zero gas price")
	} else if gasPoints > 0 {
		factors = append(factors, fmt.Sprintf("gas price %s gwei", new(big.Int).Div(gasPrice, gwei)))
	}

	valuePoints := capPoints(new(big.Int).Div(value, tenthOfEther), maxValuePoints)
	score += valuePoints
	if valuePoints > 0 {
		factors = append(factors, fmt.Sprintf("value %s ETH", common.WeiToEth(value).StringFixed(3)))
	}

	congestionPoints := 0
	if pendingCount > 0 {
		congestionPoints = pendingCount / pendingPerPoint
		if congestionPoints > maxCongestionPoints {
			congestionPoints = maxCongestionPoints
		}
	}
	score += congestionPoints
	if congestionPoints > 0 {
		factors = append(factors, fmt.Sprintf("mempool congestion (%d pending)", pendingCount))
	}

	return Assessment{
		Score:        clampScore(score),
		SlippageLoss: EstimateSlippageLoss(value, attackType, pendingCount),
		Factors:      factors,
	}
}

// EstimateSlippageLoss is value * (type bps + congestion bps) / 10000, in wei
func EstimateSlippageLoss(value *big.Int, attackType common.AttackType, pendingCount int) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return new(big.Int)
	}

	bps := lossBps(attackType)
	if bps == 0 {
		return new(big.Int)
	}
	if pendingCount > 0 {
		extra := int64(pendingCount / pendingPerLossBps)
		if extra > maxCongestionLossBps {
			extra = maxCongestionLossBps
		}
		bps += extra
	}

	loss := new(big.Int).Mul(value, big.NewInt(bps))
	return loss.Div(loss, bpsDenominator)
}

func capPoints(v *big.Int, max int) int {
	if v.Sign() <= 0 {
		return 0
	}
	if v.Cmp(big.NewInt(int64(max))) >= 0 {
		return max
	}
	return int(v.Int64())
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
