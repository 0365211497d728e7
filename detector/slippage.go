package detector

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/metachris/mevguard/common"
)

const (
	DefaultPoolFeeBps       = 30
	DefaultVolatilityBps    = 50
	SlippageBufferBps       = 10
	MinConservativeBps      = 10
	MaxToleranceBps         = 5000
	maxVolatilityBps        = 2000
	baseConfidence          = 0.9
	minVolatilitySamples    = 2
	steadyVolatilitySamples = 10
)

// RecommendSlippage combines the price impact of the trade against the matching pools with the
// volatility of the price samples into conservative / recommended / aggressive tolerances.
//
// A non-positive amount or no usable pool returns an ErrInvalidRequest error together with a
// best-effort, volatility-only recommendation (Success=false, reduced confidence).
func RecommendSlippage(pools []common.DexPoolSnapshot, priceSamples []float64, intent common.TradeIntent) (*common.SlippageRecommendation, error) {
	rec := &common.SlippageRecommendation{Reasoning: make([]string, 0)}
	confidence := baseConfidence

	// Volatility component
	samples := usableSamples(priceSamples)
	if dropped := len(priceSamples) - len(samples); dropped > 0 {
		rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("ignored %d non-positive or non-finite price sample(s)", dropped))
	}
	volatilityBps, sampleNote := volatilityFromSamples(samples)
	rec.VolatilityBps = volatilityBps
	rec.Reasoning = append(rec.Reasoning, sampleNote)
	if len(samples) < minVolatilitySamples {
		confidence -= 0.3
	} else if len(samples) < steadyVolatilitySamples {
		confidence -= 0.1
	}

	// Price impact component
	var inputErr error
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		inputErr = common.InvalidRequest("trade amount must be positive")
	} else if err := validatePools(pools); err != nil {
		inputErr = err
	} else {
		reserveIn, feeBps, used := matchingLiquidity(pools, intent)
		if used == 0 {
			inputErr = common.InvalidRequest("no pool snapshot with liquidity for %s/%s", intent.BaseAsset, intent.QuoteAsset)
		} else {
			impact := priceImpactBps(intent.AmountIn, reserveIn)
			rec.PriceImpactBps = impact + feeBps
			rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("price impact %d bps against %d pool(s), pool fee %d bps", impact, used, feeBps))
			if impact > 500 {
				confidence -= 0.1
				rec.Reasoning = append(rec.Reasoning, "trade is large relative to pool reserves")
			}
		}
	}

	if inputErr != nil {
		confidence *= 0.5
		rec.Reasoning = append(rec.Reasoning, "price impact unavailable, recommendation based on volatility only")
		rec.Error = inputErr.Error()
	}

	conservative := rec.PriceImpactBps + rec.VolatilityBps/2
	if conservative < MinConservativeBps {
		conservative = MinConservativeBps
	}
	recommended := rec.PriceImpactBps + rec.VolatilityBps + SlippageBufferBps
	if recommended < conservative {
		recommended = conservative
	}
	aggressive := recommended*3/2 + 25

	rec.ConservativeBps = capBps(conservative)
	rec.RecommendedBps = capBps(recommended)
	rec.AggressiveBps = capBps(aggressive)
	rec.Confidence = clampConfidence(confidence)
	rec.Success = inputErr == nil

	return rec, inputErr
}

// validatePools rejects snapshots with negative reserves
func validatePools(pools []common.DexPoolSnapshot) error {
	for _, p := range pools {
		if (p.BaseReserve != nil && p.BaseReserve.Sign() < 0) || (p.QuoteReserve != nil && p.QuoteReserve.Sign() < 0) {
			return common.InvalidRequest("pool %s %s/%s has a negative reserve", p.Address, p.BaseAsset, p.QuoteAsset)
		}
	}
	return nil
}

// matchingLiquidity sums the input-side reserves of pools trading the intent's pair, and averages their fee.
// An intent without assets matches every pool.
func matchingLiquidity(pools []common.DexPoolSnapshot, intent common.TradeIntent) (reserveIn *big.Int, feeBps int64, used int) {
	reserveIn = new(big.Int)
	var feeSum int64

	for _, p := range pools {
		if p.BaseReserve == nil || p.QuoteReserve == nil {
			continue
		}

		baseSide, quoteSide := p.BaseReserve, p.QuoteReserve
		switch {
		case intent.BaseAsset == "" && intent.QuoteAsset == "":
		case strings.EqualFold(p.BaseAsset, intent.BaseAsset) && strings.EqualFold(p.QuoteAsset, intent.QuoteAsset):
		case strings.EqualFold(p.BaseAsset, intent.QuoteAsset) && strings.EqualFold(p.QuoteAsset, intent.BaseAsset):
			baseSide, quoteSide = quoteSide, baseSide
		default:
			continue
		}

		in := quoteSide
		if intent.SellBase {
			in = baseSide
		}
		if in.Sign() == 0 {
			continue
		}

		reserveIn.Add(reserveIn, in)
		if p.FeeBps != nil {
			feeSum += int64(*p.FeeBps)
		} else {
			feeSum += DefaultPoolFeeBps
		}
		used++
	}

	if used > 0 {
		feeBps = feeSum / int64(used)
	}
	return reserveIn, feeBps, used
}

// priceImpactBps is the constant-product impact amountIn / (reserveIn + amountIn), in basis points
func priceImpactBps(amountIn, reserveIn *big.Int) int64 {
	denominator := new(big.Int).Add(reserveIn, amountIn)
	if denominator.Sign() == 0 {
		return 0
	}
	impact := new(big.Int).Mul(amountIn, bpsDenominator)
	impact.Div(impact, denominator)
	return impact.Int64()
}

// usableSamples keeps the positive, finite prices in their original order
func usableSamples(samples []float64) []float64 {
	res := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s) {
			res = append(res, s)
		}
	}
	return res
}

// volatilityFromSamples returns the standard deviation of the simple returns between consecutive price samples, in bps
func volatilityFromSamples(samples []float64) (int64, string) {
	samples = usableSamples(samples)
	returns := make([]float64, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		r := samples[i]/samples[i-1] - 1
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		returns = append(returns, r)
	}

	if len(returns) < 1 {
		return DefaultVolatilityBps, fmt.Sprintf("not enough price samples, assuming %d bps volatility", DefaultVolatilityBps)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	stddev := math.Sqrt(variance) * 10_000
	if math.IsNaN(stddev) {
		return DefaultVolatilityBps, fmt.Sprintf("price samples unusable, assuming %d bps volatility", DefaultVolatilityBps)
	}
	if stddev > maxVolatilityBps {
		stddev = maxVolatilityBps
	}
	bps := int64(math.Round(stddev))
	return bps, fmt.Sprintf("volatility %d bps from %d price samples", bps, len(samples))
}

func capBps(v int64) int64 {
	if v > MaxToleranceBps {
		return MaxToleranceBps
	}
	return v
}

func clampConfidence(c float64) float64 {
	if c < 0.05 {
		c = 0.05
	}
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}
