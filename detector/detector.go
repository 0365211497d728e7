// Heuristic MEV pattern detection over a pending transaction and a window of recently observed ones.
//
// Rules are applied in order: no recipient -> none; sandwich (known router AND swap selector, with a
// higher-paying same-recipient tx before and after); front-run; back-run; other (router OR selector); none.
package detector

import (
	"bytes"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/metachris/mevguard/common"
)

const (
	FrontRunWindow = 60 * time.Second
	BackRunWindow  = 120 * time.Second
)

// KnownRouters is the DEX router allow-list (lowercase hex)
var KnownRouters = map[string]string{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "Uniswap V2 Router",
	"0xe592427a0aece92de3edee1f18e0157c05861564": "Uniswap V3 SwapRouter",
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": "Uniswap SwapRouter02",
	"0x3fc91a3afd70395cd496c647d5a6cc9d4b2b7fad": "Uniswap Universal Router",
	"0xef1c6e67703c7bd7107eed8303fbe6ec2554bf6b": "Uniswap Universal Router (old)",
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": "SushiSwap Router",
	"0x1111111254eeb25477b68fb85ed929f73a960582": "1inch v5 Router",
	"0xdef1c0ded9bec7f1a1670819833240f027b25eff": "0x Exchange Proxy",
}

// SwapSelectors is the swap method selector allow-list
var SwapSelectors = map[string]string{
	"0x38ed1739": "swapExactTokensForTokens",
	"0x8803dbee": "swapTokensForExactTokens",
	"0x7ff36ab5": "swapExactETHForTokens",
	"0x4a25d94a": "swapTokensForExactETH",
	"0x18cbafe5": "swapExactTokensForETH",
	"0xfb3bdb41": "swapETHForExactTokens",
	"0x5c11d795": "swapExactTokensForTokensSupportingFeeOnTransferTokens",
	"0xb6f9de95": "swapExactETHForTokensSupportingFeeOnTransferTokens",
	"0x791ac947": "swapExactTokensForETHSupportingFeeOnTransferTokens",
	"0x414bf389": "exactInputSingle",
	"0xc04b8d59": "exactInput",
	"0xdb3e2198": "exactOutputSingle",
	"0xf28c0498": "exactOutput",
	"0x04e45aaf": "exactInputSingle (SwapRouter02)",
	"0xb858183f": "exactInput (SwapRouter02)",
	"0xac9650d8": "multicall",
	"0x5ae401dc": "multicall (deadline)",
	"0x3593564c": "execute (Universal Router)",
}

// Detection is the classification plus whatever attribution the matching rule could provide
type Detection struct {
	Type     common.AttackType
	Attacker *ethcommon.Address
	Victim   *ethcommon.Address
	Related  []ethcommon.Hash // the window transactions the rule matched on
}

func IsKnownRouter(addr *ethcommon.Address) bool {
	if addr == nil {
		return false
	}
	_, found := KnownRouters[strings.ToLower(addr.Hex())]
	return found
}

func IsSwapSelector(input []byte) bool {
	if len(input) < 4 {
		return false
	}
	_, found := SwapSelectors[hexutil.Encode(input[:4])]
	return found
}

// Classify returns the attack type of tx given the recently observed window
func Classify(tx *common.PendingTransaction, window []*common.PendingTransaction) common.AttackType {
	return Detect(tx, window).Type
}

// Detect classifies tx against window. The window may contain tx itself; it is skipped.
func Detect(tx *common.PendingTransaction, window []*common.PendingTransaction) Detection {
	if tx.To == nil {
		return Detection{Type: common.AttackNone}
	}

	isDexTarget := IsKnownRouter(tx.To)
	isDexFunction := IsSwapSelector(tx.Input)

	sameRecipient := make([]*common.PendingTransaction, 0)
	for _, other := range window {
		if other == nil || other.Hash == tx.Hash || other.To == nil {
			continue
		}
		if bytes.Equal(other.To.Bytes(), tx.To.Bytes()) {
			sameRecipient = append(sameRecipient, other)
		}
	}

	gasPrice := tx.EffectiveGasPrice()

	if isDexTarget && isDexFunction {
		if before, after := findSandwich(tx, gasPrice, sameRecipient); before != nil && after != nil {
			attacker := before.From
			victim := tx.From
			return Detection{
				Type:     common.AttackSandwich,
				Attacker: &attacker,
				Victim:   &victim,
				Related:  []ethcommon.Hash{before.Hash, after.Hash},
			}
		}
	}

	if isDexFunction {
		if victimTx := findFrontRunVictim(tx, gasPrice, sameRecipient); victimTx != nil {
			attacker := tx.From
			victim := victimTx.From
			return Detection{
				Type:     common.AttackFrontRun,
				Attacker: &attacker,
				Victim:   &victim,
				Related:  []ethcommon.Hash{victimTx.Hash},
			}
		}

		if follower := findBackRunner(tx, gasPrice, sameRecipient); follower != nil {
			attacker := follower.From
			victim := tx.From
			return Detection{
				Type:     common.AttackBackRun,
				Attacker: &attacker,
				Victim:   &victim,
				Related:  []ethcommon.Hash{follower.Hash},
			}
		}
	}

	if isDexTarget || isDexFunction {
		return Detection{Type: common.AttackOther}
	}
	return Detection{Type: common.AttackNone}
}

// findSandwich looks for a tx paying > 1.2x observed at or before tx, and one paying more than tx observed strictly after
func findSandwich(tx *common.PendingTransaction, gasPrice *big.Int, candidates []*common.PendingTransaction) (before, after *common.PendingTransaction) {
	threshold := new(big.Int).Mul(gasPrice, big.NewInt(12)) // compared against other*10
	for _, other := range candidates {
		otherGas := other.EffectiveGasPrice()
		if before == nil && !other.ObservedAt.After(tx.ObservedAt) {
			if new(big.Int).Mul(otherGas, big.NewInt(10)).Cmp(threshold) > 0 {
				before = other
			}
		}
		if after == nil && other.ObservedAt.After(tx.ObservedAt) {
			if otherGas.Cmp(gasPrice) > 0 {
				after = other
			}
		}
		if before != nil && after != nil {
			return before, after
		}
	}
	return before, after
}

// findFrontRunVictim: tx outbids a same-recipient tx by at least 30%, with a comparable value, within 60s
func findFrontRunVictim(tx *common.PendingTransaction, gasPrice *big.Int, candidates []*common.PendingTransaction) *common.PendingTransaction {
	txGas10 := new(big.Int).Mul(gasPrice, big.NewInt(10))
	value := tx.ValueOrZero()
	valueLimit := new(big.Int).Mul(value, big.NewInt(11)) // compared against diff*10

	for _, other := range candidates {
		// other < gas / 1.3  <=>  other*13 < gas*10
		if new(big.Int).Mul(other.EffectiveGasPrice(), big.NewInt(13)).Cmp(txGas10) >= 0 {
			continue
		}

		diff := new(big.Int).Sub(other.ValueOrZero(), value)
		diff.Abs(diff)
		if new(big.Int).Mul(diff, big.NewInt(10)).Cmp(valueLimit) >= 0 {
			continue
		}

		if absDuration(other.ObservedAt.Sub(tx.ObservedAt)) > FrontRunWindow {
			continue
		}
		return other
	}
	return nil
}

// findBackRunner: a same-recipient tx paying at least as much, observed at or after tx, within 120s
func findBackRunner(tx *common.PendingTransaction, gasPrice *big.Int, candidates []*common.PendingTransaction) *common.PendingTransaction {
	for _, other := range candidates {
		if other.EffectiveGasPrice().Cmp(gasPrice) < 0 {
			continue
		}
		delta := other.ObservedAt.Sub(tx.ObservedAt)
		if delta < 0 || delta > BackRunWindow {
			continue
		}
		return other
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
