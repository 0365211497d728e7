package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// AttackType is the closed set of classifications the detector produces.
// Code switching on it must handle every value returned by AllAttackTypes.
type AttackType int

const (
	AttackNone AttackType = iota
	AttackSandwich
	AttackFrontRun
	AttackBackRun
	AttackOther
)

// AllAttackTypes lists the positive classifications (everything but AttackNone)
func AllAttackTypes() []AttackType {
	return []AttackType{AttackSandwich, AttackFrontRun, AttackBackRun, AttackOther}
}

func (t AttackType) String() string {
	switch t {
	case AttackNone:
		return "none"
	case AttackSandwich:
		return "sandwich"
	case AttackFrontRun:
		return "frontrun"
	case AttackBackRun:
		return "backrun"
	case AttackOther:
		return "other"
	}
	return fmt.Sprintf("AttackType(%d)", int(t))
}

func (t AttackType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AttackType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*t = AttackNone
	case "sandwich":
		*t = AttackSandwich
	case "frontrun", "front-run":
		*t = AttackFrontRun
	case "backrun", "back-run":
		*t = AttackBackRun
	case "other":
		*t = AttackOther
	default:
		return ParseError(fmt.Errorf("%q", string(text)), "unknown attack type")
	}
	return nil
}

// AttackRecord is the detection output for one transaction. Never mutated after creation;
// a corrected analysis produces a new record.
type AttackRecord struct {
	TxHash       ethcommon.Hash
	Type         AttackType
	RiskScore    int      // 0-100
	SlippageLoss *big.Int // wei
	GasPrice     *big.Int // wei
	DetectedAt   time.Time
	Attacker     *ethcommon.Address
	Victim       *ethcommon.Address
	Factors      []string
	Transaction  *PendingTransaction
	Network      string
	Source       Source
	BlockNumber  uint64
}

type attackRecordJSON struct {
	TxHash       ethcommon.Hash      `json:"txHash"`
	Type         AttackType          `json:"type"`
	RiskScore    int                 `json:"riskScore"`
	SlippageLoss string              `json:"slippageLoss"`
	GasPrice     string              `json:"gasPrice"`
	DetectedAt   time.Time           `json:"detectedAt"`
	Attacker     *ethcommon.Address  `json:"attacker,omitempty"`
	Victim       *ethcommon.Address  `json:"victim,omitempty"`
	Factors      []string            `json:"factors,omitempty"`
	Transaction  *PendingTransaction `json:"transaction,omitempty"`
	Network      string              `json:"network"`
	Source       Source              `json:"source"`
	BlockNumber  uint64              `json:"blockNumber"`
}

func (r *AttackRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(attackRecordJSON{
		TxHash:       r.TxHash,
		Type:         r.Type,
		RiskScore:    r.RiskScore,
		SlippageLoss: BigIntString(r.SlippageLoss),
		GasPrice:     BigIntString(r.GasPrice),
		DetectedAt:   r.DetectedAt,
		Attacker:     r.Attacker,
		Victim:       r.Victim,
		Factors:      r.Factors,
		Transaction:  r.Transaction,
		Network:      r.Network,
		Source:       r.Source,
		BlockNumber:  r.BlockNumber,
	})
}

// AttackStatistics summarizes the attack ring buffer
type AttackStatistics struct {
	Total             int                `json:"total"`
	ByType            map[AttackType]int `json:"byType"`
	AverageRisk       float64            `json:"averageRisk"`
	TotalSlippageLoss *big.Int           `json:"-"`
}

func (s AttackStatistics) MarshalJSON() ([]byte, error) {
	type alias AttackStatistics
	return json.Marshal(struct {
		alias
		TotalSlippageLoss string `json:"totalSlippageLoss"`
	}{alias(s), BigIntString(s.TotalSlippageLoss)})
}

// ComputeAttackStatistics aggregates records: counts by type, mean risk score and summed slippage loss.
func ComputeAttackStatistics(records []*AttackRecord) AttackStatistics {
	stats := AttackStatistics{
		ByType:            make(map[AttackType]int),
		TotalSlippageLoss: new(big.Int),
	}
	for _, t := range AllAttackTypes() {
		stats.ByType[t] = 0
	}

	riskSum := 0
	for _, r := range records {
		stats.Total++
		stats.ByType[r.Type]++
		riskSum += r.RiskScore
		if r.SlippageLoss != nil {
			stats.TotalSlippageLoss.Add(stats.TotalSlippageLoss, r.SlippageLoss)
		}
	}

	if stats.Total > 0 {
		stats.AverageRisk = float64(riskSum) / float64(stats.Total)
	}
	return stats
}
