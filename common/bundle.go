package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// BundleHints is the profitability hint payload some feed messages carry
type BundleHints struct {
	ExpectedProfitUSD *decimal.Decimal `json:"expected_profit_usd,omitempty"`
	TargetTxHash      string           `json:"target_tx_hash,omitempty"`
	Confidence        *float64         `json:"confidence,omitempty"`
}

// Bundle is the normalized form of a third-party bundle seen on the private feed
type Bundle struct {
	ID           string                 `json:"id"`
	Hash         string                 `json:"bundleHash"`
	Transactions []string               `json:"transactions"`
	Builder      string                 `json:"builder,omitempty"`
	Target       string                 `json:"target,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Hints        *BundleHints           `json:"hints,omitempty"`
}

// OpportunityRecord is a scored backrun opportunity derived from a feed bundle. Immutable once created.
type OpportunityRecord struct {
	BundleHash        string           `json:"bundleHash"`
	TargetTxHash      string           `json:"targetTxHash,omitempty"`
	ExpectedProfitUSD *decimal.Decimal `json:"expectedProfitUsd,omitempty"`
	Confidence        float64          `json:"confidence"`
	Bundle            Bundle           `json:"bundle"`
	Analysis          string           `json:"analysis"`
	CreatedAt         time.Time        `json:"createdAt"`
}
