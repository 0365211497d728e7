package feed

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/metachris/mevguard/common"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
)

const (
	// confidence of an opportunity that carries no explicit confidence
	ProfitConfidence = 0.6
	TargetConfidence = 0.3
)

// bundleMessage is the wire shape of one feed message. Loosely typed fields accept the
// variants seen across feed implementations (numbers or strings, tx strings or objects).
type bundleMessage struct {
	ID           string                 `json:"id"`
	BundleHash   string                 `json:"bundleHash"`
	Transactions []interface{}          `json:"transactions"`
	Metadata     map[string]interface{} `json:"metadata"`
	Hints        map[string]interface{} `json:"hints"`
	Target       interface{}            `json:"target"`
	Builder      string                 `json:"builder"`
	CreatedAt    interface{}            `json:"createdAt"`
}

// ParseBundle decodes a feed message into a normalized bundle. Returns an ErrParse error for
// malformed JSON or a message without any bundle identifier.
func ParseBundle(data []byte, receivedAt time.Time) (*common.Bundle, error) {
	var msg bundleMessage
	if err := sonnet.Unmarshal(data, &msg); err != nil {
		return nil, common.ParseError(err, "bundle message")
	}
	return msg.normalize(receivedAt)
}

func (m *bundleMessage) normalize(receivedAt time.Time) (*common.Bundle, error) {
	if m.ID == "" && m.BundleHash == "" {
		return nil, common.ParseError(fmt.Errorf("neither id nor bundleHash set"), "bundle message")
	}

	b := &common.Bundle{
		ID:           m.ID,
		Hash:         m.BundleHash,
		Transactions: make([]string, 0, len(m.Transactions)),
		Builder:      m.Builder,
		Target:       stringify(m.Target),
		CreatedAt:    parseTime(m.CreatedAt, receivedAt),
		Metadata:     m.Metadata,
	}
	if b.ID == "" {
		b.ID = b.Hash
	}
	if b.Hash == "" {
		b.Hash = b.ID
	}

	for _, tx := range m.Transactions {
		switch v := tx.(type) {
		case string:
			b.Transactions = append(b.Transactions, v)
		case map[string]interface{}:
			for _, key := range []string{"hash", "tx", "signedTransaction"} {
				if s, ok := v[key].(string); ok && s != "" {
					b.Transactions = append(b.Transactions, s)
					break
				}
			}
		}
	}

	hints := m.Hints
	if hints == nil && m.Metadata != nil {
		hints, _ = m.Metadata["hints"].(map[string]interface{})
	}
	b.Hints = parseHints(hints)
	return b, nil
}

func parseHints(h map[string]interface{}) *common.BundleHints {
	if h == nil {
		return nil
	}

	hints := &common.BundleHints{}
	switch v := h["expected_profit_usd"].(type) {
	case float64:
		d := decimal.NewFromFloat(v)
		hints.ExpectedProfitUSD = &d
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			hints.ExpectedProfitUSD = &d
		}
	}
	if s, ok := h["target_tx_hash"].(string); ok {
		hints.TargetTxHash = s
	}
	switch v := h["confidence"].(type) {
	case float64:
		hints.Confidence = &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			hints.Confidence = &f
		}
	}
	return hints
}

// DeriveOpportunity returns a scored opportunity when the bundle's hints carry an expected profit
// or a target transaction, and nil otherwise.
func DeriveOpportunity(b *common.Bundle, now time.Time) *common.OpportunityRecord {
	if b == nil || b.Hints == nil {
		return nil
	}
	h := b.Hints
	if h.ExpectedProfitUSD == nil && h.TargetTxHash == "" {
		return nil
	}

	confidence := TargetConfidence
	if h.ExpectedProfitUSD != nil {
		confidence = ProfitConfidence
	}
	if h.Confidence != nil && !math.IsNaN(*h.Confidence) {
		confidence = math.Max(0, math.Min(1, *h.Confidence))
	}

	return &common.OpportunityRecord{
		BundleHash:        b.Hash,
		TargetTxHash:      h.TargetTxHash,
		ExpectedProfitUSD: h.ExpectedProfitUSD,
		Confidence:        confidence,
		Bundle:            *b,
		Analysis:          analysis(b, confidence),
		CreatedAt:         now,
	}
}

func analysis(b *common.Bundle, confidence float64) string {
	parts := []string{fmt.Sprintf("backrun opportunity on bundle %s (%d txs)", b.Hash, len(b.Transactions))}
	if b.Hints.ExpectedProfitUSD != nil {
		parts = append(parts, fmt.Sprintf("expected profit $%s", b.Hints.ExpectedProfitUSD.StringFixed(2)))
	}
	if b.Hints.TargetTxHash != "" {
		parts = append(parts, fmt.Sprintf("target tx %s", b.Hints.TargetTxHash))
	}
	if b.Builder != "" {
		parts = append(parts, fmt.Sprintf("builder %s", b.Builder))
	}
	parts = append(parts, fmt.Sprintf("confidence %.0f%%", confidence*100))
	return strings.Join(parts, ", ")
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// parseTime accepts RFC3339 strings and unix timestamps in seconds or milliseconds
func parseTime(v interface{}, fallback time.Time) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC()
		}
		if t > 0 {
			return time.Unix(int64(t), 0).UTC()
		}
	}
	return fallback
}
