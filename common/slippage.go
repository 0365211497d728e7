package common

import (
	"bytes"
	"encoding/json"
	"math/big"
	"time"
)

// DexPoolSnapshot is a point-in-time view of an AMM pool, supplied per request.
type DexPoolSnapshot struct {
	Address      string    `json:"address"`
	BaseAsset    string    `json:"baseAsset"`
	QuoteAsset   string    `json:"quoteAsset"`
	BaseReserve  *big.Int  `json:"baseReserve"`
	QuoteReserve *big.Int  `json:"quoteReserve"`
	FeeBps       *uint32   `json:"feeBps,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TradeIntent describes the trade a slippage recommendation is computed for
type TradeIntent struct {
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	AmountIn   *big.Int `json:"amountIn"`
	SellBase   bool     `json:"sellBase"` // true: base in, quote out
}

// UnmarshalJSON accepts reserves as JSON numbers, decimal strings or 0x-prefixed hex strings
func (p *DexPoolSnapshot) UnmarshalJSON(data []byte) error {
	type alias DexPoolSnapshot
	aux := struct {
		*alias
		BaseReserve  json.RawMessage `json:"baseReserve"`
		QuoteReserve json.RawMessage `json:"quoteReserve"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if p.BaseReserve, err = decodeJSONBigInt(aux.BaseReserve, "baseReserve"); err != nil {
		return err
	}
	p.QuoteReserve, err = decodeJSONBigInt(aux.QuoteReserve, "quoteReserve")
	return err
}

// UnmarshalJSON accepts amountIn as a JSON number, a decimal string or a 0x-prefixed hex string
func (t *TradeIntent) UnmarshalJSON(data []byte) error {
	type alias TradeIntent
	aux := struct {
		*alias
		AmountIn json.RawMessage `json:"amountIn"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	t.AmountIn, err = decodeJSONBigInt(aux.AmountIn, "amountIn")
	return err
}

func decodeJSONBigInt(raw json.RawMessage, field string) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, ParseError(err, field)
		}
	}
	v, ok := ParseBigInt(text)
	if !ok {
		return nil, InvalidRequest("%s: invalid integer %s", field, raw)
	}
	return v, nil
}

type SlippageRecommendation struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	RecommendedBps  int64    `json:"recommendedBps"`
	AggressiveBps   int64    `json:"aggressiveBps"`
	ConservativeBps int64    `json:"conservativeBps"`
	PriceImpactBps  int64    `json:"priceImpactBps"`
	VolatilityBps   int64    `json:"volatilityBps"`
	Confidence      float64  `json:"confidence"`
	Reasoning       []string `json:"reasoning"`
}
