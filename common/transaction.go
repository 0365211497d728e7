package common

import (
	"encoding/json"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Source tags how a transaction reached the ingestion pipeline
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// PendingTransaction is an observed, not yet mined transaction. Treat it as immutable once constructed.
type PendingTransaction struct {
	Hash                 ethcommon.Hash
	From                 ethcommon.Address
	To                   *ethcommon.Address // nil for contract creation
	Value                *big.Int
	GasPrice             *big.Int // legacy
	MaxFeePerGas         *big.Int // fee market
	MaxPriorityFeePerGas *big.Int // fee market
	Gas                  uint64
	Nonce                uint64
	Input                []byte
	Type                 uint8
	BlockNumber          uint64 // 0 while pending
	ObservedAt           time.Time
}

// EffectiveGasPrice is the legacy gas price, or the max fee for fee-market transactions, or 0.
func (tx *PendingTransaction) EffectiveGasPrice() *big.Int {
	if tx.GasPrice != nil && tx.GasPrice.Sign() > 0 {
		return tx.GasPrice
	}
	if tx.MaxFeePerGas != nil {
		return tx.MaxFeePerGas
	}
	return new(big.Int)
}

func (tx *PendingTransaction) ValueOrZero() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

// Selector returns the leading 4 bytes of the input data, or nil if the input is shorter.
func (tx *PendingTransaction) Selector() []byte {
	if len(tx.Input) < 4 {
		return nil
	}
	return tx.Input[:4]
}

// RPCTransaction is the JSON shape of a transaction object returned by
// eth_getTransactionByHash and eth_getBlockByNumber(..., true).
type RPCTransaction struct {
	Hash                 ethcommon.Hash     `json:"hash"`
	From                 ethcommon.Address  `json:"from"`
	To                   *ethcommon.Address `json:"to"`
	Value                *hexutil.Big       `json:"value"`
	GasPrice             *hexutil.Big       `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big       `json:"maxPriorityFeePerGas"`
	Gas                  hexutil.Uint64     `json:"gas"`
	Nonce                hexutil.Uint64     `json:"nonce"`
	Input                hexutil.Bytes      `json:"input"`
	Type                 hexutil.Uint64     `json:"type"`
	BlockNumber          *hexutil.Big       `json:"blockNumber"`
}

// ToPendingTransaction converts provider output into a PendingTransaction observed at the given time.
func (r *RPCTransaction) ToPendingTransaction(observedAt time.Time) *PendingTransaction {
	tx := &PendingTransaction{
		Hash:                 r.Hash,
		From:                 r.From,
		To:                   r.To,
		Value:                hexBigOrNil(r.Value),
		GasPrice:             hexBigOrNil(r.GasPrice),
		MaxFeePerGas:         hexBigOrNil(r.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBigOrNil(r.MaxPriorityFeePerGas),
		Gas:                  uint64(r.Gas),
		Nonce:                uint64(r.Nonce),
		Input:                []byte(r.Input),
		Type:                 uint8(r.Type),
		ObservedAt:           observedAt,
	}
	if r.BlockNumber != nil {
		tx.BlockNumber = r.BlockNumber.ToInt().Uint64()
	}
	return tx
}

func hexBigOrNil(b *hexutil.Big) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b.ToInt())
}

// NewPendingTransactionFromTx builds a PendingTransaction from a decoded go-ethereum transaction.
// The sender has to be supplied by the caller since recovering it needs the chain's signer.
func NewPendingTransactionFromTx(tx *types.Transaction, from ethcommon.Address, observedAt time.Time) *PendingTransaction {
	pt := &PendingTransaction{
		Hash:       tx.Hash(),
		From:       from,
		To:         tx.To(),
		Value:      new(big.Int).Set(tx.Value()),
		Gas:        tx.Gas(),
		Nonce:      tx.Nonce(),
		Input:      tx.Data(),
		Type:       tx.Type(),
		ObservedAt: observedAt,
	}

	if tx.Type() == types.LegacyTxType || tx.Type() == types.AccessListTxType {
		pt.GasPrice = new(big.Int).Set(tx.GasPrice())
	} else {
		pt.MaxFeePerGas = new(big.Int).Set(tx.GasFeeCap())
		pt.MaxPriorityFeePerGas = new(big.Int).Set(tx.GasTipCap())
	}
	return pt
}

type pendingTransactionJSON struct {
	Hash                 ethcommon.Hash     `json:"hash"`
	From                 ethcommon.Address  `json:"from"`
	To                   *ethcommon.Address `json:"to,omitempty"`
	Value                string             `json:"value"`
	GasPrice             string             `json:"gasPrice,omitempty"`
	MaxFeePerGas         string             `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string             `json:"maxPriorityFeePerGas,omitempty"`
	Gas                  uint64             `json:"gas"`
	Nonce                uint64             `json:"nonce"`
	Input                hexutil.Bytes      `json:"input"`
	Type                 uint8              `json:"type"`
	BlockNumber          uint64             `json:"blockNumber"`
	ObservedAt           time.Time          `json:"observedAt"`
}

// MarshalJSON encodes all wei amounts as decimal strings
func (tx *PendingTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(pendingTransactionJSON{
		Hash:                 tx.Hash,
		From:                 tx.From,
		To:                   tx.To,
		Value:                BigIntString(tx.ValueOrZero()),
		GasPrice:             BigIntString(tx.GasPrice),
		MaxFeePerGas:         BigIntString(tx.MaxFeePerGas),
		MaxPriorityFeePerGas: BigIntString(tx.MaxPriorityFeePerGas),
		Gas:                  tx.Gas,
		Nonce:                tx.Nonce,
		Input:                tx.Input,
		Type:                 tx.Type,
		BlockNumber:          tx.BlockNumber,
		ObservedAt:           tx.ObservedAt,
	})
}
