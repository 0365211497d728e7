package common

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

func BigFloatToEString(f *big.Float, prec int) string {
	s1 := f.Text('f', 0)
	if len(s1) >= 16 {
		f2 := new(big.Float).Quo(f, big.NewFloat(1e18))
		s := f2.Text('f', prec)
		return s + "e+18"
	} else if len(s1) >= 9 {
		f2 := new(big.Float).Quo(f, big.NewFloat(1e9))
		s := f2.Text('f', prec)
		return s + "e+09"
	}
	return f.Text('f', prec)
}

// BigIntToEString is a short human-readable rendition of a wei amount, for logs and terminal output only
func BigIntToEString(i *big.Int, prec int) string {
	if i == nil {
		return "0"
	}
	f := new(big.Float)
	f.SetInt(i)
	s1 := f.Text('f', 0)
	if len(s1) < 9 {
		return i.String()
	}
	return BigFloatToEString(f, prec)
}

// BigIntString returns the decimal string of i, or "" for nil
func BigIntString(i *big.Int) string {
	if i == nil {
		return ""
	}
	return i.String()
}

// ParseBigInt accepts "0x" prefixed hex or a decimal integer string
func ParseBigInt(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return new(big.Int), true
		}
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}

// WeiToEth converts wei into an exact decimal ether amount
func WeiToEth(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// TxToRlp returns the 0x-prefixed canonical binary encoding of tx, as accepted by eth_sendRawTransaction and bundles
func TxToRlp(tx *types.Transaction) (string, error) {
	b, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}

// DecodeRawTx decodes a 0x-prefixed signed transaction
func DecodeRawTx(rawTxHex string) (*types.Transaction, error) {
	b, err := hexutil.Decode(rawTxHex)
	if err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return tx, nil
}
