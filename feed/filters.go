package feed

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Filters narrow down the bundles the feed sends
type Filters struct {
	Builders     []string
	MinProfitUSD *decimal.Decimal
	TargetTx     string
}

func (f *Filters) ToUriQuery() string {
	if f == nil {
		return ""
	}

	args := []string{}
	if len(f.Builders) > 0 {
		args = append(args, fmt.Sprintf("builders=%s", url.QueryEscape(strings.Join(f.Builders, ","))))
	}
	if f.MinProfitUSD != nil {
		args = append(args, fmt.Sprintf("min_profit_usd=%s", f.MinProfitUSD.String()))
	}
	if f.TargetTx != "" {
		args = append(args, fmt.Sprintf("target_tx=%s", url.QueryEscape(f.TargetTx)))
	}

	s := strings.Join(args, "&")
	if len(s) > 0 {
		s = "?" + s
	}

	return s
}
