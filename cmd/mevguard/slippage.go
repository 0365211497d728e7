package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/metachris/go-ethutils/utils"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/detector"
	"github.com/urfave/cli/v2"
)

type slippageInput struct {
	Pools        []common.DexPoolSnapshot `json:"pools"`
	PriceSamples []float64                `json:"priceSamples"`
	Intent       common.TradeIntent       `json:"intent"`
}

func slippageCommand() *cli.Command {
	return &cli.Command{
		Name:  "slippage",
		Usage: "Recommend a slippage tolerance for a trade",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "JSON request with pools, priceSamples and intent ('-' for stdin); replaces the other flags",
			},
			&cli.StringFlag{Name: "base", Usage: "base asset symbol"},
			&cli.StringFlag{Name: "quote", Usage: "quote asset symbol"},
			&cli.StringFlag{Name: "amount", Usage: "trade input amount in base units"},
			&cli.BoolFlag{Name: "sell-base", Usage: "the trade sells the base asset"},
			&cli.StringFlag{Name: "base-reserve", Usage: "pool base reserve in base units"},
			&cli.StringFlag{Name: "quote-reserve", Usage: "pool quote reserve in base units"},
			&cli.UintFlag{Name: "fee-bps", Usage: "pool fee in bps", Value: detector.DefaultPoolFeeBps},
			&cli.StringFlag{Name: "prices", Usage: "comma separated recent prices, oldest first"},
		},
		Action: func(c *cli.Context) error {
			var input *slippageInput
			var err error
			if file := c.String("file"); file != "" {
				input, err = readSlippageFile(file)
			} else {
				input, err = slippageFromFlags(c)
			}
			if err != nil {
				return err
			}

			rec, recErr := detector.RecommendSlippage(input.Pools, input.PriceSamples, input.Intent)
			if c.Bool("json") {
				return printJSON(rec)
			}

			if recErr != nil {
				utils.ColorPrintf(utils.WarningColor, "%v\n", recErr)
			}
			fmt.Printf("conservative: %d bps\n", rec.ConservativeBps)
			fmt.Printf("recommended:  %d bps\n", rec.RecommendedBps)
			fmt.Printf("aggressive:   %d bps\n", rec.AggressiveBps)
			fmt.Printf("price impact %d bps, volatility %d bps, confidence %.2f\n", rec.PriceImpactBps, rec.VolatilityBps, rec.Confidence)
			for _, r := range rec.Reasoning {
				fmt.Println("-", r)
			}
			return nil
		},
	}
}

func readSlippageFile(name string) (*slippageInput, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	input := &slippageInput{}
	if err := json.NewDecoder(r).Decode(input); err != nil {
		return nil, common.ParseError(err, "invalid slippage request")
	}
	return input, nil
}

func slippageFromFlags(c *cli.Context) (*slippageInput, error) {
	input := &slippageInput{
		Intent: common.TradeIntent{
			BaseAsset:  c.String("base"),
			QuoteAsset: c.String("quote"),
			SellBase:   c.Bool("sell-base"),
		},
	}

	if s := c.String("amount"); s != "" {
		amount, ok := common.ParseBigInt(s)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		input.Intent.AmountIn = amount
	}

	if c.IsSet("base-reserve") || c.IsSet("quote-reserve") {
		baseReserve, ok1 := common.ParseBigInt(c.String("base-reserve"))
		quoteReserve, ok2 := common.ParseBigInt(c.String("quote-reserve"))
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("--base-reserve and --quote-reserve must both be integers")
		}
		fee := uint32(c.Uint("fee-bps"))
		input.Pools = append(input.Pools, common.DexPoolSnapshot{
			BaseAsset:    input.Intent.BaseAsset,
			QuoteAsset:   input.Intent.QuoteAsset,
			BaseReserve:  baseReserve,
			QuoteReserve: quoteReserve,
			FeeBps:       &fee,
		})
	}

	prices, err := parsePrices(c.String("prices"))
	if err != nil {
		return nil, err
	}
	input.PriceSamples = prices
	return input, nil
}

func parsePrices(s string) ([]float64, error) {
	prices := []float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.ParseFloat(part, 64)
		if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("invalid price %q", part)
		}
		prices = append(prices, p)
	}
	return prices, nil
}
