package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itchyny/gojq"
	"github.com/metachris/go-ethutils/utils"
	"github.com/metachris/mevguard/feed"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func feedCommand() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Stream bundles and backrun opportunities from the private bundle feed",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "builder",
				Usage: "only bundles for these builders",
			},
			&cli.StringFlag{
				Name:  "min-profit-usd",
				Usage: "only bundles with at least this expected profit",
			},
			&cli.StringFlag{
				Name:  "target-tx",
				Usage: "only bundles targeting this transaction",
			},
			&cli.BoolFlag{
				Name:  "opportunities",
				Usage: "only print opportunities",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to every printed event (implies JSON output)",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "stop after this long (0 runs until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.FeedWSURL == "" {
				return fmt.Errorf("FEED_WS_URL or --feed-ws is required")
			}
			logger := setupLogger(cfg)

			filters := &feed.Filters{
				Builders: c.StringSlice("builder"),
				TargetTx: c.String("target-tx"),
			}
			if s := c.String("min-profit-usd"); s != "" {
				minProfit, err := decimal.NewFromString(s)
				if err != nil {
					return fmt.Errorf("invalid --min-profit-usd %q: %w", s, err)
				}
				filters.MinProfitUSD = &minProfit
			}

			var code *gojq.Code
			if filter := c.String("jq"); filter != "" {
				if code, err = compileJQ(filter); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if d := c.Duration("duration"); d > 0 {
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			client := feed.NewClient(cfg.FeedWSURL, cfg.FeedRESTURL,
				feed.WithLogger(logger),
				feed.WithReconnectDelay(cfg.FeedReconnectDelay),
			)
			events := client.Events(256)
			defer events.Close()

			if err := client.Start(ctx, filters); err != nil {
				logger.Warn("feed not connected yet, retrying in background", "error", err)
			}
			defer client.Stop()

			onlyOpportunities := c.Bool("opportunities")
			jsonOutput := c.Bool("json")

			for {
				select {
				case <-ctx.Done():
					return nil

				case ev, ok := <-events.C:
					if !ok {
						return nil
					}

					var out interface{}
					switch ev.Kind {
					case feed.EventBundle:
						if onlyOpportunities {
							continue
						}
						out = ev.Bundle
					case feed.EventOpportunity:
						out = ev.Opportunity
					case feed.EventError:
						utils.ColorPrintf(utils.WarningColor, "feed: %v\n", ev.Err)
						continue
					}

					switch {
					case code != nil:
						results, err := runJQ(code, out)
						if err != nil {
							logger.Debug("jq filter error", "error", err)
							continue
						}
						for _, r := range results {
							_ = printJSON(r)
						}
					case jsonOutput:
						_ = printJSON(out)
					default:
						printFeedEvent(ev)
					}
				}
			}
		},
	}
}

func fetchBundleCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch-bundle",
		Usage:     "Fetch a single bundle from the feed REST API",
		ArgsUsage: "<bundleId>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("bundle id is required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			client := feed.NewClient(cfg.FeedWSURL, cfg.FeedRESTURL, feed.WithLogger(setupLogger(cfg)))
			bundle, err := client.FetchBundle(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return printJSON(bundle)
		},
	}
}

func printFeedEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.EventBundle:
		b := ev.Bundle
		fmt.Printf("%s bundle %s builder=%s txs=%d\n", b.CreatedAt.Format("15:04:05"), b.Hash, b.Builder, len(b.Transactions))
	case feed.EventOpportunity:
		o := ev.Opportunity
		profit := "?"
		if o.ExpectedProfitUSD != nil {
			profit = o.ExpectedProfitUSD.StringFixed(2)
		}
		utils.ColorPrintf(utils.WarningColor, "%s opportunity %s target=%s profit=$%s confidence=%.2f\n",
			o.CreatedAt.Format("15:04:05"), o.BundleHash, o.TargetTxHash, profit, o.Confidence)
	case feed.EventError:
	}
}
