package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/metachris/go-ethutils/utils"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/relay"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var blockFlag = &cli.Uint64Flag{
	Name:  "block",
	Usage: "target block number (default: the pending block)",
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Simulate a bundle of raw signed transactions",
		ArgsUsage: "<rawTx> [rawTx...]",
		Flags: []cli.Flag{
			blockFlag,
			&cli.StringFlag{
				Name:  "state-block",
				Usage: "state block to simulate on top of",
				Value: "latest",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx := c.Context

			block, err := targetBlock(ctx, c, cfg, logger)
			if err != nil {
				return err
			}
			client, err := newRelayClient(cfg, logger, nil)
			if err != nil {
				return err
			}

			res := client.SimulateBundle(ctx, relay.SimulationRequest{
				Transactions:     collectArgs(c),
				BlockNumber:      block,
				StateBlockNumber: c.String("state-block"),
			})
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				printSimulation(res)
			}
			return res.Err
		},
	}
}

// simulateBlockCommand re-simulates the transactions of a mined block on top of its parent
func simulateBlockCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate-block",
		Usage:     "Simulate the transactions of a mined block through the relay",
		ArgsUsage: "<blockNumber>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-txs",
				Usage: "only simulate the first n transactions (0 for all)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print every transaction",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("block number is required")
			}
			number, ok := common.ParseBigInt(c.Args().Get(0))
			if !ok || number.Sign() <= 0 {
				return fmt.Errorf("invalid block number %q", c.Args().Get(0))
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx := c.Context

			gateway, err := dialGateway(ctx, cfg.RPCHTTPURL, logger, nil)
			if err != nil {
				return err
			}
			defer gateway.Close()

			block, err := gateway.GetBlock(ctx, number)
			if err != nil {
				return err
			}
			fmt.Printf("Simulating block %s %s \t %d tx \t timestamp: %d\n", block.Number(), block.Hash(), len(block.Transactions()), block.Time())

			txs := make([]string, 0, len(block.Transactions()))
			for _, tx := range block.Transactions() {
				if limit := c.Int("max-txs"); limit > 0 && len(txs) >= limit {
					break
				}
				raw, err := common.TxToRlp(tx)
				if err != nil {
					return err
				}
				txs = append(txs, raw)

				if c.Bool("verbose") {
					sender, _ := utils.GetTxSender(tx)
					fmt.Printf("- %s from %s gasPrice=%s\n", tx.Hash(), sender, common.BigIntToEString(tx.GasPrice(), 2))
				}
			}

			client, err := newRelayClient(cfg, logger, nil)
			if err != nil {
				return err
			}
			res := client.SimulateBundle(ctx, relay.SimulationRequest{
				Transactions:     txs,
				BlockNumber:      block.Number(),
				StateBlockNumber: hexutil.EncodeBig(new(big.Int).Sub(block.Number(), big.NewInt(1))),
				Timestamp:        block.Time(),
			})
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				printSimulation(res)
			}
			return res.Err
		},
	}
}

func optimizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "optimize",
		Usage:     "Simulate a bundle and suggest adjustments",
		ArgsUsage: "<rawTx> [rawTx...]",
		Flags: []cli.Flag{
			blockFlag,
			&cli.StringFlag{
				Name:  "priority-fee",
				Usage: "max priority fee per gas currently used by the bundle, in wei",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx := c.Context

			var priorityFee *big.Int
			if s := c.String("priority-fee"); s != "" {
				fee, ok := common.ParseBigInt(s)
				if !ok {
					return fmt.Errorf("invalid priority fee %q", s)
				}
				priorityFee = fee
			}

			block, err := targetBlock(ctx, c, cfg, logger)
			if err != nil {
				return err
			}
			client, err := newRelayClient(cfg, logger, nil)
			if err != nil {
				return err
			}

			res := client.OptimizeBundle(ctx, relay.OptimizationRequest{
				Simulation:  relay.SimulationRequest{Transactions: collectArgs(c), BlockNumber: block},
				PriorityFee: priorityFee,
			})
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err
			}

			printSimulation(res.Simulation)
			for _, a := range res.Adjustments {
				utils.ColorPrintf(utils.WarningColor, "adjust %s -> %s: %s\n", a.Field, a.Value, a.Reason)
			}
			for _, note := range res.Notes {
				fmt.Println("-", note)
			}
			return res.Err
		},
	}
}

func sendBundleCommand() *cli.Command {
	return &cli.Command{
		Name:      "send-bundle",
		Usage:     "Submit a bundle to the private relay",
		ArgsUsage: "<rawTx> [rawTx...]",
		Flags:     []cli.Flag{blockFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx := c.Context

			block, err := targetBlock(ctx, c, cfg, logger)
			if err != nil {
				return err
			}
			client, err := newRelayClient(cfg, logger, nil)
			if err != nil {
				return err
			}

			res := client.SubmitBundle(ctx, collectArgs(c), block)
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err
			}
			if res.Success {
				fmt.Printf("bundle %s submitted for block %s\n", res.BundleHash, block)
			}
			return res.Err
		},
	}
}

func sendPrivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "send-private",
		Usage:     "Send a raw transaction through the private relay",
		ArgsUsage: "<rawTx>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fast",
				Usage: "share with all builders",
			},
			&cli.StringSliceFlag{
				Name:  "hint",
				Usage: "privacy hint shared with searchers (calldata, contract_address, logs, function_selector, hash)",
			},
			&cli.Uint64Flag{
				Name:  "max-block",
				Usage: "last block the transaction may be included in",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("exactly one raw transaction is required")
			}
			rawTx := c.Args().Get(0)

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			tx, err := common.DecodeRawTx(rawTx)
			if err != nil {
				return err
			}
			sender, err := utils.GetTxSender(tx)
			if err != nil {
				return errors.Wrap(err, "failed to recover the transaction sender")
			}

			opts := relay.PrivateTxOptions{Fast: c.Bool("fast"), Hints: c.StringSlice("hint")}
			if n := c.Uint64("max-block"); n > 0 {
				opts.MaxBlockNumber = new(big.Int).SetUint64(n)
			}

			client, err := newRelayClient(cfg, logger, nil)
			if err != nil {
				return err
			}
			res := client.SubmitPrivateTransaction(c.Context, rawTx, opts)
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err
			}
			if res.Success {
				fmt.Printf("private tx %s from %s sent (%s)\n", tx.Hash(), sender, res.TxHash)
			}
			return res.Err
		},
	}
}

func cancelPrivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel-private",
		Usage:     "Cancel a private transaction",
		ArgsUsage: "<txHash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction hash is required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			client, err := newRelayClient(cfg, setupLogger(cfg), nil)
			if err != nil {
				return err
			}
			res := client.CancelPrivateTransaction(c.Context, c.Args().Get(0))
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err
			}
			if res.Success {
				fmt.Printf("private tx %s cancelled\n", res.TxHash)
			}
			return res.Err
		},
	}
}

func bundleStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "bundle-status",
		Usage:     "Show relay statistics for a submitted bundle",
		ArgsUsage: "<bundleHash>",
		Flags:     []cli.Flag{blockFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("bundle hash is required")
			}
			if c.Uint64("block") == 0 {
				return fmt.Errorf("--block is required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			client, err := newRelayClient(cfg, setupLogger(cfg), nil)
			if err != nil {
				return err
			}
			block := new(big.Int).SetUint64(c.Uint64("block"))
			res := client.GetBundleStatus(c.Context, c.Args().Get(0), block)
			if c.Bool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err
			}
			if res.Success {
				fmt.Printf("bundle %s: simulated=%v highPriority=%v sentToBuilders=%v received=%s\n",
					res.BundleHash, res.IsSimulated, res.IsHighPriority, res.SentToBuilders, res.ReceivedAt)
			}
			return res.Err
		},
	}
}

func printSimulation(res *relay.BundleSimulationResult) {
	if res == nil {
		return
	}
	if !res.Success {
		utils.ColorPrintf(utils.ErrorColor, "simulation failed: %s\n", res.Error)
		for _, d := range res.Details {
			fmt.Println("  ", d)
		}
		return
	}

	fmt.Printf("bundle %s on state block %d\n", res.BundleHash, res.StateBlockNumber)
	fmt.Printf("  gas used:            %s\n", res.GasUsed)
	fmt.Printf("  gas fees:            %s wei\n", ethString(res.GasFees))
	fmt.Printf("  coinbase diff:       %s wei\n", ethString(res.CoinbaseDiff))
	fmt.Printf("  eth sent to coinbase %s wei\n", ethString(res.EthSentToCoinbase))
	fmt.Printf("  effective gas price: %s wei\n", ethString(res.EffectiveGasPrice))
	for i, tx := range res.Transactions {
		line := fmt.Sprintf("  %2d %s gas=%s coinbaseDiff=%s", i, tx.TxHash, tx.GasUsed, ethString(tx.CoinbaseDiff))
		if tx.Error != "" {
			utils.ColorPrintf(utils.ErrorColor, "%s error=%s\n", line, tx.Error)
		} else {
			fmt.Println(line)
		}
	}
}

func ethString(s string) string {
	v, ok := common.ParseBigInt(strings.TrimSpace(s))
	if !ok {
		return "-"
	}
	return common.BigIntToEString(v, 4)
}
