package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/metachris/mevguard/chaindata"
	"github.com/metachris/mevguard/config"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/relay"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// flagOverrides maps global flags onto the config fields they replace
var flagOverrides = map[string]func(cfg *config.Config, v string){
	"rpc-http":    func(cfg *config.Config, v string) { cfg.RPCHTTPURL = v },
	"rpc-ws":      func(cfg *config.Config, v string) { cfg.RPCWSURL = v },
	"relay":       func(cfg *config.Config, v string) { cfg.RelayURL = v },
	"signing-key": func(cfg *config.Config, v string) { cfg.RelaySigningKey = v },
	"feed-ws":     func(cfg *config.Config, v string) { cfg.FeedWSURL = v },
	"feed-rest":   func(cfg *config.Config, v string) { cfg.FeedRESTURL = v },
	"network":     func(cfg *config.Config, v string) { cfg.Network = v },
	"log-level":   func(cfg *config.Config, v string) { cfg.LogLevel = v },
}

// loadConfig reads the environment and applies non-empty global flags on top
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	changed := false
	for name, apply := range flagOverrides {
		if v := c.String(name); c.IsSet(name) && v != "" {
			apply(cfg, v)
			changed = true
		}
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func newRelayClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*relay.Client, error) {
	return relay.NewClient(cfg.RelayURL, cfg.RelaySigningKey,
		relay.WithLogger(logger),
		relay.WithMetrics(m),
		relay.WithTimeout(cfg.RelayTimeout),
	)
}

func dialGateway(ctx context.Context, url string, logger *slog.Logger, m *metrics.Metrics) (*chaindata.Gateway, error) {
	return chaindata.Dial(ctx, url, nil, chaindata.WithLogger(logger), chaindata.WithMetrics(m))
}

// targetBlock returns the --block flag, or the block after the current head
func targetBlock(ctx context.Context, c *cli.Context, cfg *config.Config, logger *slog.Logger) (*big.Int, error) {
	if n := c.Uint64("block"); n > 0 {
		return new(big.Int).SetUint64(n), nil
	}

	gateway, err := dialGateway(ctx, cfg.RPCHTTPURL, logger, nil)
	if err != nil {
		return nil, err
	}
	defer gateway.Close()

	head, err := gateway.GetBlock(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get the pending block, pass --block")
	}
	return head.Number(), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	fmt.Println(string(data))
	return nil
}

// collectArgs returns the positional args, splitting comma separated values
func collectArgs(c *cli.Context) []string {
	out := make([]string, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ runs code against v (round-tripped through JSON) and returns every non-null result
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	results := make([]interface{}, 0, 1)
	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return nil, err
		}
		if out != nil {
			results = append(results, out)
		}
	}
	return results, nil
}
