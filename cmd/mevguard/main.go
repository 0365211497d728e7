// mevguard watches the mempool for MEV attack patterns and talks to a private relay and bundle feed.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "mevguard",
		Usage:   "MEV detection and protection",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Commands: []*cli.Command{
			watchCommand(),
			simulateCommand(),
			simulateBlockCommand(),
			optimizeCommand(),
			sendBundleCommand(),
			sendPrivateCommand(),
			cancelPrivateCommand(),
			bundleStatusCommand(),
			slippageCommand(),
			feedCommand(),
			fetchBundleCommand(),
		},
		Flags: globalFlags(),
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// globalFlags override the matching environment configuration when set
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc-http",
			Usage:   "Ethereum node HTTP RPC URL",
			EnvVars: []string{"RPC_HTTP_URL"},
		},
		&cli.StringFlag{
			Name:    "rpc-ws",
			Usage:   "Ethereum node websocket URL, enables push ingestion",
			EnvVars: []string{"RPC_WS_URL"},
		},
		&cli.StringFlag{
			Name:    "relay",
			Usage:   "private relay URL",
			EnvVars: []string{"RELAY_URL"},
		},
		&cli.StringFlag{
			Name:    "signing-key",
			Usage:   "hex private key used to sign relay requests",
			EnvVars: []string{"RELAY_SIGNING_KEY"},
		},
		&cli.StringFlag{
			Name:    "feed-ws",
			Usage:   "bundle feed websocket URL",
			EnvVars: []string{"FEED_WS_URL"},
		},
		&cli.StringFlag{
			Name:    "feed-rest",
			Usage:   "bundle feed REST URL",
			EnvVars: []string{"FEED_REST_URL"},
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "network name attached to attack records",
			EnvVars: []string{"NETWORK"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
