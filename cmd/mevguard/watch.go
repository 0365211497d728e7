package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metachris/go-ethutils/utils"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/config"
	"github.com/metachris/mevguard/feed"
	"github.com/metachris/mevguard/ingest"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/notify"
	"github.com/metachris/mevguard/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch pending transactions for attack patterns",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "address of the HTTP query server, empty to disable",
				EnvVars: []string{"SERVER_ADDR"},
				Value:   ":8080",
			},
			&cli.IntFlag{
				Name:  "min-risk",
				Usage: "only print attacks with at least this risk score",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "silent",
				Usage: "don't print status lines",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			m := metrics.NewMetrics(prometheus.DefaultRegisterer)

			notifier, closeNotifier := buildNotifier(cfg, logger)
			defer closeNotifier()
			dispatcher := notify.NewDispatcher(notifier, logger, m)

			gateway, err := dialGateway(ctx, cfg.RPCHTTPURL, logger, m)
			if err != nil {
				return err
			}
			defer gateway.Close()

			// A nil *Gateway must not end up in the interface
			var push ingest.PushSource
			if cfg.RPCWSURL != "" {
				wsGateway, err := dialGateway(ctx, cfg.RPCWSURL, logger, m)
				if err != nil {
					logger.Warn("websocket provider unavailable, polling only", "error", err)
				} else {
					defer wsGateway.Close()
					push = wsGateway
				}
			}

			ingestCfg := ingest.DefaultConfig()
			ingestCfg.Network = cfg.Network
			ingestCfg.PollInterval = cfg.PollInterval
			ingestCfg.WindowSize = cfg.WindowSize

			pipeline := ingest.New(ingestCfg, push, gateway,
				ingest.WithLogger(logger),
				ingest.WithMetrics(m),
				ingest.WithDispatcher(dispatcher),
			)
			events := pipeline.Subscribe(256)
			defer events.Close()

			if err := pipeline.Start(ctx); err != nil {
				return err
			}
			defer pipeline.Stop()

			srvOpts := []server.Option{
				server.WithLogger(logger),
				server.WithAttacks(pipeline),
				server.WithMetrics(m, prometheus.DefaultGatherer),
			}

			if cfg.FeedWSURL != "" {
				feedClient := feed.NewClient(cfg.FeedWSURL, cfg.FeedRESTURL,
					feed.WithLogger(logger),
					feed.WithMetrics(m),
					feed.WithDispatcher(dispatcher),
					feed.WithReconnectDelay(cfg.FeedReconnectDelay),
				)
				if err := feedClient.Start(ctx, nil); err != nil {
					logger.Warn("bundle feed not connected yet, retrying in background", "error", err)
				}
				defer feedClient.Stop()
				srvOpts = append(srvOpts, server.WithOpportunities(feedClient))
			}

			if cfg.RelayURL != "" {
				relayClient, err := newRelayClient(cfg, logger, m)
				if err != nil {
					return err
				}
				srvOpts = append(srvOpts, server.WithBundles(relayClient))
			}

			serverErrors := make(chan error, 1)
			if addr := c.String("listen"); addr != "" {
				srv := server.New(addr, srvOpts...)
				go func() {
					serverErrors <- srv.Start()
				}()
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer shutdownCancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Error("failed to shutdown server gracefully", "error", err)
					}
				}()
			}

			logger.Info("watching pending transactions", "mode", pipeline.Mode(), "network", cfg.Network)
			minRisk := c.Int("min-risk")
			silent := c.Bool("silent")
			jsonOutput := c.Bool("json")

			for {
				select {
				case <-ctx.Done():
					logger.Info("shutdown signal received")
					return nil

				case err := <-serverErrors:
					if err != nil {
						return err
					}

				case ev, ok := <-events.C:
					if !ok {
						return nil
					}
					switch ev.Kind {
					case ingest.EventAttack:
						if ev.Attack.RiskScore < minRisk {
							continue
						}
						if jsonOutput {
							_ = printJSON(ev.Attack)
						} else {
							printAttack(ev.Attack)
						}
					case ingest.EventStatus:
						if !silent && !jsonOutput {
							printStatus(ev.Status)
						}
					case ingest.EventError:
						utils.ColorPrintf(utils.ErrorColor, "ingestion error: %v\n", ev.Err)
						if !pipeline.IsActive() {
							if err := pipeline.Start(ctx); err != nil {
								logger.Error("restarting ingestion failed", "error", err)
							}
						}
					}
				}
			}
		},
	}
}

// buildNotifier wires the configured notification sinks. NATS connection failures are logged, not fatal.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func()) {
	var sinks notify.Multi
	closers := []func(){}

	if cfg.NATSURL != "" {
		js, err := notify.NewJetStreamNotifier(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("NATS notifications disabled", "error", err)
		} else {
			sinks = append(sinks, js)
			closers = append(closers, func() { _ = js.Close() })
		}
	}

	if cfg.DiscordWebhook != "" {
		discord := notify.NewDiscordNotifier(cfg.DiscordWebhook, nil, logger)
		discord.MinRiskScore = cfg.MinNotifyRisk
		sinks = append(sinks, discord)
	}

	closeAll := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
	if len(sinks) == 0 {
		return nil, closeAll
	}
	return sinks, closeAll
}

func printAttack(r *common.AttackRecord) {
	attacker := "unknown"
	if r.Attacker != nil {
		attacker = r.Attacker.Hex()
	}

	msg := fmt.Sprintf("%s %-8s risk=%3d tx=%s attacker=%s loss=%s ETH gas=%s\n",
		r.DetectedAt.Format("15:04:05"), r.Type, r.RiskScore, r.TxHash.Hex(), attacker,
		common.WeiToEth(r.SlippageLoss).StringFixed(4), common.BigIntToEString(r.GasPrice, 1))

	if r.Type == common.AttackSandwich || r.RiskScore >= 70 {
		utils.ColorPrintf(utils.ErrorColor, msg)
	} else {
		utils.ColorPrintf(utils.WarningColor, msg)
	}
}

func printStatus(s *ingest.Status) {
	fmt.Printf("[%s] observed=%s window=%d avg gas=%s attacks=%d\n",
		s.Mode, utils.NumberToHumanReadableString(int64(s.Observed), 0), s.PendingCount,
		common.BigIntToEString(s.AverageGasPrice, 1), len(s.RecentAttacks))
}
