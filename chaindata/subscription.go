package chaindata

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/metachris/mevguard/common"
	"github.com/pkg/errors"
)

// hashBuffer is the number of announced hashes buffered while their transactions are being fetched
const hashBuffer = 1024

// SubscribePendingTransactions subscribes to newPendingTransactions and delivers each announced
// transaction to ch. Fails immediately on transports without subscription support (plain http).
// The subscription's Err channel reports provider errors; Unsubscribe stops delivery.
func (g *Gateway) SubscribePendingTransactions(ctx context.Context, ch chan<- *common.PendingTransaction) (ethereum.Subscription, error) {
	hashes := make(chan ethcommon.Hash, hashBuffer)

	subCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	sub, err := g.rpc.EthSubscribe(subCtx, hashes, "newPendingTransactions")
	if err != nil {
		return nil, common.Unavailable(err, "eth_subscribe newPendingTransactions")
	}
	g.logger.Info("subscribed to pending transactions")

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		for {
			select {
			case <-quit:
				return nil

			case err := <-sub.Err():
				if err == nil {
					err = errors.New("subscription closed by provider")
				}
				return common.Unavailable(err, "newPendingTransactions")

			case hash := <-hashes:
				tx, err := g.GetTransaction(context.Background(), hash)
				if err != nil {
					// dropped or already mined before we got to it
					g.logger.Debug("pending transaction lookup failed", "hash", hash.Hex(), "error", err)
					continue
				}

				select {
				case ch <- tx:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}
