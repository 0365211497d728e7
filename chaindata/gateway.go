// Package chaindata is the thin read client over the chain data provider: pending transactions by
// polling the pending block, gas price, single transactions and blocks, plus the push feed of
// pending transactions for providers that support subscriptions.
package chaindata

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/metrics"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds every provider call
const DefaultTimeout = 10 * time.Second

var ErrNotFound = errors.New("not found")

type Gateway struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway wraps an already connected rpc client
func NewGateway(client *rpc.Client, opts ...Option) *Gateway {
	g := &Gateway{
		rpc:     client,
		eth:     ethclient.NewClient(client),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dial connects to an http(s) or ws(s) provider URL. httpClient is only used for http(s) URLs and may be nil.
func Dial(ctx context.Context, url string, httpClient *http.Client, opts ...Option) (*Gateway, error) {
	var client *rpc.Client
	var err error
	if strings.HasPrefix(url, "http") {
		if httpClient == nil {
			httpClient = &http.Client{Timeout: DefaultTimeout}
		}
		client, err = rpc.DialHTTPWithClient(url, httpClient)
	} else {
		client, err = rpc.DialContext(ctx, url)
	}
	if err != nil {
		return nil, common.Unavailable(err, "dial "+url)
	}
	return NewGateway(client, opts...), nil
}

func (g *Gateway) Close() {
	g.rpc.Close()
}

func (g *Gateway) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	g.metrics.RecordGatewayCall(method, err, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return common.Unavailable(err, method)
	}
	return err
}

type pendingBlock struct {
	Transactions []*common.RPCTransaction `json:"transactions"`
}

// GetPendingTransactions returns up to limit transactions of the provider's pending block (limit <= 0: all)
func (g *Gateway) GetPendingTransactions(ctx context.Context, limit int) ([]*common.PendingTransaction, error) {
	var block *pendingBlock
	err := g.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		return g.rpc.CallContext(ctx, &block, "eth_getBlockByNumber", "pending", true)
	})
	if err != nil {
		return nil, err
	}
	if block == nil {
		return []*common.PendingTransaction{}, nil
	}

	n := len(block.Transactions)
	if limit > 0 && limit < n {
		n = limit
	}

	now := g.now()
	txs := make([]*common.PendingTransaction, 0, n)
	for _, rpcTx := range block.Transactions[:n] {
		if rpcTx == nil {
			continue
		}
		tx := rpcTx.ToPendingTransaction(now)
		tx.BlockNumber = 0
		txs = append(txs, tx)
	}
	return txs, nil
}

type txpoolStatus struct {
	Pending hexutil.Uint64 `json:"pending"`
	Queued  hexutil.Uint64 `json:"queued"`
}

// PendingCount is the number of executable transactions in the provider's pool (txpool_status)
func (g *Gateway) PendingCount(ctx context.Context) (int, error) {
	var status txpoolStatus
	err := g.call(ctx, "txpool_status", func(ctx context.Context) error {
		return g.rpc.CallContext(ctx, &status, "txpool_status")
	})
	if err != nil {
		return 0, err
	}
	return int(status.Pending), nil
}

func (g *Gateway) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := g.call(ctx, "eth_gasPrice", func(ctx context.Context) (err error) {
		price, err = g.eth.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// GetTransaction looks up a transaction by hash. Returns ErrNotFound if the provider does not know it.
func (g *Gateway) GetTransaction(ctx context.Context, hash ethcommon.Hash) (*common.PendingTransaction, error) {
	var rpcTx *common.RPCTransaction
	err := g.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		if err := g.rpc.CallContext(ctx, &rpcTx, "eth_getTransactionByHash", hash); err != nil {
			return err
		}
		if rpcTx == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rpcTx.ToPendingTransaction(g.now()), nil
}

// GetBlock returns the block with the given number, or the pending block if number is nil
func (g *Gateway) GetBlock(ctx context.Context, number *big.Int) (*types.Block, error) {
	if number == nil {
		number = big.NewInt(int64(rpc.PendingBlockNumber))
	}

	var block *types.Block
	err := g.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (err error) {
		block, err = g.eth.BlockByNumber(ctx, number)
		return err
	})
	return block, err
}

// ChainID is needed to recover transaction senders of mined blocks
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := g.call(ctx, "eth_chainId", func(ctx context.Context) (err error) {
		id, err = g.eth.ChainID(ctx)
		return err
	})
	return id, err
}
