package ingest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	uniswapV2  = ethcommon.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	randomAddr = ethcommon.HexToAddress("0x00000000000000000000000000000000deadbeef")
	swapInput  = hexutil.MustDecode("0x38ed1739000000000000000000000000000000000000000000000000000000000000002a")
	plainInput = hexutil.MustDecode("0xa9059cbb0000000000000000000000000000000000000000000000000000000000000001")
	t0         = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

var (
	hashMu      sync.Mutex
	hashCounter int64
)

func newTx(to *ethcommon.Address, gasGwei int64, observed time.Time, input []byte) *common.PendingTransaction {
	hashMu.Lock()
	hashCounter++
	n := hashCounter
	hashMu.Unlock()

	return &common.PendingTransaction{
		Hash:       ethcommon.BigToHash(big.NewInt(n)),
		From:       ethcommon.BigToAddress(big.NewInt(1000 + n)),
		To:         to,
		Value:      big.NewInt(1_000_000_000_000_000_000),
		GasPrice:   new(big.Int).Mul(big.NewInt(gasGwei), big.NewInt(1_000_000_000)),
		Input:      input,
		ObservedAt: observed,
	}
}

type fakePush struct {
	err  error
	txs  chan *common.PendingTransaction
	fail chan error
}

func newFakePush() *fakePush {
	return &fakePush{txs: make(chan *common.PendingTransaction, 16), fail: make(chan error, 1)}
}

func (f *fakePush) SubscribePendingTransactions(ctx context.Context, ch chan<- *common.PendingTransaction) (ethereum.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case tx := <-f.txs:
				select {
				case ch <- tx:
				case <-quit:
					return nil
				}
			case err := <-f.fail:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

type fakePoll struct {
	mu      sync.Mutex
	batches [][]*common.PendingTransaction
	errs    []error
	calls   int
}

func (f *fakePoll) GetPendingTransactions(ctx context.Context, limit int) ([]*common.PendingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.batches) {
		return f.batches[idx], nil
	}
	return nil, nil
}

type fakeCounter struct {
	n int
}

func (f fakeCounter) PendingCount(ctx context.Context) (int, error) {
	return f.n, nil
}

func (f *fakePoll) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	return cfg
}

// startIdle starts p in poll mode against a source that never returns anything
func startIdle(t *testing.T, p *Pipeline) uint64 {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func nextEvent(t *testing.T, sub *common.Subscription[Event], kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event of kind %d received", kind)
			return Event{}
		}
	}
}

func TestStartFallsBackToPolling(t *testing.T) {
	push := newFakePush()
	push.err = errors.New("method not found")
	poll := &fakePoll{}

	p := New(testConfig(), push, poll)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Equal(t, ModePoll, p.Mode())
	assert.True(t, p.IsActive())
	assert.Eventually(t, func() bool { return poll.Calls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStartWithoutPushSourcePolls(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.Equal(t, ModePoll, p.Mode())
}

func TestStartWithoutSources(t *testing.T) {
	p := New(testConfig(), nil, nil)
	err := p.Start(context.Background())
	require.ErrorIs(t, err, common.ErrInvalidRequest)
	assert.False(t, p.IsActive())
}

func TestPushFailureWithoutPollSource(t *testing.T) {
	push := newFakePush()
	push.err = errors.New("dial failed")

	p := New(testConfig(), push, nil)
	require.Error(t, p.Start(context.Background()))
	assert.Equal(t, ModeInactive, p.Mode())
	p.Stop()
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	poll := &fakePoll{}
	p := New(testConfig(), nil, poll)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return poll.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, poll.Calls())
}

func TestPushModeDetectsAttacks(t *testing.T) {
	push := newFakePush()
	mock := notify.NewMockNotifier()
	cfg := testConfig()
	cfg.Network = "sepolia"

	p := New(cfg, push, &fakePoll{}, WithDispatcher(notify.NewDispatcher(mock, nil, nil)))
	sub := p.Subscribe(16)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	require.Equal(t, ModePush, p.Mode())

	p.mu.Lock()
	assert.Equal(t, 500, p.attacks.Cap())
	p.mu.Unlock()

	tx := newTx(&uniswapV2, 50, t0, swapInput)
	push.txs <- tx

	ev := nextEvent(t, sub, EventAttack)
	require.NotNil(t, ev.Attack)
	assert.Equal(t, tx.Hash, ev.Attack.TxHash)
	assert.Equal(t, common.AttackOther, ev.Attack.Type)
	assert.Equal(t, common.SourcePush, ev.Attack.Source)
	assert.Equal(t, "sepolia", ev.Attack.Network)
	assert.Greater(t, ev.Attack.RiskScore, 0)

	select {
	case <-mock.Calls():
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}
	require.Len(t, mock.Attacks(), 1)
	assert.Equal(t, tx.Hash, mock.Attacks()[0].TxHash)

	attacks := p.GetRecentAttacks(10)
	require.Len(t, attacks, 1)
	assert.Equal(t, tx.Hash, attacks[0].TxHash)
}

func TestPushErrorFallsBackToPolling(t *testing.T) {
	push := newFakePush()
	poll := &fakePoll{}
	p := New(testConfig(), push, poll)
	sub := p.Subscribe(4)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	require.Equal(t, ModePush, p.Mode())

	push.fail <- errors.New("connection reset")

	ev := nextEvent(t, sub, EventError)
	require.ErrorIs(t, ev.Err, common.ErrTransportUnavailable)
	assert.Equal(t, ModePoll, p.Mode())
	assert.True(t, p.IsActive())
	assert.Eventually(t, func() bool { return poll.Calls() == 1 }, time.Second, 5*time.Millisecond)

	p.mu.Lock()
	assert.Equal(t, 100, p.attacks.Cap())
	p.mu.Unlock()
}

func TestPushErrorWithoutPollSourceCanRestart(t *testing.T) {
	push := newFakePush()
	p := New(testConfig(), push, nil)
	sub := p.Subscribe(4)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	push.fail <- errors.New("connection reset")

	ev := nextEvent(t, sub, EventError)
	require.ErrorIs(t, ev.Err, common.ErrTransportUnavailable)
	assert.Equal(t, ModeInactive, p.Mode())
	assert.False(t, p.IsActive())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, ModePush, p.Mode())

	tx := newTx(&uniswapV2, 50, t0, swapInput)
	push.txs <- tx
	attack := nextEvent(t, sub, EventAttack)
	assert.Equal(t, tx.Hash, attack.Attack.TxHash)
}

func TestSandwichThroughWindow(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	gen := startIdle(t, p)

	before := newTx(&uniswapV2, 130, t0.Add(-time.Second), swapInput)
	after := newTx(&uniswapV2, 110, t0.Add(time.Second), swapInput)
	victim := newTx(&uniswapV2, 100, t0, swapInput)

	p.process(gen, before, common.SourcePoll)
	p.process(gen, after, common.SourcePoll)
	p.process(gen, victim, common.SourcePoll)

	latest := p.GetRecentAttacks(1)
	require.Len(t, latest, 1)
	assert.Equal(t, victim.Hash, latest[0].TxHash)
	assert.Equal(t, common.AttackSandwich, latest[0].Type)
	require.NotNil(t, latest[0].Attacker)
	assert.Equal(t, before.From, *latest[0].Attacker)
	assert.Equal(t, victim.From, *latest[0].Victim)
}

func TestWindowIsBoundedFIFO(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	gen := startIdle(t, p)

	txs := make([]*common.PendingTransaction, 1100)
	for i := range txs {
		txs[i] = newTx(&randomAddr, 10, t0.Add(time.Duration(i)*time.Millisecond), plainInput)
		p.process(gen, txs[i], common.SourcePoll)
	}

	window := p.Snapshot()
	require.Len(t, window, 1000)
	assert.Equal(t, txs[100].Hash, window[0].Hash)
	assert.Equal(t, txs[1099].Hash, window[999].Hash)
	assert.Empty(t, p.GetRecentAttacks(0))

	// still in the window: skipped
	p.process(gen, txs[1099], common.SourcePoll)
	window = p.Snapshot()
	assert.Equal(t, txs[100].Hash, window[0].Hash)

	// evicted earlier: observed again
	p.process(gen, txs[50], common.SourcePoll)
	window = p.Snapshot()
	require.Len(t, window, 1000)
	assert.Equal(t, txs[101].Hash, window[0].Hash)
	assert.Equal(t, txs[50].Hash, window[999].Hash)
}

func TestAttackRingCapacityInPollMode(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	gen := startIdle(t, p)

	var last *common.PendingTransaction
	for i := 0; i < 150; i++ {
		last = newTx(&uniswapV2, 10, t0, plainInput)
		p.process(gen, last, common.SourcePoll)
	}

	attacks := p.GetRecentAttacks(0)
	require.Len(t, attacks, 100)
	assert.Equal(t, last.Hash, attacks[0].TxHash)
	assert.Len(t, p.GetRecentAttacks(5), 5)

	stats := p.GetAttackStatistics()
	assert.Equal(t, 100, stats.Total)
	assert.Equal(t, 100, stats.ByType[common.AttackOther])
	assert.Equal(t, 0, stats.ByType[common.AttackSandwich])
	assert.Greater(t, stats.AverageRisk, 0.0)
	assert.Equal(t, 1, stats.TotalSlippageLoss.Sign())
}

func TestStatusEveryTenTransactions(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	sub := p.Subscribe(64)
	gen := startIdle(t, p)

	for i := 0; i < 20; i++ {
		gas := int64(10)
		if i%2 == 1 {
			gas = 30
		}
		p.process(gen, newTx(&randomAddr, gas, t0, plainInput), common.SourcePoll)
	}

	first := nextEvent(t, sub, EventStatus)
	assert.Equal(t, 10, first.Status.PendingCount)
	second := nextEvent(t, sub, EventStatus)
	assert.Equal(t, 20, second.Status.PendingCount)
	assert.Equal(t, ModePoll, second.Status.Mode)
	assert.Equal(t, "20000000000", second.Status.AverageGasPrice.String())
	assert.Empty(t, second.Status.RecentAttacks)
}

func TestPollErrorIsSkipped(t *testing.T) {
	txs := []*common.PendingTransaction{
		newTx(&randomAddr, 10, t0, plainInput),
		newTx(&randomAddr, 10, t0, plainInput),
	}
	poll := &fakePoll{
		errs:    []error{errors.New("timeout"), nil},
		batches: [][]*common.PendingTransaction{nil, txs},
	}
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond

	p := New(cfg, nil, poll)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return len(p.Snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ModePoll, p.Mode())
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(testConfig(), newFakePush(), &fakePoll{})
	p.Stop()
	assert.Equal(t, ModeInactive, p.Mode())

	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()
	assert.Equal(t, ModeInactive, p.Mode())

	// can be restarted
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, ModePush, p.Mode())
	p.Stop()
}

func TestNoEventsAfterStop(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{})
	sub := p.Subscribe(16)
	gen := startIdle(t, p)
	p.Stop()

	for i := 0; i < 20; i++ {
		p.process(gen, newTx(&uniswapV2, 10, t0, swapInput), common.SourcePoll)
	}

	assert.Empty(t, p.Snapshot())
	assert.Empty(t, p.GetRecentAttacks(0))
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event after stop: %+v", ev)
	default:
	}
}

func TestRiskUsesProviderPendingCount(t *testing.T) {
	p := New(testConfig(), nil, &fakePoll{}, WithPendingCounter(fakeCounter{n: 20000}))
	gen := startIdle(t, p)
	assert.Eventually(t, func() bool { return p.Status().PendingCount == 20000 }, time.Second, 5*time.Millisecond)

	// 10 gwei and 1 ETH to a known router: 5 base + 2 gas + 10 value + 15 congestion
	tx := newTx(&uniswapV2, 10, t0, plainInput)
	p.process(gen, tx, common.SourcePoll)

	attacks := p.GetRecentAttacks(1)
	require.Len(t, attacks, 1)
	assert.Equal(t, 32, attacks[0].RiskScore)
	assert.Contains(t, attacks[0].Factors, "mempool congestion (20000 pending)")
	// 10 bps for the type plus 20 bps congestion
	assert.Equal(t, "3000000000000000", attacks[0].SlippageLoss.String())
}

func TestPollModeUsesPendingBlockSize(t *testing.T) {
	batch := make([]*common.PendingTransaction, 250)
	batch[0] = newTx(&uniswapV2, 10, t0, plainInput)
	for i := 1; i < len(batch); i++ {
		batch[i] = newTx(&randomAddr, 10, t0, plainInput)
	}
	p := New(testConfig(), nil, &fakePoll{batches: [][]*common.PendingTransaction{batch}})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return len(p.Snapshot()) == 250 }, 2*time.Second, 5*time.Millisecond)
	attacks := p.GetRecentAttacks(0)
	require.Len(t, attacks, 1)
	assert.Contains(t, attacks[0].Factors, "mempool congestion (250 pending)")
}

func TestGatewayLikeSourceIsUsedAsCounter(t *testing.T) {
	src := &countingPoll{fakeCounter: fakeCounter{n: 700}}
	p := New(testConfig(), nil, src)
	assert.Equal(t, src, p.counter)
}

type countingPoll struct {
	fakePoll
	fakeCounter
}

func TestNotifierFailuresDoNotAffectIngestion(t *testing.T) {
	for _, failure := range []string{"error", "panic"} {
		t.Run(failure, func(t *testing.T) {
			mock := notify.NewMockNotifier()
			if failure == "panic" {
				mock.SetPanic("webhook exploded")
			} else {
				mock.SetError(errors.New("webhook down"))
			}

			p := New(testConfig(), nil, &fakePoll{}, WithDispatcher(notify.NewDispatcher(mock, nil, nil)))
			gen := startIdle(t, p)

			for i := 0; i < 3; i++ {
				p.process(gen, newTx(&uniswapV2, 10, t0, swapInput), common.SourcePoll)
				select {
				case <-mock.Calls():
				case <-time.After(2 * time.Second):
					t.Fatal("notifier not called")
				}
			}

			assert.Len(t, p.GetRecentAttacks(0), 3)
			assert.Equal(t, ModePoll, p.Mode())
			assert.Len(t, p.Snapshot(), 3)
		})
	}
}

type failingCounter struct{}

func (failingCounter) PendingCount(ctx context.Context) (int, error) {
	return 0, errors.New("the method txpool_status does not exist")
}

func TestUnsupportedCounterFallsBackToBlockSize(t *testing.T) {
	batch := make([]*common.PendingTransaction, 300)
	batch[0] = newTx(&uniswapV2, 10, t0, plainInput)
	for i := 1; i < len(batch); i++ {
		batch[i] = newTx(&randomAddr, 10, t0, plainInput)
	}
	p := New(testConfig(), nil, &fakePoll{batches: [][]*common.PendingTransaction{batch}}, WithPendingCounter(failingCounter{}))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return len(p.Snapshot()) == 300 }, 2*time.Second, 5*time.Millisecond)
	attacks := p.GetRecentAttacks(0)
	require.Len(t, attacks, 1)
	assert.Contains(t, attacks[0].Factors, "mempool congestion (300 pending)")
	assert.Equal(t, 300, p.Status().PendingCount)
}
