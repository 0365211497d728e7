// Package ingest owns how pending transactions arrive: a push subscription when the provider
// supports one, fixed interval polling of the pending block otherwise. Every new transaction is
// classified against the sliding window of recently observed transactions, and attack records are
// kept in a bounded ring, emitted to subscribers and handed to the notification fan-out.
package ingest

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/detector"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/notify"
	"github.com/pkg/errors"
)

// PushSource delivers pending transactions as the provider announces them
type PushSource interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- *common.PendingTransaction) (ethereum.Subscription, error)
}

// PollSource returns the provider's current pending set
type PollSource interface {
	GetPendingTransactions(ctx context.Context, limit int) ([]*common.PendingTransaction, error)
}

// PendingCounter reports the size of the provider's pending pool, the congestion input of risk scoring
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

type Mode int

const (
	ModeInactive Mode = iota
	ModePush
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePoll:
		return "poll"
	case ModeInactive:
		return "inactive"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type Config struct {
	Network          string
	PollInterval     time.Duration
	CallTimeout      time.Duration
	PollLimit        int // max transactions per poll, 0 for the whole pending block
	WindowSize       int
	PushAttackBuffer int
	PollAttackBuffer int
	StatusEvery      int // emit a status event every n observed transactions
	PushBuffer       int
}

func DefaultConfig() Config {
	return Config{
		Network:          "mainnet",
		PollInterval:     2 * time.Second,
		CallTimeout:      10 * time.Second,
		PollLimit:        0,
		WindowSize:       1000,
		PushAttackBuffer: 500,
		PollAttackBuffer: 100,
		StatusEvery:      10,
		PushBuffer:       256,
	}
}

type EventKind int

const (
	EventAttack EventKind = iota
	EventStatus
	EventError
)

// Status summarizes the pipeline, emitted every Config.StatusEvery observed transactions
type Status struct {
	Mode            Mode                   `json:"mode"`
	PendingCount    int                    `json:"pendingCount"`
	AverageGasPrice *big.Int               `json:"-"`
	RecentAttacks   []*common.AttackRecord `json:"recentAttacks"`
	Observed        uint64                 `json:"observed"`
}

type Event struct {
	Kind   EventKind
	Attack *common.AttackRecord
	Status *Status
	Err    error
}

type Pipeline struct {
	cfg        Config
	push       PushSource
	poll       PollSource
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	counter    PendingCounter
	now        func() time.Time

	mu         sync.Mutex
	mode       Mode
	cancel     context.CancelFunc // nil while stopped
	done       chan struct{}
	generation uint64
	window     *common.Ring[*common.PendingTransaction]
	seen       map[ethcommon.Hash]struct{}
	attacks    *common.Ring[*common.AttackRecord]
	observed   uint64
	pending    int // last provider pending count, 0 if unknown
	blockSize  int // size of the last polled pending block
	events     *common.Broadcaster[Event]
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithDispatcher(d *notify.Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithPendingCounter sets where the mempool size comes from. By default a source implementing
// PendingCounter is used.
func WithPendingCounter(c PendingCounter) Option {
	return func(p *Pipeline) { p.counter = c }
}

// New creates a stopped pipeline. Either source may be nil, but not both.
func New(cfg Config, push PushSource, poll PollSource, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.PushAttackBuffer <= 0 {
		cfg.PushAttackBuffer = def.PushAttackBuffer
	}
	if cfg.PollAttackBuffer <= 0 {
		cfg.PollAttackBuffer = def.PollAttackBuffer
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = def.StatusEvery
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = def.PushBuffer
	}

	p := &Pipeline{
		cfg:     cfg,
		push:    push,
		poll:    poll,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		window:  common.NewRing[*common.PendingTransaction](cfg.WindowSize),
		seen:    make(map[ethcommon.Hash]struct{}, cfg.WindowSize),
		attacks: common.NewRing[*common.AttackRecord](cfg.PollAttackBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.counter == nil {
		if c, ok := poll.(PendingCounter); ok {
			p.counter = c
		} else if c, ok := push.(PendingCounter); ok {
			p.counter = c
		}
	}
	p.events = common.NewBroadcaster[Event](func() {
		p.metrics.RecordSubscriberDrop("ingest")
		p.logger.Debug("subscriber buffer full, event dropped")
	})
	return p
}

// Start subscribes to the push source and falls back to polling if that fails.
// Calling Start on a running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	if p.push == nil && p.poll == nil {
		p.mu.Unlock()
		return common.InvalidRequest("no ingestion source configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.generation++
	p.pending, p.blockSize = 0, 0
	gen, done := p.generation, p.done
	p.mu.Unlock()

	var pushErr error
	if p.push != nil {
		ch := make(chan *common.PendingTransaction, p.cfg.PushBuffer)
		subCtx, subCancel := context.WithTimeout(runCtx, p.cfg.CallTimeout)
		sub, err := p.push.SubscribePendingTransactions(subCtx, ch)
		subCancel()
		if err == nil {
			if !p.enterMode(gen, ModePush) {
				sub.Unsubscribe()
				close(done)
				return nil
			}
			p.logger.Info("ingestion started", "mode", ModePush)
			go p.runPush(runCtx, gen, sub, ch, done)
			return nil
		}
		pushErr = err
		p.logger.Warn("push subscription failed, falling back to polling", "error", err)
	}

	if p.poll == nil {
		p.mu.Lock()
		if p.generation == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
		close(done)
		return errors.Wrap(pushErr, "push subscription failed and no poll source configured")
	}

	if !p.enterMode(gen, ModePoll) {
		close(done)
		return nil
	}
	p.logger.Info("ingestion started", "mode", ModePoll, "interval", p.cfg.PollInterval)
	go p.runPoll(runCtx, gen, done)
	return nil
}

// enterMode switches the mode and resizes the attack ring, unless the pipeline was stopped meanwhile
func (p *Pipeline) enterMode(gen uint64, mode Mode) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil || p.generation != gen {
		return false
	}
	p.setModeLocked(mode)
	return true
}

func (p *Pipeline) setModeLocked(mode Mode) {
	p.mode = mode
	switch mode {
	case ModePush:
		p.attacks.Resize(p.cfg.PushAttackBuffer)
	case ModePoll:
		p.attacks.Resize(p.cfg.PollAttackBuffer)
	case ModeInactive:
	}
	p.metrics.RecordIngestMode(mode.String(), ModeInactive.String(), ModePush.String(), ModePoll.String())
}

func (p *Pipeline) runPush(ctx context.Context, gen uint64, sub ethereum.Subscription, ch <-chan *common.PendingTransaction, done chan struct{}) {
	defer close(done)
	defer p.trackPending(ctx, gen)()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			sub.Unsubscribe()
			if p.pushFailed(gen, err) {
				p.pollLoop(ctx, gen)
			}
			return

		case tx := <-ch:
			p.process(gen, tx, common.SourcePush)
		}
	}
}

// pushFailed surfaces the transport error as an event. It returns true if the caller should carry on
// polling. Without a poll source the pipeline goes inactive and can be started again.
func (p *Pipeline) pushFailed(gen uint64, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil || p.generation != gen {
		return false
	}

	err = common.Unavailable(err, "push subscription")
	p.events.Publish(Event{Kind: EventError, Err: err})

	if p.poll != nil {
		p.logger.Warn("push subscription failed, falling back to polling", "error", err, "interval", p.cfg.PollInterval)
		p.setModeLocked(ModePoll)
		return true
	}

	p.logger.Error("push subscription failed, ingestion inactive", "error", err)
	p.setModeLocked(ModeInactive)
	p.cancel()
	p.cancel = nil
	p.generation++
	return false
}

func (p *Pipeline) runPoll(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer p.trackPending(ctx, gen)()
	p.pollLoop(ctx, gen)
}

func (p *Pipeline) pollLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx, gen)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) pollOnce(ctx context.Context, gen uint64) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	txs, err := p.poll.GetPendingTransactions(callCtx, p.cfg.PollLimit)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("polling pending transactions failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	if p.cancel != nil && p.generation == gen {
		p.blockSize = len(txs)
	}
	p.mu.Unlock()

	for _, tx := range txs {
		if ctx.Err() != nil {
			return
		}
		p.process(gen, tx, common.SourcePoll)
	}
}

// trackPending refreshes the provider pending count every poll interval until ctx is done.
// The returned func waits for the refresh goroutine to exit.
func (p *Pipeline) trackPending(ctx context.Context, gen uint64) func() {
	if p.counter == nil {
		return func() {}
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			p.refreshPending(ctx, gen)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() { <-exited }
}

func (p *Pipeline) refreshPending(ctx context.Context, gen uint64) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	n, err := p.counter.PendingCount(callCtx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("pending count unavailable", "error", err)
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil && p.generation == gen {
		p.pending = n
	}
}

// process classifies one observed transaction and appends it to the window
func (p *Pipeline) process(gen uint64, tx *common.PendingTransaction, source common.Source) {
	if tx == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil || p.generation != gen {
		return
	}

	if _, found := p.seen[tx.Hash]; found {
		p.metrics.RecordTransactionSkipped("duplicate")
		return
	}

	detection := detector.Detect(tx, p.window.Items())

	if evicted, ok := p.window.Push(tx); ok {
		delete(p.seen, evicted.Hash)
	}
	p.seen[tx.Hash] = struct{}{}
	p.observed++
	p.metrics.RecordTransactionObserved(string(source))
	p.metrics.RecordWindowSize(p.window.Len())

	if detection.Type != common.AttackNone {
		record := p.newRecord(tx, detection, source)
		p.attacks.Push(record)
		p.metrics.RecordAttack(record.Type.String())
		p.logger.Info("attack detected",
			"type", record.Type,
			"tx", record.TxHash.Hex(),
			"risk", record.RiskScore,
			"source", source,
		)
		p.events.Publish(Event{Kind: EventAttack, Attack: record})
		p.dispatcher.Attack(record)
	}

	if p.observed%uint64(p.cfg.StatusEvery) == 0 {
		p.events.Publish(Event{Kind: EventStatus, Status: p.statusLocked()})
	}
}

func (p *Pipeline) newRecord(tx *common.PendingTransaction, d detector.Detection, source common.Source) *common.AttackRecord {
	assessment := detector.Assess(tx, d.Type, p.congestionLocked())
	return &common.AttackRecord{
		TxHash:       tx.Hash,
		Type:         d.Type,
		RiskScore:    assessment.Score,
		SlippageLoss: assessment.SlippageLoss,
		GasPrice:     new(big.Int).Set(tx.EffectiveGasPrice()),
		DetectedAt:   p.now(),
		Attacker:     d.Attacker,
		Victim:       d.Victim,
		Factors:      assessment.Factors,
		Transaction:  tx,
		Network:      p.cfg.Network,
		Source:       source,
		BlockNumber:  tx.BlockNumber,
	}
}

// congestionLocked is the provider's pending count when known, else the last pending block size,
// else the window size
func (p *Pipeline) congestionLocked() int {
	switch {
	case p.pending > 0:
		return p.pending
	case p.blockSize > 0:
		return p.blockSize
	}
	return p.window.Len()
}

func (p *Pipeline) statusLocked() *Status {
	sum := new(big.Int)
	items := p.window.Items()
	for _, tx := range items {
		sum.Add(sum, tx.EffectiveGasPrice())
	}
	avg := new(big.Int)
	if len(items) > 0 {
		avg.Div(sum, big.NewInt(int64(len(items))))
	}

	return &Status{
		Mode:            p.mode,
		PendingCount:    p.congestionLocked(),
		AverageGasPrice: avg,
		RecentAttacks:   p.attacks.Latest(5),
		Observed:        p.observed,
	}
}

// Stop tears down whichever mode is active and waits for the worker to exit.
// Idempotent, and safe to call without Start. No event is emitted after Stop returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.cancel = nil
	p.generation++
	done := p.done
	p.setModeLocked(ModeInactive)
	p.mu.Unlock()

	<-done
	p.logger.Info("ingestion stopped")
}
