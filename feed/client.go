// Package feed subscribes to a private bundle-sharing feed, normalizes every bundle and derives
// scored backrun opportunities from the bundles that carry profitability hints.
//
// A closed or failed connection schedules exactly one reconnect after ReconnectDelay; a newer
// schedule supersedes an older one. Stop cancels a pending reconnect and closes the connection,
// and no event is emitted after Stop returns.
package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/notify"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	OpportunityBufferSize = 50
)

// Conn is the part of a websocket connection the client reads from
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: DefaultDialTimeout}
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type EventKind int

const (
	EventBundle EventKind = iota
	EventOpportunity
	EventError
)

type Event struct {
	Kind        EventKind
	Bundle      *common.Bundle
	Opportunity *common.OpportunityRecord
	Err         error
}

type Client struct {
	wsURL          string
	restURL        string
	dialer         Dialer
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	dispatcher     *notify.Dispatcher
	reconnectDelay time.Duration
	now            func() time.Time

	mu             sync.Mutex
	running        bool
	generation     uint64 // bumped by Stop, stale goroutines compare against it
	filters        *Filters
	conn           Conn
	reconnectTimer *time.Timer
	opportunities  *common.Ring[*common.OpportunityRecord]
	events         *common.Broadcaster[Event]
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDispatcher forwards every opportunity to the notification fan-out
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(c *Client) { c.dispatcher = d }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// NewClient creates a feed client for the websocket endpoint wsURL. restURL is the base of the
// pull API used by FetchBundle and may be empty.
func NewClient(wsURL, restURL string, opts ...Option) *Client {
	c := &Client{
		wsURL:          wsURL,
		restURL:        restURL,
		dialer:         WebsocketDialer{},
		httpClient:     &http.Client{Timeout: DefaultDialTimeout},
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		reconnectDelay: DefaultReconnectDelay,
		now:            time.Now,
		opportunities:  common.NewRing[*common.OpportunityRecord](OpportunityBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = common.NewBroadcaster[Event](func() { c.metrics.RecordSubscriberDrop("feed") })
	return c
}

// Start opens the connection. If the first dial fails the error is returned and a reconnect is
// scheduled all the same. Calling Start on a running client is a no-op.
func (c *Client) Start(ctx context.Context, filters *Filters) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.generation++
	c.filters = filters
	gen := c.generation
	c.mu.Unlock()

	c.logger.Info("starting bundle feed", "url", c.wsURL)
	return c.connect(ctx, gen)
}

func (c *Client) connect(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	c.mu.Lock()
	url := c.wsURL + c.filters.ToUriQuery()
	c.mu.Unlock()

	conn, err := c.dialer.Dial(dialCtx, url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || gen != c.generation {
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		err = common.Unavailable(err, "bundle feed dial")
		c.logger.Warn("bundle feed connection failed", "error", err, "retryIn", c.reconnectDelay)
		c.events.Publish(Event{Kind: EventError, Err: err})
		c.scheduleReconnectLocked(gen)
		return err
	}

	c.conn = conn
	c.metrics.RecordFeedConnected(true)
	c.logger.Info("bundle feed connected")
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.handleMessage(data, gen)
	}
}

func (c *Client) handleClose(conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.metrics.RecordFeedConnected(false)
	}
	if c.running && gen == c.generation {
		err = common.Unavailable(err, "bundle feed connection closed")
		c.logger.Warn("bundle feed disconnected", "error", err, "retryIn", c.reconnectDelay)
		c.events.Publish(Event{Kind: EventError, Err: err})
		c.scheduleReconnectLocked(gen)
	}
	c.mu.Unlock()

	conn.Close()
}

// scheduleReconnectLocked replaces any pending reconnect with a new one. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked(gen uint64) {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if !c.running || gen != c.generation || c.reconnectTimer != timer {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.mu.Unlock()

		c.metrics.RecordFeedReconnect()
		c.logger.Info("reconnecting to bundle feed")
		_ = c.connect(context.Background(), gen)
	})
	c.reconnectTimer = timer
}

func (c *Client) handleMessage(data []byte, gen uint64) {
	now := c.now()
	bundle, err := ParseBundle(data, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || gen != c.generation {
		return
	}

	if err != nil {
		c.metrics.RecordFeedMessage("parse_error")
		c.logger.Debug("skipping malformed feed message", "error", err)
		c.events.Publish(Event{Kind: EventError, Err: err})
		return
	}
	c.metrics.RecordFeedMessage("ok")
	c.events.Publish(Event{Kind: EventBundle, Bundle: bundle})

	opp := DeriveOpportunity(bundle, now)
	if opp == nil {
		return
	}
	c.opportunities.Push(opp)
	c.metrics.RecordOpportunity()
	c.logger.Info("backrun opportunity", "bundle", opp.BundleHash, "target", opp.TargetTxHash, "confidence", opp.Confidence)
	c.events.Publish(Event{Kind: EventOpportunity, Opportunity: opp})
	c.dispatcher.Opportunity(opp)
}

// Stop cancels any pending reconnect and closes the connection. Idempotent, and safe without Start.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.generation++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.metrics.RecordFeedConnected(false)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("bundle feed stopped")
}

// Events subscribes to bundle, opportunity and error events. A full buffer drops new events.
func (c *Client) Events(buffer int) *common.Subscription[Event] {
	return c.events.Subscribe(buffer)
}

// GetRecentOpportunities returns up to limit opportunities, newest first (limit <= 0: all)
func (c *Client) GetRecentOpportunities(limit int) []*common.OpportunityRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opportunities.Latest(limit)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
