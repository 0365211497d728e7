package feed

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/metachris/mevguard/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	messages  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{messages: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.messages:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func nextEvent(t *testing.T, sub *common.Subscription[Event]) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestStartAppliesFilters(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test/stream", "", WithDialer(dialer))
	require.NoError(t, c.Start(context.Background(), &Filters{Builders: []string{"b1"}, TargetTx: "0x01"}))
	defer c.Stop()

	assert.Equal(t, []string{"wss://feed.test/stream?builders=b1&target_tx=0x01"}, dialer.urls)
	assert.True(t, c.IsConnected())

	// starting twice does not dial again
	require.NoError(t, c.Start(context.Background(), nil))
	assert.Equal(t, 1, dialer.dials())
}

func TestMessagesBecomeBundlesAndOpportunities(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test", "", WithDialer(dialer))
	sub := c.Events(16)
	require.NoError(t, c.Start(context.Background(), nil))
	defer c.Stop()

	conn := dialer.conn(0)
	conn.messages <- []byte(`{"id":"b-1","bundleHash":"0xb1","transactions":["0x01"],"hints":{"expected_profit_usd":100}}`)

	ev := nextEvent(t, sub)
	require.Equal(t, EventBundle, ev.Kind)
	assert.Equal(t, "0xb1", ev.Bundle.Hash)

	ev = nextEvent(t, sub)
	require.Equal(t, EventOpportunity, ev.Kind)
	assert.Equal(t, 0.6, ev.Opportunity.Confidence)

	// malformed message: error event, subscription keeps going
	conn.messages <- []byte(`{"id":`)
	ev = nextEvent(t, sub)
	require.Equal(t, EventError, ev.Kind)
	assert.True(t, errors.Is(ev.Err, common.ErrParse))

	// no hints: bundle only
	conn.messages <- []byte(`{"id":"b-2","bundleHash":"0xb2","transactions":[]}`)
	ev = nextEvent(t, sub)
	require.Equal(t, EventBundle, ev.Kind)
	assert.Equal(t, "0xb2", ev.Bundle.Hash)

	conn.messages <- []byte(`{"id":"b-3","hints":{"target_tx_hash":"0xt3"}}`)
	nextEvent(t, sub)
	ev = nextEvent(t, sub)
	require.Equal(t, EventOpportunity, ev.Kind)
	assert.Equal(t, 0.3, ev.Opportunity.Confidence)

	recent := c.GetRecentOpportunities(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "b-3", recent[0].BundleHash)
	assert.Equal(t, "0xb1", recent[1].BundleHash)
}

func TestExactlyOneReconnectAfterClose(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test", "", WithDialer(dialer), WithReconnectDelay(50*time.Millisecond))
	require.NoError(t, c.Start(context.Background(), nil))
	defer c.Stop()

	dialer.conn(0).Close()

	require.Eventually(t, func() bool { return dialer.dials() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, dialer.dials())
	assert.True(t, c.IsConnected())
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test", "", WithDialer(dialer), WithReconnectDelay(100*time.Millisecond))
	sub := c.Events(4)
	require.NoError(t, c.Start(context.Background(), nil))

	dialer.conn(0).Close()
	ev := nextEvent(t, sub) // the close is observed and the reconnect scheduled
	require.Equal(t, EventError, ev.Kind)

	c.Stop()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
	assert.False(t, c.IsConnected())
	assert.False(t, c.IsRunning())
}

func TestFailedDialSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	c := NewClient("wss://feed.test", "", WithDialer(dialer), WithReconnectDelay(30*time.Millisecond))
	err := c.Start(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTransportUnavailable))

	require.Eventually(t, func() bool { return dialer.dials() >= 2 }, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	n := dialer.dials()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, dialer.dials())
}

func TestNoEventsAfterStop(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test", "", WithDialer(dialer))
	sub := c.Events(16)
	require.NoError(t, c.Start(context.Background(), nil))
	conn := dialer.conn(0)

	c.Stop()
	conn.messages <- []byte(`{"id":"late","hints":{"expected_profit_usd":5}}`)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, sub.C, 0)
	assert.Empty(t, c.GetRecentOpportunities(0))
}

func TestStopWithoutStart(t *testing.T) {
	c := NewClient("wss://feed.test", "", WithDialer(&fakeDialer{}))
	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}

func TestOpportunityRingIsBounded(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient("wss://feed.test", "", WithDialer(dialer))
	require.NoError(t, c.Start(context.Background(), nil))
	defer c.Stop()

	for i := 0; i < OpportunityBufferSize+10; i++ {
		c.handleMessage([]byte(`{"id":"x","hints":{"target_tx_hash":"0x01"}}`), 1)
	}
	assert.Len(t, c.GetRecentOpportunities(0), OpportunityBufferSize)
}

func TestFetchBundle(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://api.feed.test/bundles/b-1",
		httpmock.NewStringResponder(200, `{"id":"b-1","bundleHash":"0xb1","transactions":[{"hash":"0x01"}],"builder":"titan","target":19000000}`))
	transport.RegisterResponder("GET", "https://api.feed.test/bundles/b-2",
		httpmock.NewStringResponder(200, `{"bundle":{"id":"b-2","transactions":["0x02"]}}`))
	transport.RegisterResponder("GET", "https://api.feed.test/bundles/missing", httpmock.NewStringResponder(404, ""))

	c := NewClient("wss://feed.test", "https://api.feed.test/", WithHTTPClient(&http.Client{Transport: transport}))

	b, err := c.FetchBundle(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01"}, b.Transactions)
	assert.Equal(t, "titan", b.Builder)
	assert.Equal(t, "19000000", b.Target)

	b, err = c.FetchBundle(context.Background(), "b-2")
	require.NoError(t, err)
	assert.Equal(t, "b-2", b.Hash)

	_, err = c.FetchBundle(context.Background(), "missing")
	assert.True(t, errors.Is(err, common.ErrProtocol))

	_, err = c.FetchBundle(context.Background(), "")
	assert.True(t, errors.Is(err, common.ErrInvalidRequest))
	assert.Equal(t, 3, transport.GetTotalCallCount())
}
