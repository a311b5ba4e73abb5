package connection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
)

type fakeConn struct {
	msgs      chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), errs: make(chan error, 1), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeTransport hands out queued dial results in order
type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
	urls  []string
}

func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.dials
	t.dials++
	t.urls = append(t.urls, url)
	if i < len(t.errs) && t.errs[i] != nil {
		return nil, t.errs[i]
	}
	if i < len(t.conns) {
		return t.conns[i], nil
	}
	return nil, errors.New("no more connections")
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) sink(data []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(data))
	c.mu.Unlock()
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectDeliversMessagesInOrder(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{conn}}
	var c collector
	m := NewManager(transport, c.sink, logging.Discard, Config{URL: "ws://feed"})

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	assert.Equal(t, m.Connect(""), nil)
	eventually(t, func() bool { return m.State() == StateConnected })

	conn.msgs <- []byte("one")
	conn.msgs <- []byte("two")
	conn.msgs <- []byte("three")
	eventually(t, func() bool { return len(c.got()) == 3 })
	assert.Equal(t, c.got(), []string{"one", "two", "three"})

	mu.Lock()
	assert.Equal(t, states, []State{StateConnecting, StateConnected})
	mu.Unlock()
	assert.Equal(t, m.Info().LastMessageAt != nil, true)
}

func TestDisconnectIsIdempotentAndStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	var c collector
	m := NewManager(&fakeTransport{conns: []*fakeConn{conn}}, c.sink, logging.Discard, Config{URL: "ws://feed"})

	var mu sync.Mutex
	disconnects := 0
	m.OnStateChange(func(s State, _ error) {
		if s == StateDisconnected {
			mu.Lock()
			disconnects++
			mu.Unlock()
		}
	})

	m.Connect("")
	eventually(t, func() bool { return m.State() == StateConnected })

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, m.State(), StateDisconnected)
	assert.Equal(t, conn.isClosed(), true)
	assert.Equal(t, m.LastError(), nil)

	conn.msgs <- []byte("late")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, len(c.got()), 0)

	mu.Lock()
	assert.Equal(t, disconnects, 1)
	mu.Unlock()
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	m := NewManager(&fakeTransport{}, func([]byte) {}, logging.Discard, Config{})
	called := false
	m.OnStateChange(func(State, error) { called = true })
	m.Disconnect()
	assert.Equal(t, m.State(), StateDisconnected)
	assert.Equal(t, called, false)
}

func TestDialFailureRecordsChannelError(t *testing.T) {
	transport := &fakeTransport{errs: []error{errors.New("connection refused")}}
	m := NewManager(transport, func([]byte) {}, logging.Discard, Config{URL: "ws://feed"})

	m.Connect("")
	eventually(t, func() bool { return m.LastError() != nil })

	assert.Equal(t, m.State(), StateDisconnected)
	var cerr *ChannelError
	assert.Equal(t, errors.As(m.LastError(), &cerr), true)
	assert.Equal(t, cerr.Op, "dial")
	assert.Equal(t, transport.dialCount(), 1)
}

func TestReadErrorDisconnects(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(&fakeTransport{conns: []*fakeConn{conn}}, func([]byte) {}, logging.Discard, Config{URL: "ws://feed"})
	m.Connect("")
	eventually(t, func() bool { return m.State() == StateConnected })

	conn.errs <- errors.New("i/o timeout")
	eventually(t, func() bool { return m.State() == StateDisconnected })

	var cerr *ChannelError
	assert.Equal(t, errors.As(m.LastError(), &cerr), true)
	assert.Equal(t, cerr.Op, "read")
	assert.Equal(t, conn.isClosed(), true)
}

func TestCleanCloseHasNoError(t *testing.T) {
	conn := newFakeConn()
	m := NewManager(&fakeTransport{conns: []*fakeConn{conn}}, func([]byte) {}, logging.Discard, Config{URL: "ws://feed"})
	m.Connect("")
	eventually(t, func() bool { return m.State() == StateConnected })

	conn.errs <- io.EOF
	eventually(t, func() bool { return m.State() == StateDisconnected })
	assert.Equal(t, m.LastError(), nil)
}

func TestConnectReplacesExistingConnection(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{first, second}}
	var c collector
	m := NewManager(transport, c.sink, logging.Discard, Config{URL: "ws://feed"})

	m.Connect("")
	eventually(t, func() bool { return m.State() == StateConnected })
	m.Connect("ws://other")
	eventually(t, func() bool { return transport.dialCount() == 2 && m.State() == StateConnected })

	assert.Equal(t, first.isClosed(), true)
	assert.Equal(t, m.Info().URL, "ws://other")

	second.msgs <- []byte("fresh")
	eventually(t, func() bool { return len(c.got()) == 1 })
	assert.Equal(t, c.got(), []string{"fresh"})
}

func TestReconnectWithBackoff(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{
		errs:  []error{errors.New("refused"), errors.New("refused"), nil},
		conns: []*fakeConn{nil, nil, conn},
	}
	m := NewManager(transport, func([]byte) {}, logging.Discard, Config{
		URL:           "ws://feed",
		ReconnectBase: time.Millisecond,
		ReconnectMax:  4 * time.Millisecond,
	})

	m.Connect("")
	eventually(t, func() bool { return m.State() == StateConnected })
	assert.Equal(t, transport.dialCount(), 3)
	assert.Equal(t, m.Info().Attempts, 0)
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	transport := &fakeTransport{errs: []error{errors.New("refused")}}
	m := NewManager(transport, func([]byte) {}, logging.Discard, Config{
		URL:           "ws://feed",
		ReconnectBase: 20 * time.Millisecond,
	})

	m.Connect("")
	eventually(t, func() bool { return m.LastError() != nil })
	m.Disconnect()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, transport.dialCount(), 1)
	assert.Equal(t, m.State(), StateDisconnected)
}

func TestConnectWithoutURL(t *testing.T) {
	m := NewManager(&fakeTransport{}, func([]byte) {}, logging.Discard, Config{})
	assert.Equal(t, errors.Is(m.Connect(""), ErrNoURL), true)
	assert.Equal(t, m.State(), StateDisconnected)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, true},
		{StateDisconnected, StateDisconnected, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, Backoff(0, base, time.Second), base)
	assert.Equal(t, Backoff(1, base, time.Second), 200*time.Millisecond)
	assert.Equal(t, Backoff(3, base, time.Second), 800*time.Millisecond)
	assert.Equal(t, Backoff(4, base, time.Second), time.Second)
	assert.Equal(t, Backoff(10, base, 0), base*1024)
}

func TestWebsocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status_change"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"driver_update"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := (&WebsocketTransport{}).Dial(context.Background(), url)
	assert.Equal(t, err, nil)
	defer conn.Close()

	msg, err := conn.ReadMessage()
	assert.Equal(t, err, nil)
	assert.Equal(t, string(msg), `{"type":"status_change"}`)

	msg, err = conn.ReadMessage()
	assert.Equal(t, err, nil)
	assert.Equal(t, string(msg), `{"type":"driver_update"}`)

	_, err = conn.ReadMessage()
	assert.Equal(t, err, io.EOF)
}
