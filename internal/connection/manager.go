package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
)

// State of the upstream feed connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var transitions = map[State]map[State]struct{}{
	StateDisconnected: {
		StateConnecting: {},
	},
	StateConnecting: {
		StateConnected:    {},
		StateDisconnected: {},
	},
	StateConnected: {
		StateConnecting:   {},
		StateDisconnected: {},
	},
}

// CanTransition returns true when the state machine allows moving from current to next
func CanTransition(current, next State) bool {
	if current == next {
		return true
	}
	allowed, ok := transitions[current]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// ChannelError is a connection-level failure
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ErrNoURL is returned by Connect when no feed URL is known
var ErrNoURL = errors.New("no feed url configured")

// Conn is one open feed connection. ReadMessage returns io.EOF after a clean close.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens feed connections
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Sink receives every message read while connected, in arrival order
type Sink func(data []byte)

// Config for the manager. Reconnection is off when ReconnectBase is zero.
type Config struct {
	URL           string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Info is a point-in-time view of the connection
type Info struct {
	State         State      `json:"state"`
	LastError     string     `json:"lastError,omitempty"`
	URL           string     `json:"url,omitempty"`
	Attempts      int        `json:"attempts"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

type listener func(State, error)

// Manager owns the feed connection and its state machine. Each connection
// attempt gets a generation number; anything produced by an older
// generation is discarded.
type Manager struct {
	transport Transport
	sink      Sink
	log       logging.Logger
	cfg       Config

	// deliver is held while a message is handed to the sink, so teardown
	// waits for an in-progress delivery. Always taken before mu.
	deliver sync.Mutex

	mu            sync.Mutex
	state         State
	lastErr       error
	url           string
	gen           uint64
	conn          Conn
	cancelDial    context.CancelFunc
	retry         *time.Timer
	attempts      int
	autoReconnect bool
	lastMessageAt time.Time
	listeners     []listener
}

func NewManager(transport Transport, sink Sink, log logging.Logger, cfg Config) *Manager {
	return &Manager{
		transport: transport,
		sink:      sink,
		log:       log,
		cfg:       cfg,
		state:     StateDisconnected,
		url:       cfg.URL,
	}
}

// OnStateChange registers fn to run after every state change
func (m *Manager) OnStateChange(fn func(State, error)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.state, URL: m.url, Attempts: m.attempts}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	if !m.lastMessageAt.IsZero() {
		t := m.lastMessageAt
		info.LastMessageAt = &t
	}
	return info
}

// Connect opens the feed at url, or at the last used url when empty. Any
// existing connection is closed first.
func (m *Manager) Connect(url string) error {
	m.deliver.Lock()
	m.mu.Lock()
	if url == "" {
		url = m.url
	}
	if url == "" {
		m.mu.Unlock()
		m.deliver.Unlock()
		return ErrNoURL
	}
	m.url = url
	m.autoReconnect = true
	m.attempts = 0
	m.stopRetryLocked()
	prev := m.teardownLocked()
	ctx, gen, notify := m.startLocked()
	m.mu.Unlock()
	m.deliver.Unlock()

	if prev != nil {
		prev.Close()
	}
	notify()
	go m.run(ctx, gen, url)
	return nil
}

// Disconnect closes the feed from any state and cancels reconnection.
// Calling it again is a no-op. Entities already received are kept.
func (m *Manager) Disconnect() {
	m.deliver.Lock()
	m.mu.Lock()
	m.autoReconnect = false
	m.stopRetryLocked()
	prev := m.teardownLocked()
	notify := m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()
	m.deliver.Unlock()

	if prev != nil {
		prev.Close()
	}
	notify()
}

// teardownLocked invalidates the current generation and detaches its conn
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	prev := m.conn
	m.conn = nil
	return prev
}

func (m *Manager) startLocked() (context.Context, uint64, func()) {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	notify := m.setStateLocked(StateConnecting, nil)
	return ctx, m.gen, notify
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// setStateLocked moves the state machine and returns a func that runs the
// listeners; call it after releasing the locks.
func (m *Manager) setStateLocked(next State, err error) func() {
	if !CanTransition(m.state, next) {
		m.log.Errorf("[FEED] illegal transition %s -> %s ignored", m.state, next)
		return func() {}
	}
	changed := m.state != next || err != nil
	m.state = next
	if next == StateConnected || next == StateConnecting {
		m.lastErr = nil
	}
	if err != nil {
		m.lastErr = err
	}
	if !changed {
		return func() {}
	}
	listeners := m.listeners
	return func() {
		for _, fn := range listeners {
			fn(next, err)
		}
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, url string) {
	conn, err := m.transport.Dial(ctx, url)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		cerr := &ChannelError{Op: "dial", Err: err}
		notify := m.setStateLocked(StateDisconnected, cerr)
		m.scheduleRetryLocked(gen)
		m.mu.Unlock()
		m.log.Errorf("❌ [FEED] connect to %s failed: %v", url, err)
		notify()
		return
	}
	m.conn = conn
	m.attempts = 0
	notify := m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()
	m.log.Infof("✅ [FEED] connected to %s", url)
	notify()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.closed(gen, conn, err)
			return
		}

		m.deliver.Lock()
		m.mu.Lock()
		current := gen == m.gen
		if current {
			m.lastMessageAt = time.Now()
		}
		m.mu.Unlock()
		if !current {
			m.deliver.Unlock()
			return
		}
		m.sink(data)
		m.deliver.Unlock()
	}
}

func (m *Manager) closed(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// torn down on purpose
		m.mu.Unlock()
		return
	}
	m.conn = nil
	var cerr error
	if !errors.Is(err, io.EOF) {
		cerr = &ChannelError{Op: "read", Err: err}
	}
	notify := m.setStateLocked(StateDisconnected, cerr)
	m.scheduleRetryLocked(gen)
	m.mu.Unlock()

	conn.Close()
	if cerr != nil {
		m.log.Errorf("🔴 [FEED] connection lost: %v", err)
	} else {
		m.log.Infof("🔴 [FEED] connection closed by peer")
	}
	notify()
}

func (m *Manager) scheduleRetryLocked(gen uint64) {
	if !m.autoReconnect || m.cfg.ReconnectBase <= 0 {
		return
	}
	delay := Backoff(m.attempts, m.cfg.ReconnectBase, m.cfg.ReconnectMax)
	m.attempts++
	m.log.Infof("[FEED] reconnecting in %s (attempt %d)", delay, m.attempts)
	m.retry = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.deliver.Lock()
	m.mu.Lock()
	if gen != m.gen || !m.autoReconnect || m.state != StateDisconnected {
		m.mu.Unlock()
		m.deliver.Unlock()
		return
	}
	m.retry = nil
	url := m.url
	ctx, next, notify := m.startLocked()
	m.mu.Unlock()
	m.deliver.Unlock()

	notify()
	go m.run(ctx, next, url)
}

// Backoff returns base doubled attempt times, capped at max when max is set
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
