package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// gateBackend blocks every call until a result is pushed
type gateBackend struct {
	results chan error
}

func newGateBackend() *gateBackend {
	return &gateBackend{results: make(chan error, 4)}
}

func (b *gateBackend) wait(ctx context.Context) error {
	select {
	case err := <-b.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *gateBackend) ReassignDelivery(ctx context.Context, deliveryID, driverID string) error {
	return b.wait(ctx)
}

func (b *gateBackend) CompleteDelivery(ctx context.Context, deliveryID string, at time.Time) error {
	return b.wait(ctx)
}

func (b *gateBackend) SetDriverPaused(ctx context.Context, driverID string, paused bool) error {
	return b.wait(ctx)
}

type failingSource struct{}

func (failingSource) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	return nil, errors.New("db unavailable")
}

func (failingSource) ListDeliveries(ctx context.Context) ([]models.Delivery, error) {
	return nil, nil
}

// switchSource fails once broken is set
type switchSource struct {
	mu     sync.Mutex
	broken bool
}

func (s *switchSource) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, errors.New("db unavailable")
	}
	return StaticSource{Now: func() time.Time { return testNow }}.ListDrivers(ctx)
}

func (s *switchSource) ListDeliveries(ctx context.Context) ([]models.Delivery, error) {
	return StaticSource{Now: func() time.Time { return testNow }}.ListDeliveries(ctx)
}

// heldSource blocks ListDrivers while held is set, reporting each blocked call on entered
type heldSource struct {
	mu      sync.Mutex
	held    bool
	entered chan struct{}
	release chan struct{}
}

func newHeldSource() *heldSource {
	return &heldSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *heldSource) hold() {
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
}

func (s *heldSource) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	s.mu.Lock()
	held := s.held
	s.mu.Unlock()
	if held {
		s.entered <- struct{}{}
		<-s.release
	}
	return StaticSource{Now: func() time.Time { return testNow }}.ListDrivers(ctx)
}

func (s *heldSource) ListDeliveries(ctx context.Context) ([]models.Delivery, error) {
	return StaticSource{Now: func() time.Time { return testNow }}.ListDeliveries(ctx)
}

type pipeConn struct {
	msgs      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// pipeTransport hands out a fresh pipeConn per dial
type pipeTransport struct {
	mu    sync.Mutex
	conns []*pipeConn
}

func (p *pipeTransport) Dial(ctx context.Context, url string) (connection.Conn, error) {
	c := &pipeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

func (p *pipeTransport) latest() *pipeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[len(p.conns)-1]
}

type recorder struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (r *recorder) Notify(message string, kind models.NotificationKind) {
	r.mu.Lock()
	r.notes = append(r.notes, models.Notification{Message: message, Kind: kind})
	r.mu.Unlock()
}

func (r *recorder) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.notes...)
}

type fixture struct {
	dash      *Dashboard
	backend   *gateBackend
	transport *pipeTransport
	notes     *recorder
	ctx       context.Context
}

func newFixture(t *testing.T, source Source) *fixture {
	t.Helper()
	if source == nil {
		source = StaticSource{Now: func() time.Time { return testNow }}
	}
	f := &fixture{backend: newGateBackend(), transport: &pipeTransport{}, notes: &recorder{}}
	dash, err := New(Deps{
		Source:    source,
		Backend:   f.backend,
		Transport: f.transport,
		Log:       logging.Discard,
	}, Config{FeedURL: "ws://feed", Mutation: mutation.Config{Timeout: time.Second}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dash.AddNotifier(f.notes)
	f.dash = dash

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dash.Run(ctx)
	f.ctx = ctx
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	if err := f.dash.Load(f.ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func (f *fixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.dash.Snapshot(f.ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
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

func waitOutcome(t *testing.T, ticket *mutation.Ticket) mutation.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := ticket.Wait(ctx)
	if err != nil {
		t.Fatalf("mutation did not resolve: %v", err)
	}
	return out
}

func TestDepsValidate(t *testing.T) {
	err := Deps{}.Validate()
	assert.Equal(t, err.Error(), "dashboard: missing source, backend, transport, logger")

	_, err = New(Deps{Source: StaticSource{}}, Config{})
	assert.NotEqual(t, err, nil)
}

func TestLoadPopulatesStore(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	snap := f.snapshot(t)
	assert.Equal(t, len(snap.Drivers), 5)
	assert.Equal(t, len(snap.Deliveries), 5)
	assert.Equal(t, snap.Load.Loading, false)
	assert.Equal(t, snap.Load.Error, "")
	assert.Equal(t, snap.MutationInProgress, false)
}

func TestLoadFailureSetsStoreError(t *testing.T) {
	f := newFixture(t, failingSource{})

	err := f.dash.Load(f.ctx)
	assert.NotEqual(t, err, nil)

	eventually(t, func() bool { return f.snapshot(t).Load.Error != "" })
	snap := f.snapshot(t)
	assert.Equal(t, snap.Load.Error, "load fleet: db unavailable")
	assert.Equal(t, len(snap.Drivers), 0)
}

func TestFailedReloadKeepsEntities(t *testing.T) {
	src := &switchSource{}
	f := newFixture(t, src)
	f.load(t)

	src.mu.Lock()
	src.broken = true
	src.mu.Unlock()

	assert.NotEqual(t, f.dash.Load(f.ctx), nil)
	eventually(t, func() bool { return f.snapshot(t).Load.Error != "" })
	assert.Equal(t, len(f.snapshot(t).Drivers), 5)
}

func TestReassignScenarioRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	ticket, err := f.dash.ReassignDelivery(f.ctx, "del-003", "3")
	assert.Equal(t, err, nil)

	// forward change is visible before the backend answers
	snap := f.snapshot(t)
	assert.Equal(t, snap.MutationInProgress, true)
	assert.Equal(t, len(snap.Busy), 2)
	delivery, _ := f.dash.Reader().Delivery("del-003")
	assert.Equal(t, delivery.Status, models.DeliveryStatusAssigned)
	assert.Equal(t, delivery.AssignedTo(), "3")
	driver, _ := f.dash.Reader().Driver("3")
	assert.Equal(t, driver.Status, models.DriverStatusBusy)
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryDelivering)

	f.backend.results <- errors.New("connection reset")
	out := waitOutcome(t, ticket)
	assert.Equal(t, out.Committed, false)

	delivery, _ = f.dash.Reader().Delivery("del-003")
	assert.Equal(t, delivery.Status, models.DeliveryStatusPending)
	assert.Equal(t, delivery.DriverID == nil, true)
	driver, _ = f.dash.Reader().Driver("3")
	assert.Equal(t, driver.Status, models.DriverStatusOnline)
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryIdle)
	assert.Equal(t, f.dash.MutationInProgress(), false)

	assert.Equal(t, f.notes.all(), []models.Notification{
		{Message: mutation.NetworkErrorMessage, Kind: models.NotificationError},
	})
}

func TestReassignCommits(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	ticket, err := f.dash.ReassignDelivery(f.ctx, "del-004", "4")
	assert.Equal(t, err, nil)
	f.backend.results <- nil
	out := waitOutcome(t, ticket)
	assert.Equal(t, out.Committed, true)

	delivery, _ := f.dash.Reader().Delivery("del-004")
	assert.Equal(t, delivery.AssignedTo(), "4")
	assert.Equal(t, f.notes.all(), []models.Notification{
		{Message: "Delivery reassigned to Emily Davis", Kind: models.NotificationSuccess},
	})
}

func TestOverlappingMutationRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	ticket, err := f.dash.TogglePause(f.ctx, "2")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.dash.Busy(models.DriverRef("2")), true)

	_, err = f.dash.TogglePause(f.ctx, "2")
	assert.Equal(t, errors.Is(err, mutation.ErrEntityBusy), true)

	f.backend.results <- nil
	waitOutcome(t, ticket)
	driver, _ := f.dash.Reader().Driver("2")
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryDelivering)
}

func TestReloadRejectedWhileMutationPending(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	ticket, err := f.dash.CompleteDelivery(f.ctx, "del-001")
	assert.Equal(t, err, nil)

	err = f.dash.Load(f.ctx)
	assert.Equal(t, errors.Is(err, mutation.ErrEntityBusy), true)

	f.backend.results <- nil
	waitOutcome(t, ticket)
	assert.Equal(t, f.dash.Load(f.ctx), nil)
}

func TestReloadDiscardedWhenMutationStartsDuringFetch(t *testing.T) {
	src := newHeldSource()
	f := newFixture(t, src)
	f.load(t)

	src.hold()
	loadErr := make(chan error, 1)
	go func() { loadErr <- f.dash.Load(f.ctx) }()
	<-src.entered

	ticket, err := f.dash.TogglePause(f.ctx, "1")
	assert.Equal(t, err, nil)
	close(src.release)

	err = <-loadErr
	assert.Equal(t, errors.Is(err, mutation.ErrEntityBusy), true)
	driver, _ := f.dash.Reader().Driver("1")
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryPaused)
	assert.Equal(t, f.snapshot(t).Load.Loading, false)

	f.backend.results <- mutation.ErrRejected
	waitOutcome(t, ticket)
	driver, _ = f.dash.Reader().Driver("1")
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryDelivering)
}

func TestTimedOutActionIsNotApplied(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	gate := make(chan struct{})
	f.dash.loop.Go(func() { <-gate })

	ctx, cancel := context.WithTimeout(f.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := f.dash.TogglePause(ctx, "1")
	assert.Equal(t, errors.Is(err, context.DeadlineExceeded), true)
	close(gate)

	snap := f.snapshot(t)
	assert.Equal(t, snap.MutationInProgress, false)
	driver, _ := f.dash.Reader().Driver("1")
	assert.Equal(t, driver.DeliveryStatus, models.DriverDeliveryDelivering)
}

func TestCompleteWithoutDriverIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)
	before := f.snapshot(t)

	_, err := f.dash.CompleteDelivery(f.ctx, "del-003")
	var nf *mutation.NotFoundError
	assert.Equal(t, errors.As(err, &nf), true)

	after := f.snapshot(t)
	assert.Equal(t, after.Drivers, before.Drivers)
	assert.Equal(t, after.Deliveries, before.Deliveries)
	assert.Equal(t, after.MutationInProgress, false)
}

func TestFeedMessagesReachStore(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	assert.Equal(t, f.dash.Connect(""), nil)
	eventually(t, func() bool { return f.dash.Connection().State == connection.StateConnected })

	before, _ := f.dash.Reader().Driver("2")
	f.transport.latest().msgs <- []byte(`{"type":"status_change","payload":{"driverId":"2","status":"offline"},"timestamp":"2024-05-01T12:00:00Z"}`)
	eventually(t, func() bool {
		d, _ := f.dash.Reader().Driver("2")
		return d.Status == models.DriverStatusOffline
	})

	after, _ := f.dash.Reader().Driver("2")
	before.Status = models.DriverStatusOffline
	assert.Equal(t, after, before)
	assert.Equal(t, f.dash.Stats().Feed.Applied, uint64(1))
}

func TestDisconnectKeepsEntities(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	var mu sync.Mutex
	var states []connection.State
	f.dash.OnConnectionChange(func(info connection.Info) {
		mu.Lock()
		states = append(states, info.State)
		mu.Unlock()
	})

	f.dash.Connect("")
	eventually(t, func() bool { return f.dash.Connection().State == connection.StateConnected })
	f.transport.latest().msgs <- []byte(`{"type":"driver_update","payload":{"driverId":"3","updates":{"currentLocation":{"lat":37.77,"lng":-122.41}}},"timestamp":"2024-05-01T12:01:00Z"}`)
	eventually(t, func() bool {
		d, _ := f.dash.Reader().Driver("3")
		return d.Location.Lat == 37.77
	})

	f.dash.Disconnect()
	snap := f.snapshot(t)
	assert.Equal(t, snap.Connection.State, connection.StateDisconnected)
	assert.Equal(t, len(snap.Drivers), 5)
	d, _ := f.dash.Reader().Driver("3")
	assert.Equal(t, d.Location, models.Location{Lat: 37.77, Lng: -122.41})

	f.dash.Connect("")
	eventually(t, func() bool { return f.dash.Connection().State == connection.StateConnected })
	assert.Equal(t, len(f.snapshot(t).Drivers), 5)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, states, []connection.State{
		connection.StateConnecting, connection.StateConnected,
		connection.StateDisconnected,
		connection.StateConnecting, connection.StateConnected,
	})
}

func TestSelectionFollowsStore(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	f.dash.Select(models.DriverRef("4"))
	assert.Equal(t, f.dash.UpdateDriverLocation(f.ctx, "4", models.Location{Lat: 37.79, Lng: -122.40}), nil)

	sel, ok := f.dash.Selected()
	assert.Equal(t, ok, true)
	assert.Equal(t, sel.Driver.Location, models.Location{Lat: 37.79, Lng: -122.40})
	assert.Equal(t, f.snapshot(t).Selected.Ref, models.DriverRef("4"))

	f.dash.ToggleSelection(models.DriverRef("4"))
	_, ok = f.dash.Selected()
	assert.Equal(t, ok, false)
}

func TestUpdateDriverLocationErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	err := f.dash.UpdateDriverLocation(f.ctx, "99", models.Location{Lat: 1, Lng: 1})
	var nf *mutation.NotFoundError
	assert.Equal(t, errors.As(err, &nf), true)

	err = f.dash.UpdateDriverLocation(f.ctx, "1", models.Location{Lat: 91, Lng: 0})
	var ve *mutation.ValidationError
	assert.Equal(t, errors.As(err, &ve), true)
}

func TestOutcomeListener(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t)

	outcomes := make(chan mutation.Outcome, 1)
	f.dash.OnOutcome(func(o mutation.Outcome) { outcomes <- o })

	_, err := f.dash.TogglePause(f.ctx, "1")
	assert.Equal(t, err, nil)
	f.backend.results <- mutation.ErrRejected

	select {
	case o := <-outcomes:
		assert.Equal(t, o.Kind, mutation.KindTogglePause)
		assert.Equal(t, o.Committed, false)
		assert.Equal(t, o.Message, "Failed to pause driver")
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
}
