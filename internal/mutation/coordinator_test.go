package mutation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/sample"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/store"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stubBackend blocks every call until a result is pushed
type stubBackend struct {
	results chan error
	calls   chan string
}

func newStubBackend() *stubBackend {
	return &stubBackend{results: make(chan error, 8), calls: make(chan string, 8)}
}

func (b *stubBackend) next(ctx context.Context, call string) error {
	b.calls <- call
	select {
	case err := <-b.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *stubBackend) ReassignDelivery(ctx context.Context, deliveryID, driverID string) error {
	return b.next(ctx, "reassign "+deliveryID+" "+driverID)
}

func (b *stubBackend) CompleteDelivery(ctx context.Context, deliveryID string, _ time.Time) error {
	return b.next(ctx, "complete "+deliveryID)
}

func (b *stubBackend) SetDriverPaused(ctx context.Context, driverID string, paused bool) error {
	return b.next(ctx, fmt.Sprintf("pause %s %t", driverID, paused))
}

type notice struct {
	message string
	kind    models.NotificationKind
}

type recorder struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recorder) Notify(message string, kind models.NotificationKind) {
	r.mu.Lock()
	r.notices = append(r.notices, notice{message, kind})
	r.mu.Unlock()
}

func (r *recorder) last() notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return notice{}
	}
	return r.notices[len(r.notices)-1]
}

type fixture struct {
	store    *store.Store
	coord    *Coordinator
	dispatch *Dispatcher
	backend  *stubBackend
	notes    *recorder
}

func newFixture(cfg Config) *fixture {
	s := store.New()
	s.ReplaceDrivers(sample.Drivers(testNow))
	s.ReplaceDeliveries(sample.Deliveries(testNow))
	notes := &recorder{}
	coord := NewCoordinator(s, Inline, notes, logging.Discard, cfg)
	backend := newStubBackend()
	d := NewDispatcher(coord, s, backend)
	d.now = func() time.Time { return testNow.Add(time.Minute) }
	return &fixture{store: s, coord: coord, dispatch: d, backend: backend, notes: notes}
}

type state struct {
	drivers    []models.Driver
	deliveries []models.Delivery
}

func (f *fixture) snapshot() state {
	return state{drivers: f.store.Drivers(), deliveries: f.store.Deliveries()}
}

func wait(t *testing.T, ticket *Ticket) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := ticket.Wait(ctx)
	if err != nil {
		t.Fatalf("mutation %s did not resolve: %v", ticket.ID, err)
	}
	return out
}

func TestReassignScenarioRollsBack(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()

	ticket, err := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.coord.InFlight(), true)

	del, _ := f.store.Delivery("del-003")
	assert.Equal(t, del.Status, models.DeliveryStatusAssigned)
	assert.Equal(t, del.AssignedTo(), "3")
	drv, _ := f.store.Driver("3")
	assert.Equal(t, drv.Status, models.DriverStatusBusy)
	assert.Equal(t, drv.DeliveryStatus, models.DriverDeliveryDelivering)

	f.backend.results <- ErrRejected
	out := wait(t, ticket)

	assert.Equal(t, out.Committed, false)
	assert.Equal(t, out.Message, "Failed to reassign delivery")
	var failure *BackingOperationFailure
	assert.Equal(t, errors.As(out.Err, &failure), true)
	assert.Equal(t, f.snapshot(), before)
	assert.Equal(t, f.coord.InFlight(), false)
	assert.Equal(t, f.notes.last(), notice{"Failed to reassign delivery", models.NotificationError})
}

func TestReassignCommits(t *testing.T) {
	f := newFixture(Config{})

	ticket, err := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, err, nil)
	assert.Equal(t, <-f.backend.calls, "reassign del-003 3")

	f.backend.results <- nil
	out := wait(t, ticket)

	assert.Equal(t, out.Committed, true)
	assert.Equal(t, f.notes.last(), notice{"Delivery reassigned to Mike Chen", models.NotificationSuccess})
	del, _ := f.store.Delivery("del-003")
	assert.Equal(t, del.AssignedTo(), "3")
	assert.Equal(t, f.coord.Busy(models.DriverRef("3")), false)
}

func TestReassignReleasesAndRestoresPreviousDriver(t *testing.T) {
	f := newFixture(Config{})
	assigned := models.DeliveryStatusAssigned
	busy := models.DriverStatusBusy
	delivering := models.DriverDeliveryDelivering
	f.store.Patch(models.DeliveryUpdate("del-004", models.DeliveryPatch{DriverID: models.Assign("4"), Status: &assigned}))
	f.store.Patch(models.DriverUpdate("4", models.DriverPatch{Status: &busy, DeliveryStatus: &delivering}))
	before := f.snapshot()

	ticket, err := f.dispatch.ReassignDelivery(context.Background(), "del-004", "3")
	assert.Equal(t, err, nil)

	old, _ := f.store.Driver("4")
	assert.Equal(t, old.Status, models.DriverStatusOnline)
	assert.Equal(t, old.DeliveryStatus, models.DriverDeliveryIdle)
	assert.Equal(t, f.coord.Busy(models.DriverRef("4")), true)

	f.backend.results <- errors.New("connection reset")
	out := wait(t, ticket)

	assert.Equal(t, out.Message, NetworkErrorMessage)
	assert.Equal(t, f.snapshot(), before)
}

func TestCompleteRollsBack(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()

	ticket, err := f.dispatch.CompleteDelivery(context.Background(), "del-001")
	assert.Equal(t, err, nil)

	del, _ := f.store.Delivery("del-001")
	assert.Equal(t, del.Status, models.DeliveryStatusCompleted)
	assert.Equal(t, *del.ActualDeliveryTime, testNow.Add(time.Minute))
	drv, _ := f.store.Driver("1")
	assert.Equal(t, drv.IsAvailable(), true)

	f.backend.results <- ErrRejected
	wait(t, ticket)

	assert.Equal(t, f.snapshot(), before)
	assert.Equal(t, f.notes.last(), notice{"Failed to complete delivery", models.NotificationError})
}

func TestTogglePauseRollsBack(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()

	ticket, err := f.dispatch.TogglePause(context.Background(), "1")
	assert.Equal(t, err, nil)
	assert.Equal(t, <-f.backend.calls, "pause 1 true")

	drv, _ := f.store.Driver("1")
	assert.Equal(t, drv.DeliveryStatus, models.DriverDeliveryPaused)

	f.backend.results <- ErrRejected
	wait(t, ticket)

	assert.Equal(t, f.snapshot(), before)
	assert.Equal(t, f.notes.last(), notice{"Failed to pause driver", models.NotificationError})
}

func TestTogglePauseResumes(t *testing.T) {
	f := newFixture(Config{})

	ticket, err := f.dispatch.TogglePause(context.Background(), "2")
	assert.Equal(t, err, nil)
	f.backend.results <- nil
	wait(t, ticket)

	drv, _ := f.store.Driver("2")
	assert.Equal(t, drv.DeliveryStatus, models.DriverDeliveryDelivering)
	assert.Equal(t, f.notes.last(), notice{"Driver Sarah Johnson resumed", models.NotificationSuccess})
}

func TestCompleteWithoutDriverIsNotFound(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()

	_, err := f.dispatch.CompleteDelivery(context.Background(), "del-003")
	var notFound *NotFoundError
	assert.Equal(t, errors.As(err, &notFound), true)
	assert.Equal(t, f.snapshot(), before)
	assert.Equal(t, f.coord.Pending(), 0)
}

func TestValidationFailuresLeaveStoreUntouched(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *Dispatcher) error
		want interface{}
	}{
		{"empty delivery", func(d *Dispatcher) error {
			_, err := d.ReassignDelivery(context.Background(), "", "3")
			return err
		}, &ValidationError{}},
		{"busy target driver", func(d *Dispatcher) error {
			_, err := d.ReassignDelivery(context.Background(), "del-003", "1")
			return err
		}, &ValidationError{}},
		{"delivery in progress", func(d *Dispatcher) error {
			_, err := d.ReassignDelivery(context.Background(), "del-001", "3")
			return err
		}, &ValidationError{}},
		{"missing driver", func(d *Dispatcher) error {
			_, err := d.ReassignDelivery(context.Background(), "del-003", "42")
			return err
		}, &NotFoundError{}},
		{"missing delivery", func(d *Dispatcher) error {
			_, err := d.CompleteDelivery(context.Background(), "del-404")
			return err
		}, &NotFoundError{}},
		{"already completed", func(d *Dispatcher) error {
			_, err := d.CompleteDelivery(context.Background(), "del-005")
			return err
		}, &ValidationError{}},
		{"pause idle driver", func(d *Dispatcher) error {
			_, err := d.TogglePause(context.Background(), "3")
			return err
		}, &ValidationError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			before := f.snapshot()

			err := tt.run(f.dispatch)
			switch tt.want.(type) {
			case *ValidationError:
				var v *ValidationError
				assert.Equal(t, errors.As(err, &v), true)
			case *NotFoundError:
				var n *NotFoundError
				assert.Equal(t, errors.As(err, &n), true)
			}
			assert.Equal(t, f.snapshot(), before)
			assert.Equal(t, f.coord.InFlight(), false)
		})
	}
}

func TestOverlappingMutationIsRejectedPerEntity(t *testing.T) {
	f := newFixture(Config{})

	first, err := f.dispatch.TogglePause(context.Background(), "1")
	assert.Equal(t, err, nil)
	afterFirst := f.snapshot()

	_, err = f.dispatch.TogglePause(context.Background(), "1")
	assert.Equal(t, errors.Is(err, ErrEntityBusy), true)
	var v *ValidationError
	assert.Equal(t, errors.As(err, &v), true)
	assert.Equal(t, f.snapshot(), afterFirst)

	// unrelated entities proceed independently
	other, err := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.coord.Pending(), 2)

	f.backend.results <- nil
	f.backend.results <- nil
	wait(t, first)
	wait(t, other)

	paused, _ := f.store.Driver("1")
	assert.Equal(t, paused.DeliveryStatus, models.DriverDeliveryPaused)

	third, err := f.dispatch.TogglePause(context.Background(), "1")
	assert.Equal(t, err, nil)
	resumed, _ := f.store.Driver("1")
	assert.Equal(t, resumed.DeliveryStatus, models.DriverDeliveryDelivering)

	f.backend.results <- ErrRejected
	wait(t, third)

	// rollback lands on the post-first state, not the original one
	final, _ := f.store.Driver("1")
	assert.Equal(t, final.DeliveryStatus, models.DriverDeliveryPaused)
}

func TestTimeoutForcesRollback(t *testing.T) {
	f := newFixture(Config{Timeout: 20 * time.Millisecond})
	before := f.snapshot()

	ticket, err := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, err, nil)

	out := wait(t, ticket)
	assert.Equal(t, out.Committed, false)
	assert.Equal(t, errors.Is(out.Err, context.DeadlineExceeded), true)
	assert.Equal(t, out.Message, NetworkErrorMessage)
	assert.Equal(t, f.snapshot(), before)
}

func TestCallerCancellationDoesNotAbortBacking(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	ticket, err := f.dispatch.TogglePause(ctx, "1")
	assert.Equal(t, err, nil)
	cancel()

	f.backend.results <- nil
	out := wait(t, ticket)
	assert.Equal(t, out.Committed, true)
}

func TestMergePolicyKeepsInterveningUpdate(t *testing.T) {
	f := newFixture(Config{Policy: PolicyMerge})

	ticket, err := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, err, nil)

	offline := models.DriverStatusOffline
	f.store.Patch(models.DriverUpdate("3", models.DriverPatch{Status: &offline}))

	f.backend.results <- ErrRejected
	wait(t, ticket)

	drv, _ := f.store.Driver("3")
	assert.Equal(t, drv.Status, models.DriverStatusOffline)
	assert.Equal(t, drv.DeliveryStatus, models.DriverDeliveryIdle)
	del, _ := f.store.Delivery("del-003")
	assert.Equal(t, del.Status, models.DeliveryStatusPending)
	assert.Equal(t, del.DriverID == nil, true)
}

func TestSnapshotPolicyOverwritesInterveningUpdate(t *testing.T) {
	f := newFixture(Config{Policy: PolicySnapshot})

	ticket, _ := f.dispatch.ReassignDelivery(context.Background(), "del-003", "3")
	offline := models.DriverStatusOffline
	f.store.Patch(models.DriverUpdate("3", models.DriverPatch{Status: &offline}))

	f.backend.results <- ErrRejected
	wait(t, ticket)

	drv, _ := f.store.Driver("3")
	assert.Equal(t, drv.Status, models.DriverStatusOnline)
}

func TestPanickingBackingOperationRollsBack(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()
	paused := models.DriverDeliveryPaused

	ticket, err := f.coord.Perform(context.Background(), Request{
		Kind:    KindTogglePause,
		Forward: []models.Patch{models.DriverUpdate("1", models.DriverPatch{DeliveryStatus: &paused})},
		Backing: func(context.Context) error { panic("boom") },
	})
	assert.Equal(t, err, nil)

	out := wait(t, ticket)
	assert.Equal(t, out.Committed, false)
	assert.Equal(t, f.snapshot(), before)
}

func TestPerformUndoesPartialForwardOnMissingEntity(t *testing.T) {
	f := newFixture(Config{})
	before := f.snapshot()
	busy := models.DriverStatusBusy

	_, err := f.coord.Perform(context.Background(), Request{
		Kind: KindReassignDelivery,
		Forward: []models.Patch{
			models.DriverUpdate("3", models.DriverPatch{Status: &busy}),
			models.DriverUpdate("ghost", models.DriverPatch{Status: &busy}),
		},
		Backing: func(context.Context) error { return nil },
	})
	var notFound *NotFoundError
	assert.Equal(t, errors.As(err, &notFound), true)
	assert.Equal(t, notFound.Ref, models.DriverRef("ghost"))
	assert.Equal(t, f.snapshot(), before)
	assert.Equal(t, f.coord.Busy(models.DriverRef("3")), false)
}

func TestOnOutcomeListener(t *testing.T) {
	f := newFixture(Config{})
	got := make(chan Outcome, 1)
	f.coord.OnOutcome(func(o Outcome) { got <- o })

	ticket, _ := f.dispatch.TogglePause(context.Background(), "1")
	f.backend.results <- nil
	wait(t, ticket)

	out := <-got
	assert.Equal(t, out.MutationID, ticket.ID)
	assert.Equal(t, out.Kind, KindTogglePause)
	assert.Equal(t, out.Entities, []models.EntityRef{models.DriverRef("1")})
}

func TestOnStartListenerSeesPendingMutation(t *testing.T) {
	f := newFixture(Config{})
	var started []Started
	var inFlight bool
	f.coord.OnStart(func(m Started) {
		started = append(started, m)
		inFlight = f.coord.InFlight()
	})

	ticket, err := f.dispatch.TogglePause(context.Background(), "1")
	assert.Equal(t, err, nil)
	assert.Equal(t, started, []Started{{MutationID: ticket.ID, Kind: KindTogglePause, Entities: []models.EntityRef{models.DriverRef("1")}}})
	assert.Equal(t, inFlight, true)

	// rejected attempts never start
	_, err = f.dispatch.TogglePause(context.Background(), "1")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(started), 1)

	f.backend.results <- nil
	wait(t, ticket)
}

func TestParseRollbackPolicy(t *testing.T) {
	p, err := ParseRollbackPolicy("")
	assert.Equal(t, err, nil)
	assert.Equal(t, p, PolicySnapshot)

	p, err = ParseRollbackPolicy("merge")
	assert.Equal(t, err, nil)
	assert.Equal(t, p, PolicyMerge)

	_, err = ParseRollbackPolicy("newest")
	assert.NotEqual(t, err, nil)
}

func TestSimulatedBackend(t *testing.T) {
	always := NewSimulatedBackendWithSource(0, 1, rand.NewSource(1))
	err := always.ReassignDelivery(context.Background(), "del-003", "3")
	assert.Equal(t, errors.Is(err, ErrRejected), true)

	never := NewSimulatedBackendWithSource(0, 0, rand.NewSource(1))
	assert.Equal(t, never.CompleteDelivery(context.Background(), "del-001", testNow), nil)

	slow := NewSimulatedBackendWithSource(time.Hour, 0, rand.NewSource(1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, errors.Is(slow.SetDriverPaused(ctx, "1", true), context.DeadlineExceeded), true)
}
