package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// Kind names a dispatcher mutation
type Kind string

const (
	KindReassignDelivery Kind = "reassign_delivery"
	KindCompleteDelivery Kind = "complete_delivery"
	KindTogglePause      Kind = "toggle_pause"
)

// RollbackPolicy decides how compensating patches treat fields that
// changed while the backing operation was in flight
type RollbackPolicy string

const (
	// PolicySnapshot restores every touched field to its pre-mutation value
	PolicySnapshot RollbackPolicy = "snapshot"
	// PolicyMerge restores a field only if it still holds the optimistic value
	PolicyMerge RollbackPolicy = "merge"
)

// ParseRollbackPolicy accepts "snapshot", "merge" or "" (snapshot)
func ParseRollbackPolicy(s string) (RollbackPolicy, error) {
	switch RollbackPolicy(s) {
	case "", PolicySnapshot:
		return PolicySnapshot, nil
	case PolicyMerge:
		return PolicyMerge, nil
	}
	return "", fmt.Errorf("unknown rollback policy %q", s)
}

// NetworkErrorMessage is surfaced when a backing operation fails without an explicit rejection
const NetworkErrorMessage = "Network error occurred"

// Store is the slice of the entity store the coordinator needs
type Store interface {
	Patch(models.Patch) (models.Patch, bool)
	Holding(models.Patch) map[string]bool
	Driver(id string) (models.Driver, bool)
	Delivery(id string) (models.Delivery, bool)
}

// Scheduler runs fn as a turn of the event loop that owns the store
type Scheduler interface {
	Go(fn func())
}

// SchedulerFunc adapts a function to Scheduler
type SchedulerFunc func(fn func())

func (f SchedulerFunc) Go(fn func()) { f(fn) }

// Inline runs turns on the calling goroutine
var Inline Scheduler = SchedulerFunc(func(fn func()) { fn() })

// Notifier receives user-facing notices
type Notifier interface {
	Notify(message string, kind models.NotificationKind)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(message string, kind models.NotificationKind)

func (f NotifierFunc) Notify(message string, kind models.NotificationKind) { f(message, kind) }

// BackingOperation confirms or rejects a mutation
type BackingOperation func(ctx context.Context) error

// Request describes one optimistic mutation
type Request struct {
	Kind Kind
	// Entities are locked until the mutation resolves; defaults to the refs of Forward
	Entities []models.EntityRef
	Forward  []models.Patch
	// Compensating overrides the inverses computed from Forward
	Compensating   []models.Patch
	Backing        BackingOperation
	SuccessMessage string
	FailureMessage string
}

// PendingMutation is an optimistic change whose backing operation has not settled
type PendingMutation struct {
	ID             string
	Kind           Kind
	Entities       []models.EntityRef
	Forward        []models.Patch
	Compensating   []models.Patch
	SuccessMessage string
	FailureMessage string
	InProgress     bool
	StartedAt      time.Time
}

// Started is emitted once per mutation after its forward patches apply
type Started struct {
	MutationID string             `json:"mutationId"`
	Kind       Kind               `json:"kind"`
	Entities   []models.EntityRef `json:"entities"`
}

// Outcome is emitted once per mutation when it resolves
type Outcome struct {
	MutationID string             `json:"mutationId"`
	Kind       Kind               `json:"kind"`
	Entities   []models.EntityRef `json:"entities"`
	Committed  bool               `json:"committed"`
	Message    string             `json:"message"`
	Error      string             `json:"error,omitempty"`
	Err        error              `json:"-"`
}

// Ticket tracks a started mutation
type Ticket struct {
	ID      string
	done    chan struct{}
	outcome Outcome
}

// Done is closed once the mutation has committed or rolled back
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the resolution; only meaningful after Done is closed
func (t *Ticket) Outcome() Outcome { return t.outcome }

// Wait blocks until the mutation resolves or ctx ends
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Config tunes the coordinator
type Config struct {
	// Timeout bounds a backing operation; zero means no bound
	Timeout time.Duration
	Policy  RollbackPolicy
}

// Coordinator applies optimistic mutations and resolves them to commit or rollback.
// Perform and the resolution turns must run on the store's event loop.
type Coordinator struct {
	store    Store
	sched    Scheduler
	notifier Notifier
	log      logging.Logger
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	pending   map[string]*PendingMutation
	locked    map[models.EntityRef]string
	listeners []func(Outcome)
	starts    []func(Started)
}

func NewCoordinator(store Store, sched Scheduler, notifier Notifier, log logging.Logger, cfg Config) *Coordinator {
	if sched == nil {
		sched = Inline
	}
	if notifier == nil {
		notifier = NotifierFunc(func(string, models.NotificationKind) {})
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicySnapshot
	}
	return &Coordinator{
		store:    store,
		sched:    sched,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		pending:  make(map[string]*PendingMutation),
		locked:   make(map[models.EntityRef]string),
	}
}

// OnOutcome registers fn to run after every resolution, on the event loop
func (c *Coordinator) OnOutcome(fn func(Outcome)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// OnStart registers fn to run once a mutation is pending, inside the turn that started it
func (c *Coordinator) OnStart(fn func(Started)) {
	c.mu.Lock()
	c.starts = append(c.starts, fn)
	c.mu.Unlock()
}

// InFlight reports whether any mutation is pending
func (c *Coordinator) InFlight() bool {
	return c.Pending() > 0
}

// Pending returns the number of unresolved mutations
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Busy reports whether ref is locked by a pending mutation
func (c *Coordinator) Busy(ref models.EntityRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locked[ref]
	return ok
}

// BusyEntities lists every locked entity
func (c *Coordinator) BusyEntities() []models.EntityRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EntityRef, 0, len(c.locked))
	for ref := range c.locked {
		out = append(out, ref)
	}
	return out
}

// Perform applies req.Forward immediately and starts the backing operation.
// It fails before touching the store when a target is busy or missing.
func (c *Coordinator) Perform(ctx context.Context, req Request) (*Ticket, error) {
	if len(req.Forward) == 0 {
		return nil, &ValidationError{Message: "mutation has no changes"}
	}
	if req.Backing == nil {
		return nil, &ValidationError{Message: "mutation has no backing operation"}
	}
	entities := req.Entities
	if len(entities) == 0 {
		entities = refsOf(req.Forward)
	}

	c.mu.Lock()
	for _, ref := range entities {
		if _, busy := c.locked[ref]; busy {
			c.mu.Unlock()
			return nil, &ValidationError{
				Message: fmt.Sprintf("%s %s already has a pending change", ref.Kind, ref.ID),
				Err:     ErrEntityBusy,
			}
		}
	}
	c.mu.Unlock()

	inverses := make([]models.Patch, 0, len(req.Forward))
	for _, p := range req.Forward {
		inv, ok := c.store.Patch(p)
		if !ok {
			c.undo(inverses)
			return nil, &NotFoundError{Ref: p.Ref}
		}
		inverses = append(inverses, inv)
	}

	compensating := req.Compensating
	if compensating == nil {
		compensating = reversed(inverses)
	}

	pm := &PendingMutation{
		ID:             uuid.New().String(),
		Kind:           req.Kind,
		Entities:       entities,
		Forward:        req.Forward,
		Compensating:   compensating,
		SuccessMessage: req.SuccessMessage,
		FailureMessage: req.FailureMessage,
		InProgress:     true,
		StartedAt:      c.now(),
	}
	ticket := &Ticket{ID: pm.ID, done: make(chan struct{})}

	c.mu.Lock()
	c.pending[pm.ID] = pm
	for _, ref := range entities {
		c.locked[ref] = pm.ID
	}
	starts := c.starts
	c.mu.Unlock()

	c.log.Infof("[MUTATION] %s %s started on %v", pm.Kind, pm.ID, pm.Entities)
	for _, fn := range starts {
		fn(Started{MutationID: pm.ID, Kind: pm.Kind, Entities: pm.Entities})
	}

	bctx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		bctx, cancel = context.WithTimeout(bctx, c.cfg.Timeout)
	} else {
		bctx, cancel = context.WithCancel(bctx)
	}
	go func() {
		defer cancel()
		err := await(bctx, req.Backing)
		c.sched.Go(func() { c.resolve(pm, ticket, err) })
	}()

	return ticket, nil
}

// await runs op and returns its error, or the context error if op outlives ctx
func await(ctx context.Context, op BackingOperation) error {
	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("backing operation panicked: %v", r)
			}
		}()
		errc <- op(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) resolve(pm *PendingMutation, ticket *Ticket, err error) {
	outcome := Outcome{
		MutationID: pm.ID,
		Kind:       pm.Kind,
		Entities:   pm.Entities,
		Committed:  err == nil,
	}

	if err == nil {
		outcome.Message = pm.SuccessMessage
		c.log.Infof("✅ [MUTATION] %s %s committed", pm.Kind, pm.ID)
		c.notifier.Notify(pm.SuccessMessage, models.NotificationSuccess)
	} else {
		failure := &BackingOperationFailure{MutationID: pm.ID, Kind: pm.Kind, Err: err}
		outcome.Err = failure
		outcome.Error = failure.Error()
		outcome.Message = pm.FailureMessage
		if !errors.Is(err, ErrRejected) {
			outcome.Message = NetworkErrorMessage
		}

		c.rollback(pm)
		c.log.Errorf("❌ [MUTATION] %s %s rolled back: %v", pm.Kind, pm.ID, err)
		c.notifier.Notify(outcome.Message, models.NotificationError)
	}

	c.mu.Lock()
	pm.InProgress = false
	delete(c.pending, pm.ID)
	for _, ref := range pm.Entities {
		if c.locked[ref] == pm.ID {
			delete(c.locked, ref)
		}
	}
	listeners := c.listeners
	c.mu.Unlock()

	ticket.outcome = outcome
	close(ticket.done)

	for _, fn := range listeners {
		fn(outcome)
	}
}

func (c *Coordinator) rollback(pm *PendingMutation) {
	for _, cp := range pm.Compensating {
		if c.cfg.Policy == PolicyMerge {
			cp = c.mergeScope(pm.Forward, cp)
			if cp.IsEmpty() {
				continue
			}
		}
		if _, ok := c.store.Patch(cp); !ok {
			c.log.Errorf("[MUTATION] %s vanished before rollback of %s", cp.Ref, pm.ID)
		}
	}
}

// mergeScope keeps only the fields of cp that still hold the value the
// latest forward patch on the same entity wrote
func (c *Coordinator) mergeScope(forward []models.Patch, cp models.Patch) models.Patch {
	keep := make(map[string]bool)
	decided := make(map[string]bool)
	wanted := make(map[string]bool)
	for _, f := range cp.Fields() {
		wanted[f] = true
	}
	for i := len(forward) - 1; i >= 0; i-- {
		fp := forward[i]
		if fp.Ref != cp.Ref {
			continue
		}
		for field, held := range c.store.Holding(fp) {
			if wanted[field] && !decided[field] {
				keep[field] = held
				decided[field] = true
			}
		}
	}

	out := models.Patch{Ref: cp.Ref, Restore: cp.Restore}
	if cp.Driver != nil {
		d := cp.Driver.Only(keep)
		out.Driver = &d
	}
	if cp.Delivery != nil {
		d := cp.Delivery.Only(keep)
		out.Delivery = &d
	}
	return out
}

func (c *Coordinator) undo(inverses []models.Patch) {
	for i := len(inverses) - 1; i >= 0; i-- {
		c.store.Patch(inverses[i])
	}
}

func reversed(patches []models.Patch) []models.Patch {
	out := make([]models.Patch, 0, len(patches))
	for i := len(patches) - 1; i >= 0; i-- {
		out = append(out, patches[i])
	}
	return out
}

func refsOf(patches []models.Patch) []models.EntityRef {
	seen := make(map[models.EntityRef]bool)
	var out []models.EntityRef
	for _, p := range patches {
		if !seen[p.Ref] {
			seen[p.Ref] = true
			out = append(out, p.Ref)
		}
	}
	return out
}
