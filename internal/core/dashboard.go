// Package core wires the entity store, the feed adapter, the mutation
// coordinator and the connection manager behind one event loop.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/channel"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/store"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/view"
)

// Config tunes the dashboard
type Config struct {
	FeedURL       string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	Mutation      mutation.Config
}

// Deps are the collaborators a dashboard cannot run without
type Deps struct {
	Source    Source
	Backend   mutation.Backend
	Transport connection.Transport
	Log       logging.Logger
}

func (d Deps) Validate() error {
	var missing []string
	if d.Source == nil {
		missing = append(missing, "source")
	}
	if d.Backend == nil {
		missing = append(missing, "backend")
	}
	if d.Transport == nil {
		missing = append(missing, "transport")
	}
	if d.Log == nil {
		missing = append(missing, "logger")
	}
	if len(missing) > 0 {
		return fmt.Errorf("dashboard: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Snapshot is a consistent view of everything the presentation renders
type Snapshot struct {
	Drivers            []models.Driver    `json:"drivers"`
	Deliveries         []models.Delivery  `json:"deliveries"`
	Load               store.LoadState    `json:"load"`
	Connection         connection.Info    `json:"connection"`
	MutationInProgress bool               `json:"mutationInProgress"`
	Busy               []models.EntityRef `json:"busy"`
	Selected           *view.Selected     `json:"selected,omitempty"`
}

// Stats are diagnostic counters
type Stats struct {
	Feed             channel.Stats    `json:"feed"`
	PendingMutations int              `json:"pendingMutations"`
	Connection       connection.State `json:"connection"`
}

// Dashboard is one dispatcher session over the fleet
type Dashboard struct {
	loop       *Loop
	store      *store.Store
	adapter    *channel.Adapter
	coord      *mutation.Coordinator
	dispatcher *mutation.Dispatcher
	conn       *connection.Manager
	selection  view.Selection
	source     Source
	log        logging.Logger
	now        func() time.Time

	mu            sync.RWMutex
	notifiers     []mutation.Notifier
	connListeners []func(connection.Info)
}

func New(deps Deps, cfg Config) (*Dashboard, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}

	d := &Dashboard{
		loop:   NewLoop(deps.Log),
		store:  store.New(),
		source: deps.Source,
		log:    deps.Log,
		now:    time.Now,
	}
	d.adapter = channel.NewAdapter(d.store, deps.Log)
	d.coord = mutation.NewCoordinator(d.store, mutation.SchedulerFunc(d.loop.Go), d, deps.Log, cfg.Mutation)
	d.dispatcher = mutation.NewDispatcher(d.coord, d.store, deps.Backend)
	d.conn = connection.NewManager(deps.Transport, d.receive, deps.Log, connection.Config{
		URL:           cfg.FeedURL,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
	})
	d.conn.OnStateChange(d.connectionChanged)
	return d, nil
}

// Run processes turns until ctx ends, then closes the feed
func (d *Dashboard) Run(ctx context.Context) error {
	defer d.conn.Disconnect()
	return d.loop.Run(ctx)
}

// receive hands a feed message to the adapter as its own turn
func (d *Dashboard) receive(data []byte) {
	d.loop.Go(func() {
		d.adapter.Handle(data)
	})
}

// Load fetches the fleet from the source and replaces the store contents.
// A failed fetch sets the store-wide error and keeps current entities.
func (d *Dashboard) Load(ctx context.Context) error {
	var busy bool
	if err := d.loop.Do(ctx, func() {
		if busy = d.coord.InFlight(); !busy {
			d.store.SetLoading(true)
		}
	}); err != nil {
		return err
	}
	if busy {
		return errReloadBusy()
	}

	drivers, err := d.source.ListDrivers(ctx)
	var deliveries []models.Delivery
	if err == nil {
		deliveries, err = d.source.ListDeliveries(ctx)
	}
	if err != nil {
		err = fmt.Errorf("load fleet: %w", err)
		d.log.Errorf("❌ [LOAD] %v", err)
		d.loop.Go(func() { d.store.SetLoadError(err) })
		return err
	}

	// a mutation may have started while the fetch ran
	if err := d.loop.Do(ctx, func() {
		defer d.store.SetLoading(false)
		if busy = d.coord.InFlight(); busy {
			return
		}
		d.store.ReplaceDrivers(drivers)
		d.store.ReplaceDeliveries(deliveries)
	}); err != nil {
		d.loop.Go(func() { d.store.SetLoading(false) })
		return err
	}
	if busy {
		d.log.Errorf("⚠️ [LOAD] discarded, a change started while fetching")
		return errReloadBusy()
	}
	d.log.Infof("✅ [LOAD] %d drivers, %d deliveries", len(drivers), len(deliveries))
	return nil
}

func errReloadBusy() error {
	return &mutation.ValidationError{Message: "cannot reload while a change is pending", Err: mutation.ErrEntityBusy}
}

// Reader gives read-only access to the store
func (d *Dashboard) Reader() view.Reader {
	return d.store
}

// Subscribe registers fn for every store change; see store.Subscribe
func (d *Dashboard) Subscribe(fn func(store.Change)) {
	d.store.Subscribe(fn)
}

// Snapshot returns the full state as of one turn
func (d *Dashboard) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := d.SnapshotThen(ctx, func(s Snapshot) { snap = s })
	return snap, err
}

// SnapshotThen calls fn with the snapshot inside the same turn, so a
// subscriber registered by fn misses no store change made after it.
func (d *Dashboard) SnapshotThen(ctx context.Context, fn func(Snapshot)) error {
	return d.loop.Do(ctx, func() {
		snap := Snapshot{
			Drivers:            d.store.Drivers(),
			Deliveries:         d.store.Deliveries(),
			Load:               d.store.LoadState(),
			Connection:         d.conn.Info(),
			MutationInProgress: d.coord.InFlight(),
			Busy:               d.coord.BusyEntities(),
		}
		if sel, ok := view.SelectedEntity(d.store, &d.selection); ok {
			snap.Selected = &sel
		}
		fn(snap)
	})
}

// MutationInProgress reports whether any dispatcher change is unresolved
func (d *Dashboard) MutationInProgress() bool {
	return d.coord.InFlight()
}

// Busy reports whether ref has an unresolved change
func (d *Dashboard) Busy(ref models.EntityRef) bool {
	return d.coord.Busy(ref)
}

func (d *Dashboard) Select(ref models.EntityRef) {
	d.selection.Select(ref)
}

func (d *Dashboard) Deselect() {
	d.selection.Deselect()
}

func (d *Dashboard) ToggleSelection(ref models.EntityRef) {
	d.selection.Toggle(ref)
}

// Selected resolves the current selection against the store
func (d *Dashboard) Selected() (view.Selected, bool) {
	return view.SelectedEntity(d.store, &d.selection)
}

// ReassignDelivery starts an optimistic reassignment
func (d *Dashboard) ReassignDelivery(ctx context.Context, deliveryID, driverID string) (*mutation.Ticket, error) {
	return onLoop(ctx, d.loop, func() (*mutation.Ticket, error) {
		return d.dispatcher.ReassignDelivery(ctx, deliveryID, driverID)
	})
}

// CompleteDelivery starts an optimistic completion
func (d *Dashboard) CompleteDelivery(ctx context.Context, deliveryID string) (*mutation.Ticket, error) {
	return onLoop(ctx, d.loop, func() (*mutation.Ticket, error) {
		return d.dispatcher.CompleteDelivery(ctx, deliveryID)
	})
}

// TogglePause starts an optimistic pause or resume
func (d *Dashboard) TogglePause(ctx context.Context, driverID string) (*mutation.Ticket, error) {
	return onLoop(ctx, d.loop, func() (*mutation.Ticket, error) {
		return d.dispatcher.TogglePause(ctx, driverID)
	})
}

// UpdateDriverLocation moves a driver on the map, stamping the update time
func (d *Dashboard) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error {
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return &mutation.ValidationError{Message: fmt.Sprintf("location %.6f,%.6f is out of range", loc.Lat, loc.Lng)}
	}
	_, err := onLoop(ctx, d.loop, func() (struct{}, error) {
		now := d.now()
		patch := models.DriverUpdate(driverID, models.DriverPatch{Location: &loc, LastUpdated: &now})
		if _, ok := d.store.Patch(patch); !ok {
			return struct{}{}, &mutation.NotFoundError{Ref: models.DriverRef(driverID)}
		}
		return struct{}{}, nil
	})
	return err
}

// Connect opens the feed; an empty url reuses the configured one
func (d *Dashboard) Connect(url string) error {
	return d.conn.Connect(url)
}

// Disconnect closes the feed. Entities already received are kept.
func (d *Dashboard) Disconnect() {
	d.conn.Disconnect()
}

func (d *Dashboard) Connection() connection.Info {
	return d.conn.Info()
}

// OnConnectionChange registers fn to run after every feed state change
func (d *Dashboard) OnConnectionChange(fn func(connection.Info)) {
	d.mu.Lock()
	d.connListeners = append(d.connListeners, fn)
	d.mu.Unlock()
}

func (d *Dashboard) connectionChanged(state connection.State, err error) {
	if err != nil {
		d.log.Errorf("[FEED] %s: %v", state, err)
	} else {
		d.log.Infof("[FEED] %s", state)
	}
	info := d.conn.Info()
	info.State = state
	d.mu.RLock()
	listeners := d.connListeners
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(info)
	}
}

// OnOutcome registers fn to run when a mutation commits or rolls back
func (d *Dashboard) OnOutcome(fn func(mutation.Outcome)) {
	d.coord.OnOutcome(fn)
}

// OnStart registers fn to run when a mutation becomes pending
func (d *Dashboard) OnStart(fn func(mutation.Started)) {
	d.coord.OnStart(fn)
}

// AddNotifier adds a receiver of user-facing notifications
func (d *Dashboard) AddNotifier(n mutation.Notifier) {
	d.mu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.mu.Unlock()
}

// Notify fans a notification out to every registered notifier
func (d *Dashboard) Notify(message string, kind models.NotificationKind) {
	d.mu.RLock()
	notifiers := d.notifiers
	d.mu.RUnlock()
	for _, n := range notifiers {
		n.Notify(message, kind)
	}
}

func (d *Dashboard) Stats() Stats {
	return Stats{
		Feed:             d.adapter.Stats(),
		PendingMutations: d.coord.Pending(),
		Connection:       d.conn.State(),
	}
}

// onLoop runs fn as a turn and returns its results. A ctx error means fn never ran.
func onLoop[T any](ctx context.Context, l *Loop, fn func() (T, error)) (T, error) {
	var (
		res T
		err error
	)
	if lerr := l.Do(ctx, func() { res, err = fn() }); lerr != nil {
		var zero T
		return zero, lerr
	}
	return res, err
}
