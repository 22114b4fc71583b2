// Package kitchen keeps a branch's kitchen display consistent with the order
// store from a snapshot plus the branch event stream.
package kitchen

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/common/observability"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/models"
)

var errStreamClosed = errors.New("event stream closed")

// OrderSource is the order store as seen by a display.
type OrderSource interface {
	ActiveOrders(ctx context.Context, branchID string) ([]models.Order, error)
	Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error)
}

// Feed is the branch event stream.
type Feed interface {
	Subscribe(ctx context.Context, branchID string) (*events.Subscription, error)
	Publish(ctx context.Context, event models.Event) error
}

type Options struct {
	LateAfter       time.Duration
	RefreshInterval time.Duration
	ReconnectDelay  time.Duration
	AlertsEnabled   bool
	Now             func() time.Time
	Obs             *observability.Observability
}

// Ticket is one order card on the board.
type Ticket struct {
	Order          models.Order `json:"order"`
	ElapsedMinutes int          `json:"elapsed_minutes"`
	Late           bool         `json:"late"`
}

// Board is the rendered state of a display. Columns are oldest first.
type Board struct {
	BranchID      string    `json:"branch_id"`
	New           []Ticket  `json:"new"`
	Preparing     []Ticket  `json:"preparing"`
	Ready         []Ticket  `json:"ready"`
	AlertsEnabled bool      `json:"alerts_enabled"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Display is the state of one kitchen session. Run owns the event loop;
// Advance and the accessors may be called from other goroutines.
type Display struct {
	branchID string
	source   OrderSource
	feed     Feed
	opts     Options
	logger   logger.Logger

	mu       sync.Mutex
	orders   map[string]models.Order
	alerts   bool
	onChange func(Board)
	onAlert  func(models.Order)
}

func NewDisplay(branchID string, source OrderSource, feed Feed, opts Options, log logger.Logger) *Display {
	if opts.LateAfter <= 0 {
		opts.LateAfter = 15 * time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Display{
		branchID: branchID,
		source:   source,
		feed:     feed,
		opts:     opts,
		logger:   logger.ForComponent(log, "kitchen-display").WithFields(map[string]interface{}{"branchId": branchID}),
		orders:   make(map[string]models.Order),
		alerts:   opts.AlertsEnabled,
	}
}

func (d *Display) BranchID() string {
	return d.branchID
}

// OnChange registers the board listener. It is called after every change,
// outside the display lock.
func (d *Display) OnChange(fn func(Board)) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// OnAlert registers the new-order alert listener.
func (d *Display) OnAlert(fn func(models.Order)) {
	d.mu.Lock()
	d.onAlert = fn
	d.mu.Unlock()
}

func (d *Display) SetAlerts(enabled bool) {
	d.mu.Lock()
	d.alerts = enabled
	d.mu.Unlock()
	d.notify()
}

// Run keeps the display live until ctx is done. A closed or failed stream is
// re-subscribed and the snapshot reloaded.
func (d *Display) Run(ctx context.Context) error {
	metrics.KitchenSessions.Inc()
	defer metrics.KitchenSessions.Dec()

	for {
		err := d.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("kitchen stream interrupted, reconnecting", map[string]interface{}{
			"error": err.Error(),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.opts.ReconnectDelay):
		}
	}
}

func (d *Display) session(ctx context.Context) error {
	// Subscribe before loading so nothing published in between is lost.
	sub, err := d.feed.Subscribe(ctx, d.branchID)
	if err != nil {
		return err
	}
	defer sub.Close()

	if err := d.Reload(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(d.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return errStreamClosed
			}
			d.Apply(event)
		case <-ticker.C:
			if err := d.Reload(ctx); err != nil {
				d.logger.Warn("snapshot refresh failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Reload replaces local state with the store's active orders.
func (d *Display) Reload(ctx context.Context) error {
	active, err := d.source.ActiveOrders(ctx, d.branchID)
	if err != nil {
		return err
	}

	next := make(map[string]models.Order, len(active))
	for _, o := range active {
		if o.BranchID == d.branchID && o.Active() {
			next[o.ID] = o
		}
	}

	d.mu.Lock()
	d.orders = next
	d.mu.Unlock()

	d.notify()
	return nil
}

// Apply folds one event into the board and reports whether it changed.
// Duplicates, foreign branches and stale updates are ignored.
func (d *Display) Apply(event models.Event) bool {
	o := event.Order
	if o.BranchID != d.branchID {
		return false
	}

	d.mu.Lock()
	existing, present := d.orders[o.ID]
	changed := false
	alert := false

	switch event.Type {
	case models.EventCreated:
		if !present && o.Active() {
			d.orders[o.ID] = o
			changed = true
			alert = d.alerts
		}
	case models.EventUpdated:
		switch {
		case !o.Active():
			if present {
				delete(d.orders, o.ID)
				changed = true
			}
		case !present:
			d.orders[o.ID] = o
			changed = true
		case existing.OrderStatus.Rank() > o.OrderStatus.Rank():
			// stale update arriving after a newer one
		case existing.OrderStatus == o.OrderStatus && existing.PaymentStatus != models.PaymentPending &&
			o.PaymentStatus == models.PaymentPending:
			// payment settles once; a pending copy is older
		case existing.OrderStatus != o.OrderStatus || existing.PaymentStatus != o.PaymentStatus:
			if o.PaymentStatus == models.PaymentPending {
				o.PaymentStatus = existing.PaymentStatus
			}
			d.orders[o.ID] = o
			changed = true
		}
	}
	onAlert := d.onAlert
	d.mu.Unlock()

	if event.Type == models.EventCreated && changed {
		d.opts.Obs.RecordKitchenLag(context.Background(), d.opts.Now().Sub(o.CreatedAt), d.branchID)
	}
	if alert && onAlert != nil {
		onAlert(o)
	}
	if changed {
		d.notify()
	}
	return changed
}

// Advance moves an order one column forward. The board updates immediately;
// if the store rejects the move the snapshot is reloaded and the error returned.
func (d *Display) Advance(ctx context.Context, id string) (*models.Order, error) {
	d.mu.Lock()
	current, ok := d.orders[id]
	if !ok {
		d.mu.Unlock()
		return nil, apperrors.NewOrderNotFoundError(id)
	}
	target, ok := current.OrderStatus.Next()
	if !ok {
		d.mu.Unlock()
		return nil, apperrors.NewInvalidStatusTransitionError(id, string(current.OrderStatus), "")
	}
	optimistic := current
	optimistic.OrderStatus = target
	if optimistic.Active() {
		d.orders[id] = optimistic
	} else {
		delete(d.orders, id)
	}
	d.mu.Unlock()
	d.notify()

	order, changed, err := d.source.Advance(ctx, id, target)
	if err != nil {
		d.logger.Warn("advance failed, reconciling", map[string]interface{}{
			"orderId": id,
			"target":  string(target),
			"error":   err.Error(),
		})
		if reloadErr := d.Reload(ctx); reloadErr != nil {
			d.logger.Error("reconcile reload failed", map[string]interface{}{
				"error": reloadErr.Error(),
			})
		}
		return nil, err
	}

	if changed {
		if err := d.feed.Publish(ctx, models.NewEvent(models.EventUpdated, *order)); err != nil {
			d.logger.Warn("failed to publish status change", map[string]interface{}{
				"orderId": id,
				"error":   err.Error(),
			})
		}
	}

	d.mu.Lock()
	if order.Active() {
		d.orders[id] = *order
	} else {
		delete(d.orders, id)
	}
	d.mu.Unlock()
	d.notify()

	return order, nil
}

// Board renders the current state.
func (d *Display) Board() Board {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.boardLocked()
}

func (d *Display) boardLocked() Board {
	now := d.opts.Now()
	b := Board{
		BranchID:      d.branchID,
		New:           []Ticket{},
		Preparing:     []Ticket{},
		Ready:         []Ticket{},
		AlertsEnabled: d.alerts,
		GeneratedAt:   now.UTC(),
	}

	for _, o := range d.orders {
		elapsed := now.Sub(o.CreatedAt)
		t := Ticket{
			Order:          o,
			ElapsedMinutes: int(elapsed.Minutes()),
			Late:           elapsed > d.opts.LateAfter && o.OrderStatus != models.StatusReady,
		}
		switch o.OrderStatus {
		case models.StatusNew:
			b.New = append(b.New, t)
		case models.StatusPreparing:
			b.Preparing = append(b.Preparing, t)
		case models.StatusReady:
			b.Ready = append(b.Ready, t)
		}
	}

	for _, col := range [][]Ticket{b.New, b.Preparing, b.Ready} {
		sortOldestFirst(col)
	}
	return b
}

func (d *Display) notify() {
	d.mu.Lock()
	fn := d.onChange
	var b Board
	if fn != nil {
		b = d.boardLocked()
	}
	d.mu.Unlock()

	if fn != nil {
		fn(b)
	}
}

func sortOldestFirst(tickets []Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].Order, tickets[j].Order
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
