// Package controller is the command and query surface of Domotic Core.
//
// Collaborators (the HTTP API, the CLI) talk to a Controller instead of
// reaching into the registry, schedule store, evaluator and broker session
// separately. It keeps those services consistent with each other, for
// example by dropping a schedule's runtime flags when it is deleted.
//
//	ctrl, err := controller.New(controller.Deps{...})
//	err = ctrl.SetDeviceState(ctx, device.LED1, true)
//
// Thread Safety: All methods are safe for concurrent use.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/domotic-core/internal/audit"
	"github.com/nerrad567/domotic-core/internal/automation"
	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/events"
	"github.com/nerrad567/domotic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/domotic-core/internal/telemetry"
)

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is the broker connection surface. *mqtt.Session satisfies it.
type Session interface {
	Connect() error
	Disconnect()
	State() mqtt.ConnectionState
}

// StateNotifier lets the controller observe connection changes.
// *mqtt.Session satisfies it.
type StateNotifier interface {
	SetOnStateChange(fn mqtt.StateChangeFunc)
}

// Deps holds the services the controller coordinates.
type Deps struct {
	Registry  *device.Registry
	Commander *device.Commander
	Schedules *automation.Store
	Evaluator *automation.Evaluator
	Readings  *telemetry.Tracker
	Session   Session
	Emitter   events.Emitter
	Audit     audit.Repository
	Logger    Logger
}

// Controller implements the collaborator-facing commands and queries.
type Controller struct {
	registry  *device.Registry
	commander *device.Commander
	schedules *automation.Store
	evaluator *automation.Evaluator
	readings  *telemetry.Tracker
	session   Session
	emitter   events.Emitter
	audit     audit.Repository
	logger    Logger
	now       func() time.Time
}

// New creates a controller. Every dependency except Emitter, Audit and
// Logger is required.
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("device registry is required")
	case deps.Commander == nil:
		return nil, errors.New("device commander is required")
	case deps.Schedules == nil:
		return nil, errors.New("schedule store is required")
	case deps.Evaluator == nil:
		return nil, errors.New("schedule evaluator is required")
	case deps.Readings == nil:
		return nil, errors.New("telemetry tracker is required")
	case deps.Session == nil:
		return nil, errors.New("broker session is required")
	}

	c := &Controller{
		registry:  deps.Registry,
		commander: deps.Commander,
		schedules: deps.Schedules,
		evaluator: deps.Evaluator,
		readings:  deps.Readings,
		session:   deps.Session,
		emitter:   deps.Emitter,
		audit:     deps.Audit,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c, nil
}

// ─── Devices ────────────────────────────────────────────────────────────────

// SetDeviceState commands one device. The command is dropped with
// mqtt.ErrNotConnected while the session is not connected.
func (c *Controller) SetDeviceState(ctx context.Context, id device.ID, on bool) error {
	if err := c.commander.SetState(ctx, id, on); err != nil {
		c.logger.Warn("device command failed", "device_id", id, "on", on, "error", err)
		return err
	}
	c.logger.Info("device command sent", "device_id", id, "on", on)
	c.record(ctx, audit.ActionCommand, audit.EntityDevice, string(id), map[string]any{"on": on})
	return nil
}

// SetAllDevices commands every device. Failures are joined.
func (c *Controller) SetAllDevices(ctx context.Context, on bool) error {
	if err := c.commander.SetAll(ctx, on); err != nil {
		c.logger.Warn("command to all devices failed", "on", on, "error", err)
		return err
	}
	c.logger.Info("command sent to all devices", "on", on)
	c.record(ctx, audit.ActionCommand, audit.EntityDevice, string(automation.TargetAll), map[string]any{"on": on})
	return nil
}

// Devices returns every device with its current state, in catalog order.
func (c *Controller) Devices() []device.Status {
	return c.registry.List()
}

// Device returns one device with its current state.
func (c *Controller) Device(id device.ID) (device.Status, error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return device.Status{}, err
	}
	d, _ := c.registry.Catalog().Get(id)
	return device.Status{Device: d, State: s}, nil
}

// ─── Telemetry ──────────────────────────────────────────────────────────────

// LastReading returns the last telemetry reading, if any.
func (c *Controller) LastReading() (telemetry.Reading, bool) {
	return c.readings.Last()
}

// ─── Schedules ──────────────────────────────────────────────────────────────

// Schedules returns every schedule in order.
func (c *Controller) Schedules() []automation.Schedule {
	return c.schedules.List()
}

// Schedule returns one schedule.
func (c *Controller) Schedule(id string) (automation.Schedule, error) {
	return c.schedules.Get(id)
}

// CreateSchedule stores a new schedule. A window already open is not
// applied retroactively; it fires from its next start minute.
func (c *Controller) CreateSchedule(ctx context.Context, s automation.Schedule) (automation.Schedule, error) {
	created, err := c.schedules.Create(ctx, s)
	if err != nil && !stored(err) {
		return automation.Schedule{}, err
	}
	c.record(ctx, audit.ActionCreate, audit.EntitySchedule, created.ID, scheduleDetails(created))
	return created, err
}

// UpdateSchedule replaces a schedule and re-derives its runtime flags.
func (c *Controller) UpdateSchedule(ctx context.Context, s automation.Schedule) (automation.Schedule, error) {
	updated, err := c.schedules.Update(ctx, s)
	if err != nil && !stored(err) {
		return automation.Schedule{}, err
	}
	c.evaluator.Refresh(updated.ID, c.now())
	c.record(ctx, audit.ActionUpdate, audit.EntitySchedule, updated.ID, scheduleDetails(updated))
	return updated, err
}

// DeleteSchedule removes a schedule and forgets its runtime flags.
func (c *Controller) DeleteSchedule(ctx context.Context, id string) error {
	err := c.schedules.Delete(ctx, id)
	if err != nil && !stored(err) {
		return err
	}
	c.evaluator.Forget(id)
	c.record(ctx, audit.ActionDelete, audit.EntitySchedule, id, nil)
	return err
}

// ActiveDevices returns the devices a schedule currently holds in its window.
func (c *Controller) ActiveDevices(id string) []device.ID {
	return c.evaluator.Active(id)
}

// SetScheduleEnabled enables or disables a schedule. Runtime flags are
// kept, so re-enabling inside an open window still ends it.
func (c *Controller) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (automation.Schedule, error) {
	updated, err := c.schedules.SetEnabled(ctx, id, enabled)
	if err != nil && !stored(err) {
		return automation.Schedule{}, err
	}
	action := audit.ActionDisable
	if enabled {
		action = audit.ActionEnable
	}
	c.record(ctx, action, audit.EntitySchedule, id, nil)
	return updated, err
}

// stored reports whether err happened after the in-memory change was made,
// that is, while persisting it.
func stored(err error) bool {
	return errors.Is(err, automation.ErrNotPersisted)
}

// ─── Connection ─────────────────────────────────────────────────────────────

// Connect starts connecting to the broker. It returns before the outcome
// is known; watch ConnectionState or connection events.
func (c *Controller) Connect() error {
	if err := c.session.Connect(); err != nil {
		return err
	}
	c.record(context.Background(), audit.ActionConnect, audit.EntityConnection, "", nil)
	return nil
}

// Disconnect closes the broker connection and stops reconnecting.
func (c *Controller) Disconnect() {
	c.session.Disconnect()
	c.record(context.Background(), audit.ActionDisconnect, audit.EntityConnection, "", nil)
}

// ConnectionState returns the broker connection state.
func (c *Controller) ConnectionState() mqtt.ConnectionState {
	return c.session.State()
}

// ObserveConnection forwards connection state changes to the emitter as
// connection.state_changed events, and tells the evaluator when the broker
// becomes reachable so it can resume open windows.
func (c *Controller) ObserveConnection(n StateNotifier) {
	n.SetOnStateChange(func(state mqtt.ConnectionState, err error) {
		if state == mqtt.StateConnected {
			c.evaluator.BrokerConnected()
		}

		data := map[string]any{"state": state.String()}
		if err != nil {
			data["error"] = err.Error()
		}
		if c.emitter != nil {
			c.emitter.Emit(events.Event{
				Kind:      events.KindConnectionChanged,
				Timestamp: c.now(),
				Data:      data,
			})
		}
	})
}

// ─── Activity ───────────────────────────────────────────────────────────────

// auditSource tags every entry written by the controller: commands issued
// by a collaborator, as opposed to the schedule evaluator.
const auditSource = "user"

// auditTimeout bounds one audit insert.
const auditTimeout = 2 * time.Second

// Activity returns recorded commands and schedule edits, newest first.
// Without an audit repository the result is always empty.
func (c *Controller) Activity(ctx context.Context, filter audit.Filter) (*audit.ListResult, error) {
	if c.audit == nil {
		return &audit.ListResult{Entries: []audit.Entry{}, Limit: filter.Limit, Offset: filter.Offset}, nil
	}
	return c.audit.List(ctx, filter)
}

// record writes an audit entry. Failures are logged, never returned.
func (c *Controller) record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if c.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := c.audit.Record(ctx, &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     auditSource,
		Details:    details,
		CreatedAt:  c.now(),
	})
	if err != nil {
		c.logger.Warn("recording audit entry failed", "action", action, "entity_type", entityType, "error", err)
	}
}

func scheduleDetails(s automation.Schedule) map[string]any {
	return map[string]any{
		"target":  string(s.Target),
		"window":  s.Window(),
		"action":  string(s.Action),
		"enabled": s.Enabled,
	}
}
