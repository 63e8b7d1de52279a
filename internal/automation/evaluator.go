package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/events"
)

// Commander issues device commands. *device.Commander satisfies it.
type Commander interface {
	SetState(ctx context.Context, id device.ID, on bool) error
}

// ScheduleSource supplies the ordered schedule list. *Store satisfies it.
type ScheduleSource interface {
	List() []Schedule
}

// Clock abstracts wall-clock time for the evaluation loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock replaces the system clock.
func WithClock(c Clock) EvaluatorOption {
	return func(e *Evaluator) { e.clock = c }
}

// WithLocation sets the time zone schedules are expressed in.
func WithLocation(loc *time.Location) EvaluatorOption {
	return func(e *Evaluator) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithReapplyOnResume makes Resume re-issue the start action of windows
// that are already open, not only arm their end transition.
func WithReapplyOnResume(reapply bool) EvaluatorOption {
	return func(e *Evaluator) { e.reapply = reapply }
}

// WithResumeOnStart controls whether windows that are already open are
// armed once the broker is first reachable after Start. Enabled by default.
func WithResumeOnStart(resume bool) EvaluatorOption {
	return func(e *Evaluator) { e.resume = resume }
}

// flagKey identifies one runtime flag: a schedule applied to one device.
type flagKey struct {
	schedule string
	device   device.ID
}

// Evaluator applies schedules once per wall-clock minute.
//
// A runtime flag per (schedule, device) records that the start action was
// applied and the end transition is due. The flag, not the timer, makes
// repeated ticks within the same minute harmless. Flags live in memory
// only; Resume rebuilds them from the clock at start-up.
//
// Tick, Resume, Refresh and Forget are serialised by one mutex. Commands
// are issued while it is held; Commander must not block on the network.
type Evaluator struct {
	schedules ScheduleSource
	catalog   *device.Catalog
	commands  Commander
	emitter   events.Emitter
	clock     Clock
	loc       *time.Location
	reapply   bool
	resume    bool
	logger    Logger

	mu       sync.Mutex
	flags    map[flagKey]struct{}
	reported map[string]struct{} // invalid schedules already logged

	runMu         sync.Mutex
	runCtx        context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	resumePending bool
}

// NewEvaluator creates a stopped evaluator with no flags set.
func NewEvaluator(schedules ScheduleSource, catalog *device.Catalog, commands Commander, emitter events.Emitter, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		schedules: schedules,
		catalog:   catalog,
		commands:  commands,
		emitter:   emitter,
		clock:     systemClock{},
		loc:       time.Local,
		resume:    true,
		logger:    noopLogger{},
		flags:     make(map[flagKey]struct{}),
		reported:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.logger = logger
}

// Tick evaluates every schedule for the minute containing at.
func (e *Evaluator) Tick(ctx context.Context, at time.Time) {
	at = at.In(e.loc)
	now := MinuteOf(at)

	e.mu.Lock()
	var out []events.Event
	for _, s := range e.schedules.List() {
		out = append(out, e.evaluateLocked(ctx, s, now, at)...)
	}
	e.mu.Unlock()

	e.emit(out)
}

// evaluateLocked applies one schedule at minute now.
func (e *Evaluator) evaluateLocked(ctx context.Context, s Schedule, now MinuteOfDay, at time.Time) []events.Event {
	if !s.Enabled || s.Empty() {
		return nil
	}
	targets, ok := e.resolveLocked(s)
	if !ok {
		return nil
	}

	var out []events.Event

	switch now {
	case s.Start:
		var fired []device.ID
		for _, id := range targets {
			key := flagKey{schedule: s.ID, device: id}
			if _, set := e.flags[key]; set {
				continue
			}
			if err := e.commands.SetState(ctx, id, s.Action.On()); err != nil {
				out = append(out, e.commandFailed(s, id, s.Action, err, at))
				continue
			}
			e.flags[key] = struct{}{}
			fired = append(fired, id)
		}
		if len(fired) > 0 {
			e.logger.Info("schedule fired", "schedule_id", s.ID, "devices", fired, "action", s.Action)
			out = append(out, scheduleEvent(events.KindScheduleFired, s, fired, at,
				"Début de la plage horaire",
				fmt.Sprintf("Plage horaire de %s, Action %s", s.Window(), s.Action)))
		}

	case s.End:
		var ended []device.ID
		for _, id := range targets {
			key := flagKey{schedule: s.ID, device: id}
			if _, set := e.flags[key]; !set {
				continue
			}
			// The window is over whether or not the command got through.
			delete(e.flags, key)
			if err := e.commands.SetState(ctx, id, false); err != nil {
				out = append(out, e.commandFailed(s, id, ActionOff, err, at))
				continue
			}
			ended = append(ended, id)
		}
		if len(ended) > 0 {
			e.logger.Info("schedule ended", "schedule_id", s.ID, "devices", ended)
			out = append(out, scheduleEvent(events.KindScheduleEnded, s, ended, at,
				"Fin de la plage horaire",
				fmt.Sprintf("Fin de la plage horaire de %s, remis à l'état initial.", s.Window())))
		}
	}

	return out
}

// resolveLocked returns the target devices of s, or false if s is invalid.
// Each invalid schedule is reported once until it is refreshed or forgotten.
func (e *Evaluator) resolveLocked(s Schedule) ([]device.ID, bool) {
	if err := ValidateSchedule(s, e.catalog); err != nil {
		if _, done := e.reported[s.ID]; !done {
			e.reported[s.ID] = struct{}{}
			e.logger.Warn("skipping invalid schedule", "schedule_id", s.ID, "error", err)
		}
		return nil, false
	}
	targets, _ := s.Target.Devices(e.catalog)
	return targets, true
}

// Resume arms the end transition of every enabled window that contains
// at, except windows opening at this very minute, which Tick handles.
// With reapply set the start action is issued again. It returns the
// number of schedules resumed.
func (e *Evaluator) Resume(ctx context.Context, at time.Time) int {
	at = at.In(e.loc)
	now := MinuteOf(at)

	e.mu.Lock()
	var out []events.Event
	for _, s := range e.schedules.List() {
		if ev, ok := e.resumeLocked(ctx, s, now, at); ok {
			out = append(out, ev)
		}
	}
	e.mu.Unlock()

	e.emit(out)
	return len(out)
}

func (e *Evaluator) resumeLocked(ctx context.Context, s Schedule, now MinuteOfDay, at time.Time) (events.Event, bool) {
	if !s.Enabled || !s.Contains(now) || s.Start == now {
		return events.Event{}, false
	}
	targets, ok := e.resolveLocked(s)
	if !ok {
		return events.Event{}, false
	}

	var resumed []device.ID
	for _, id := range targets {
		key := flagKey{schedule: s.ID, device: id}
		if _, set := e.flags[key]; set {
			continue
		}
		if e.reapply {
			if err := e.commands.SetState(ctx, id, s.Action.On()); err != nil {
				e.logger.Warn("re-applying schedule action failed", "schedule_id", s.ID, "device_id", id, "error", err)
			}
		}
		e.flags[key] = struct{}{}
		resumed = append(resumed, id)
	}
	if len(resumed) == 0 {
		return events.Event{}, false
	}

	e.logger.Info("schedule window resumed", "schedule_id", s.ID, "devices", resumed, "reapplied", e.reapply)
	return scheduleEvent(events.KindScheduleResumed, s, resumed, at,
		"Plage horaire en cours",
		fmt.Sprintf("Plage horaire de %s en cours, Action %s", s.Window(), s.Action)), true
}

// Refresh drops the flags of a schedule after it was edited and re-arms
// them without issuing commands if the edited window contains at.
func (e *Evaluator) Refresh(id string, at time.Time) {
	at = at.In(e.loc)
	now := MinuteOf(at)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.forgetLocked(id)
	for _, s := range e.schedules.List() {
		if s.ID != id {
			continue
		}
		if !s.Enabled || !s.Contains(now) || s.Start == now {
			return
		}
		targets, ok := e.resolveLocked(s)
		if !ok {
			return
		}
		for _, d := range targets {
			e.flags[flagKey{schedule: id, device: d}] = struct{}{}
		}
		return
	}
}

// Forget drops every flag of a schedule, for example after it was deleted.
func (e *Evaluator) Forget(id string) {
	e.mu.Lock()
	e.forgetLocked(id)
	e.mu.Unlock()
}

func (e *Evaluator) forgetLocked(id string) {
	for key := range e.flags {
		if key.schedule == id {
			delete(e.flags, key)
		}
	}
	delete(e.reported, id)
}

// Active returns the devices whose flag is set for a schedule, in catalog order.
func (e *Evaluator) Active(id string) []device.ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []device.ID
	for _, d := range e.catalog.IDs() {
		if _, ok := e.flags[flagKey{schedule: id, device: d}]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Start ticks at second zero of every following minute until Stop or ctx
// is done. The first tick is at the next minute boundary.
//
// Open windows are not resumed here: commands issued before the broker
// session is up are dropped. BrokerConnected does it instead, so Start
// should run before the session connects.
func (e *Evaluator) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return ErrEvaluatorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.runCtx = ctx
	e.cancel = cancel
	e.done = done
	e.resumePending = e.resume
	go e.run(ctx, done)

	e.logger.Info("schedule evaluator started", "location", e.loc.String())
	return nil
}

// BrokerConnected resumes open windows the first time the broker session
// is connected after Start. Later reconnects, and calls while stopped, do
// nothing. It reports whether a resume ran.
func (e *Evaluator) BrokerConnected() bool {
	e.runMu.Lock()
	ctx, pending := e.runCtx, e.resumePending
	e.resumePending = false
	e.runMu.Unlock()

	if !pending || ctx == nil {
		return false
	}
	if n := e.Resume(ctx, e.clock.Now()); n > 0 {
		e.logger.Info("open schedule windows resumed", "count", n)
	}
	return true
}

// Stop cancels the pending timer and waits for the loop to exit.
// Runtime flags are kept, so a later Start in the same day continues.
func (e *Evaluator) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
	e.runCtx = nil
	e.resumePending = false

	e.logger.Info("schedule evaluator stopped")
}

func (e *Evaluator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := untilNextMinute(e.clock.Now())
		select {
		case <-ctx.Done():
			return
		case at := <-e.clock.After(wait):
			e.Tick(ctx, at)
		}
	}
}

// untilNextMinute returns the time left until second zero of the next minute.
func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

func (e *Evaluator) commandFailed(s Schedule, id device.ID, action Action, err error, at time.Time) events.Event {
	e.logger.Warn("schedule command failed", "schedule_id", s.ID, "device_id", id, "action", action, "error", err)
	return events.Event{
		Kind:      events.KindScheduleCommandFailed,
		Timestamp: at,
		Data: map[string]any{
			"schedule_id": s.ID,
			"device_id":   string(id),
			"action":      string(action),
			"error":       err.Error(),
		},
	}
}

func (e *Evaluator) emit(out []events.Event) {
	if e.emitter == nil {
		return
	}
	for _, ev := range out {
		e.emitter.Emit(ev)
	}
}

func scheduleEvent(kind events.Kind, s Schedule, devices []device.ID, at time.Time, title, body string) events.Event {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = string(d)
	}
	return events.Event{
		Kind:      kind,
		Timestamp: at,
		Title:     title,
		Body:      body,
		Data: map[string]any{
			"schedule_id": s.ID,
			"target":      string(s.Target),
			"devices":     ids,
			"start":       s.Start.String(),
			"end":         s.End.String(),
			"action":      string(s.Action),
		},
	}
}
