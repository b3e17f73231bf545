package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ActionHandler runs one plugin action.
type ActionHandler interface {
	Invoke(ctx context.Context, data any, ac *Context) error
}

// ActionFunc adapts a function to ActionHandler.
type ActionFunc func(ctx context.Context, data any, ac *Context) error

// Invoke calls f.
func (f ActionFunc) Invoke(ctx context.Context, data any, ac *Context) error {
	return f(ctx, data, ac)
}

// ActionResolver finds the handler for plugin.action.
type ActionResolver interface {
	Action(plugin, action string) (ActionHandler, bool)
}

// Lookup finds named automations.
type Lookup interface {
	Get(name string) (*Automation, error)
}

// WSHub is the interface for broadcasting run events to observers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Queue defaults and limits.
const (
	// DefaultSyncGap is the pause between consecutive sync automations.
	DefaultSyncGap = 30 * time.Millisecond

	// maxDepth bounds nested sub-automations.
	maxDepth = 16

	// recordTimeout bounds a single run-log write.
	recordTimeout = 5 * time.Second

	// ChannelRunFinished is the hub channel run results are broadcast on.
	ChannelRunFinished = "automation.finished"
)

// QueueConfig holds the collaborators of a Queue.
type QueueConfig struct {
	// Actions resolves plugin action handlers. Required.
	Actions ActionResolver

	// Automations resolves named automations. Required for Start and
	// the core.automation action.
	Automations Lookup

	// Env supplies plugin helpers and live state to contexts (may be nil).
	Env EnvSource

	// Recorder persists run records (may be nil).
	Recorder RunRecorder

	// Hub receives a run record each time a run finishes (may be nil).
	Hub WSHub

	// SyncGap is the pause between consecutive sync automations.
	SyncGap time.Duration

	Logger Logger
}

// entry is one automation awaiting or undergoing execution.
type entry struct {
	automation *Automation
	ac         *Context
	run        *Run
}

// Queue is the execution engine for automations.
//
// Sync automations are appended to a FIFO consumed by a single worker
// goroutine, so at most one runs at a time and they start in arrival
// order. Async automations each get their own goroutine. The FIFO lock is
// held only while pushing or popping, never while an automation runs.
//
// Plugin action handlers start on their own goroutine and are not waited
// for, so a slow handler never shifts later actions off their timestamps.
// Their failures are logged and the automation continues. The built-in
// actions are waited for and their failures abort the rest of the
// automation. A run is recorded as finished once its handlers return.
//
// Thread Safety: all methods are safe for concurrent use.
type Queue struct {
	actions     ActionResolver
	automations Lookup
	env         EnvSource
	recorder    RunRecorder
	hub         WSHub
	syncGap     time.Duration
	logger      Logger

	mu       sync.Mutex
	fifo     []entry
	draining bool
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a queue. Close it to stop accepting work.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.SyncGap < 0 {
		cfg.SyncGap = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		actions:     cfg.Actions,
		automations: cfg.Automations,
		env:         cfg.Env,
		recorder:    cfg.Recorder,
		hub:         cfg.Hub,
		syncGap:     cfg.SyncGap,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewContext builds a complete context from caller values.
func (q *Queue) NewContext(values map[string]any) *Context {
	return NewContext(values, q.env)
}

// Start resolves ref and pushes the automation.
//
// Returns:
//   - string: the run ID
//   - error: ErrNotFound for an unknown name, or any Push error
func (q *Queue) Start(ref Ref, ac *Context, source string) (string, error) {
	switch {
	case ref.Inline != nil:
		return q.Push(ref.Inline, ac, source)
	case ref.Name != "":
		if q.automations == nil {
			return "", fmt.Errorf("%w: %q", ErrNotFound, ref.Name)
		}
		a, err := q.automations.Get(ref.Name)
		if err != nil {
			q.logger.Warn("missing automation", "automation", ref.Name, "source", source)
			return "", err
		}
		return q.Push(a, ac, source)
	default:
		return "", fmt.Errorf("%w: empty automation reference", ErrInvalidAutomation)
	}
}

// RunActions runs an ad-hoc, async list of actions.
func (q *Queue) RunActions(actions []Action, ac *Context, source string) (string, error) {
	return q.Push(&Automation{Actions: actions}, ac, source)
}

// Push prepares a and schedules it.
//
// A sync automation is appended to the FIFO and the worker is started if
// it is idle. An async automation starts immediately on its own goroutine.
// A nil ac is replaced by an empty complete context.
//
// Returns:
//   - string: the run ID
//   - error: a Prep error, or ErrQueueClosed
func (q *Queue) Push(a *Automation, ac *Context, source string) (string, error) {
	prepared, err := Prep(a)
	if err != nil {
		q.logger.Error("rejecting automation", "source", source, "error", err)
		return "", err
	}
	if ac == nil {
		ac = q.NewContext(nil)
	}

	run := &Run{
		ID:           GenerateID(),
		Automation:   prepared.Name,
		Sync:         prepared.Sync,
		Source:       source,
		Status:       StatusQueued,
		ActionsTotal: len(prepared.Actions),
	}
	e := entry{automation: prepared, ac: ac, run: run}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.wg.Add(1)

	if !prepared.Sync {
		q.mu.Unlock()
		go q.execute(e)
		return run.ID, nil
	}

	q.fifo = append(q.fifo, e)
	startWorker := !q.draining
	q.draining = true
	q.mu.Unlock()

	if startWorker {
		q.logger.Debug("starting sync automation chain")
		go q.drain()
	}
	return run.ID, nil
}

// drain runs FIFO entries one at a time until the FIFO is empty.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.fifo) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		e := q.fifo[0]
		q.fifo[0] = entry{}
		q.fifo = q.fifo[1:]
		q.mu.Unlock()

		q.execute(e)

		if q.syncGap > 0 {
			_ = sleep(q.ctx, q.syncGap) //nolint:errcheck // shutdown drains the remaining entries as cancelled
		}
	}
}

// Pending returns the number of sync automations waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// Wait blocks until every pushed automation has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting automations and waits for in-flight ones.
// When ctx expires first, running automations are cancelled at their next
// delay and ctx's error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// progress tallies one run. Plugin handlers report from their own
// goroutines, so counts change under mu.
type progress struct {
	run      *Run
	mu       sync.Mutex
	handlers sync.WaitGroup
}

func (p *progress) count(update func(r *Run)) {
	p.mu.Lock()
	update(p.run)
	p.mu.Unlock()
}

// execute plays one entry's timeline, then leaves the run to finish once
// its plugin handlers have returned.
func (q *Queue) execute(e entry) {
	run := e.run
	run.StartedAt = time.Now().UTC()
	run.Status = StatusRunning
	q.record(run, true)

	q.logger.Info("automation started",
		"run_id", run.ID,
		"automation", nameOrInline(run.Automation),
		"sync", run.Sync,
		"source", run.Source,
		"actions", run.ActionsTotal,
	)

	p := &progress{run: run}
	runErr := q.runAutomation(q.ctx, e.automation, e.ac, p, 0)
	go q.finish(p, runErr)
}

// finish waits for the run's handlers, then records and broadcasts it.
func (q *Queue) finish(p *progress, runErr error) {
	defer q.wg.Done()
	p.handlers.Wait()

	run := p.run
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	duration := int(completedAt.Sub(run.StartedAt).Milliseconds())
	run.DurationMS = &duration

	switch {
	case runErr != nil && q.ctx.Err() != nil:
		run.Status = StatusCancelled
		run.Error = runErr.Error()
	case runErr != nil:
		run.Status = StatusFailed
		run.Error = runErr.Error()
	case run.ActionsFailed > 0 || run.ActionsSkipped > 0:
		run.Status = StatusPartial
	default:
		run.Status = StatusCompleted
	}
	q.record(run, false)

	q.logger.Info("automation finished",
		"run_id", run.ID,
		"automation", nameOrInline(run.Automation),
		"status", run.Status,
		"completed", run.ActionsCompleted,
		"failed", run.ActionsFailed,
		"skipped", run.ActionsSkipped,
		"duration_ms", duration,
	)

	if q.hub != nil {
		q.hub.Broadcast(ChannelRunFinished, *run)
	}
}

func (q *Queue) record(run *Run, create bool) {
	if q.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	if create {
		err = q.recorder.CreateRun(ctx, run)
	} else {
		err = q.recorder.UpdateRun(ctx, run)
	}
	if err != nil {
		q.logger.Error("failed to record run", "run_id", run.ID, "error", err)
	}
}

// runAutomation starts a's actions in list order.
func (q *Queue) runAutomation(ctx context.Context, a *Automation, ac *Context, p *progress, depth int) error {
	for i, act := range a.Actions {
		if err := q.runAction(ctx, act, ac, p, depth); err != nil {
			p.count(func(r *Run) { r.ActionsSkipped += len(a.Actions) - i - 1 })
			return err
		}
	}
	return nil
}

// runAction waits out BeforeDelay, then runs a built-in to completion or
// starts a plugin handler. Only built-in failures and cancelled delays are
// returned.
func (q *Queue) runAction(ctx context.Context, act Action, ac *Context, p *progress, depth int) error {
	run := p.run
	if act.BeforeDelay > 0 {
		if err := sleep(ctx, act.BeforeDelay); err != nil {
			p.count(func(r *Run) { r.ActionsSkipped++ })
			return fmt.Errorf("waiting before %s: %w", act, err)
		}
	}

	if act.IsBuiltin() {
		if err := q.runBuiltin(ctx, act, ac, p, depth); err != nil {
			p.count(func(r *Run) { r.ActionsFailed++ })
			q.logger.Error("built-in action failed",
				"run_id", run.ID, "plugin", act.Plugin, "action", act.Action, "error", err)
			return err
		}
		p.count(func(r *Run) { r.ActionsCompleted++ })
		return nil
	}

	var (
		handler ActionHandler
		ok      bool
	)
	if q.actions != nil {
		handler, ok = q.actions.Action(act.Plugin, act.Action)
	}
	if !ok {
		p.count(func(r *Run) { r.ActionsSkipped++ })
		q.logger.Warn("unknown action, skipping",
			"run_id", run.ID, "plugin", act.Plugin, "action", act.Action)
		return nil
	}

	p.handlers.Add(1)
	go func() {
		defer p.handlers.Done()
		if err := invoke(ctx, handler, act.Data, ac); err != nil {
			p.count(func(r *Run) { r.ActionsFailed++ })
			q.logger.Error("action failed",
				"run_id", run.ID, "plugin", act.Plugin, "action", act.Action, "error", err)
			return
		}
		p.count(func(r *Run) { r.ActionsCompleted++ })
	}()
	return nil
}

// invoke calls h, converting a panic into an error.
func invoke(ctx context.Context, h ActionHandler, data any, ac *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	return h.Invoke(ctx, data, ac)
}

func (q *Queue) runBuiltin(ctx context.Context, act Action, ac *Context, p *progress, depth int) error {
	switch act.Action {
	case ActionRunAutomation:
		name, err := subAutomationName(act.Data, ac)
		if err != nil {
			return err
		}
		if depth+1 >= maxDepth {
			return fmt.Errorf("%w: %q", ErrRecursionLimit, name)
		}
		if q.automations == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		sub, err := q.automations.Get(name)
		if err != nil {
			return err
		}
		prepared, err := Prep(sub)
		if err != nil {
			return err
		}
		p.count(func(r *Run) { r.ActionsTotal += len(prepared.Actions) })
		return q.runAutomation(ctx, prepared, ac, p, depth+1)

	case ActionDelay:
		seconds, err := delaySeconds(act.Data, ac)
		if err != nil {
			return err
		}
		if seconds <= 0 {
			return nil
		}
		return sleep(ctx, time.Duration(seconds*float64(time.Second)))

	default:
		return fmt.Errorf("%w: unknown built-in %s", ErrInvalidAction, act)
	}
}

// subAutomationName accepts either a bare name or {automation: name}.
func subAutomationName(data any, ac *Context) (string, error) {
	if s, ok := data.(string); ok {
		return ac.String(s)
	}
	var d struct {
		Automation string `json:"automation"`
	}
	if err := ac.Decode(data, &d); err != nil {
		return "", err
	}
	if d.Automation == "" {
		return "", fmt.Errorf("%w: %s.%s needs an automation name",
			ErrInvalidAction, CorePlugin, ActionRunAutomation)
	}
	return d.Automation, nil
}

// delaySeconds accepts a number, a numeric template, or {seconds: ...}.
func delaySeconds(data any, ac *Context) (float64, error) {
	if m, ok := data.(map[string]any); ok {
		data = m["seconds"]
	}
	if data == nil {
		return 0, fmt.Errorf("%w: %s.%s needs a duration", ErrInvalidAction, CorePlugin, ActionDelay)
	}
	return ac.Number(data)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nameOrInline(name string) string {
	if name == "" {
		return "(inline)"
	}
	return name
}

// IsNotFound reports whether err means an automation was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
