// Package runner schedules background maintenance tasks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
)

// Task is a unit of scheduled background work.
type Task interface {
	Name() string
	// Schedule is a cron expression with a leading seconds field.
	Schedule() string
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// ErrUnknownTask is returned by RunNow for unregistered names.
var ErrUnknownTask = errors.New("unknown task")

// Status is the last known execution state of a task.
type Status struct {
	Task         string        `json:"task"`
	Schedule     string        `json:"schedule"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	NextRun      time.Time     `json:"next_run,omitempty"`
}

// StatusStore persists task status between runs and processes.
type StatusStore interface {
	SaveStatus(ctx context.Context, s Status) error
	LoadStatus(ctx context.Context, task string) (*Status, error)
}

// MemoryStatusStore keeps status in process memory.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMemoryStatusStore creates an empty store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: map[string]Status{}}
}

// SaveStatus stores s.
func (m *MemoryStatusStore) SaveStatus(_ context.Context, s Status) error {
	m.mu.Lock()
	m.statuses[s.Task] = s
	m.mu.Unlock()
	return nil
}

// LoadStatus returns nil when the task never ran.
func (m *MemoryStatusStore) LoadStatus(_ context.Context, task string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[task]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type entry struct {
	task Task
	id   cron.EntryID
	mu   sync.Mutex
}

// Runner executes registered tasks on their cron schedules.
type Runner struct {
	cron    *cron.Cron
	parser  cron.Parser
	store   StatusStore
	log     logrus.FieldLogger
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger injects a logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithStatusStore replaces the in-memory status store.
func WithStatusStore(s StatusStore) Option {
	return func(r *Runner) {
		if s != nil {
			r.store = s
		}
	}
}

// WithLocation sets the timezone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		r.cron = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	}
}

// New creates a runner. Schedules use six fields (seconds first).
func New(opts ...Option) *Runner {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		parser:  parser,
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		store:   NewMemoryStatusStore(),
		now:     time.Now,
		entries: map[string]*entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.Component(r.log, "runner")
	return r
}

// Register validates the task's schedule and adds it to the runner.
func (r *Runner) Register(t Task) error {
	if _, err := r.parser.Parse(t.Schedule()); err != nil {
		return fmt.Errorf("task %s: invalid schedule %q: %w", t.Name(), t.Schedule(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[t.Name()]; dup {
		return fmt.Errorf("task %s already registered", t.Name())
	}
	e := &entry{task: t}
	id, err := r.cron.AddFunc(t.Schedule(), func() { r.execute(r.ctx, e) })
	if err != nil {
		return err
	}
	e.id = id
	r.entries[t.Name()] = e
	r.log.WithFields(logrus.Fields{"task": t.Name(), "schedule": t.Schedule()}).Info("task registered")
	return nil
}

// Start begins scheduling in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling, cancels running tasks and waits for them or ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	r.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a task immediately and returns its error.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return r.execute(ctx, e)
}

// Statuses returns the stored status of every registered task, sorted by name.
func (r *Runner) Statuses(ctx context.Context) ([]Status, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		s, err := r.store.LoadStatus(ctx, e.task.Name())
		if err != nil {
			return nil, err
		}
		if s == nil {
			s = &Status{Task: e.task.Name()}
		}
		s.Schedule = e.task.Schedule()
		if e.id != 0 {
			s.NextRun = r.cron.Entry(e.id).Next
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

// execute runs a task under its timeout. Overlapping runs of the same task
// are skipped.
func (r *Runner) execute(ctx context.Context, e *entry) error {
	if !e.mu.TryLock() {
		r.log.WithField("task", e.task.Name()).Warn("task still running, skipping")
		return nil
	}
	defer e.mu.Unlock()

	name := e.task.Name()
	entryLog := r.log.WithField("task", name)

	runCtx := ctx
	if timeout := e.task.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := r.now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return e.task.Run(runCtx)
	}()
	elapsed := r.now().Sub(start)

	status, loadErr := r.store.LoadStatus(ctx, name)
	if loadErr != nil || status == nil {
		status = &Status{Task: name}
	}
	status.Schedule = e.task.Schedule()
	status.LastRun = start
	status.LastDuration = elapsed
	status.Runs++
	status.LastError = ""
	if err != nil {
		status.Failures++
		status.LastError = err.Error()
		entryLog.WithError(err).WithField("elapsed", elapsed.String()).Error("task failed")
	} else {
		entryLog.WithField("elapsed", elapsed.String()).Info("task completed")
	}
	if saveErr := r.store.SaveStatus(context.WithoutCancel(ctx), *status); saveErr != nil {
		entryLog.WithError(saveErr).Warn("could not save task status")
	}
	return err
}
