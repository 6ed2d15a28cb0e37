// Package worker adapts the teacher's generic task scheduler into the
// periodic stats-collection loop that backs `lqosd serve` (SPEC_FULL.md
// §2.3): spec.md keeps the scheduling cron itself out of core scope, so
// this is the ambient convenience that lets `serve` run without one.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libreqos/lqosd/pkg/logger"
)

// Task is one schedulable unit of work: a function run on a fixed
// interval, with its own timeout and run/error bookkeeping.
type Task struct {
	ID          string
	Name        string
	Description string
	Function    func(ctx context.Context) error
	Interval    time.Duration
	Timeout     time.Duration
	Enabled     bool

	LastRun    time.Time
	NextRun    time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error
}

// TaskStatus is a JSON-serializable snapshot of a Task, safe to hand out
// without exposing the Function closure or mutex-guarded fields directly.
type TaskStatus struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	IsRunning  bool      `json:"isRunning"`
	LastRun    time.Time `json:"lastRun"`
	NextRun    time.Time `json:"nextRun"`
	RunCount   int64     `json:"runCount"`
	ErrorCount int64     `json:"errorCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// Scheduler runs a set of Tasks, checking every tickInterval for any task
// whose NextRun has passed.
type Scheduler struct {
	tasks        map[string]*Task
	runningTasks map[string]context.CancelFunc
	mu           sync.RWMutex

	tickInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logger.Logger
}

// NewScheduler returns a Scheduler that checks for due tasks every
// tickInterval (the teacher's fixed 10 seconds is kept as the default;
// `serve`'s own stats interval can still be shorter or longer per-task).
func NewScheduler(tickInterval time.Duration, log *logger.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Scheduler{
		tasks:        make(map[string]*Task),
		runningTasks: make(map[string]context.CancelFunc),
		tickInterval: tickInterval,
		log:          log.WithComponent("worker"),
	}
}

// AddTask registers a task, scheduling its first run after one interval.
func (s *Scheduler) AddTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("worker: task id is required")
	}
	if task.Function == nil {
		return fmt.Errorf("worker: task %q has no function", task.ID)
	}
	if task.Interval <= 0 {
		return fmt.Errorf("worker: task %q interval must be positive", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("worker: task %q already registered", task.ID)
	}
	if task.Timeout <= 0 {
		task.Timeout = task.Interval
	}
	task.NextRun = time.Now().Add(task.Interval)
	s.tasks[task.ID] = task
	return nil
}

// RemoveTask unregisters a task, cancelling it first if it is running.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; !exists {
		return fmt.Errorf("worker: task %q not found", id)
	}
	if cancel, running := s.runningTasks[id]; running {
		cancel()
		delete(s.runningTasks, id)
	}
	delete(s.tasks, id)
	return nil
}

// EnableTask re-enables a previously disabled task.
func (s *Scheduler) EnableTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("worker: task %q not found", id)
	}
	task.Enabled = true
	task.NextRun = time.Now().Add(task.Interval)
	return nil
}

// DisableTask stops a task from being picked up by future ticks, and
// cancels it if it is currently running.
func (s *Scheduler) DisableTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("worker: task %q not found", id)
	}
	task.Enabled = false
	if cancel, running := s.runningTasks[id]; running {
		cancel()
		delete(s.runningTasks, id)
	}
	return nil
}

// Start begins the scheduler's tick loop in the background. It returns
// immediately; the loop stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.log.InfoContext(ctx, "scheduler started", "tick_interval", s.tickInterval.String())
}

// Stop cancels the tick loop and any in-flight tasks, then waits for
// everything to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.cancelAllRunningTasks()
			return
		case <-ticker.C:
			s.checkAndRunTasks()
		}
	}
}

func (s *Scheduler) checkAndRunTasks() {
	now := time.Now()

	s.mu.RLock()
	due := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Enabled && now.After(task.NextRun) && !s.isTaskRunningLocked(task.ID) {
			due = append(due, task)
		}
	}
	s.mu.RUnlock()

	for _, task := range due {
		s.wg.Add(1)
		go func(t *Task) {
			defer s.wg.Done()
			s.executeTask(t, false)
		}(task)
	}
}

// RunTaskNow executes a task immediately, outside its regular interval,
// without disturbing its NextRun.
func (s *Scheduler) RunTaskNow(id string) error {
	s.mu.RLock()
	task, exists := s.tasks[id]
	running := s.isTaskRunningLocked(id)
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("worker: task %q not found", id)
	}
	if running {
		return fmt.Errorf("worker: task %q is already running", id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTask(task, true)
	}()
	return nil
}

func (s *Scheduler) executeTask(task *Task, manualRun bool) {
	parent := s.ctx
	if parent == nil {
		// RunTaskNow may be called before Start.
		parent = context.Background()
	}
	taskCtx, cancel := context.WithTimeout(parent, task.Timeout)
	defer cancel()

	s.mu.Lock()
	s.runningTasks[task.ID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningTasks, task.ID)
		s.mu.Unlock()
	}()

	start := time.Now()
	err := task.Function(taskCtx)
	duration := time.Since(start)

	s.mu.Lock()
	task.LastRun = start
	task.RunCount++
	task.LastError = err
	if err != nil {
		task.ErrorCount++
	}
	if !manualRun {
		task.NextRun = start.Add(task.Interval)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Error("task failed", "task_id", task.ID, "duration", duration.String())
	} else {
		s.log.Debug("task completed", "task_id", task.ID, "duration", duration.String())
	}
}

func (s *Scheduler) isTaskRunningLocked(id string) bool {
	_, running := s.runningTasks[id]
	return running
}

func (s *Scheduler) cancelAllRunningTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.runningTasks {
		cancel()
		delete(s.runningTasks, id)
	}
}

// GetTaskStatus returns a point-in-time snapshot of one task's state.
func (s *Scheduler) GetTaskStatus(id string) (TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, fmt.Errorf("worker: task %q not found", id)
	}
	status := TaskStatus{
		ID:         task.ID,
		Name:       task.Name,
		Enabled:    task.Enabled,
		IsRunning:  s.isTaskRunningLocked(task.ID),
		LastRun:    task.LastRun,
		NextRun:    task.NextRun,
		RunCount:   task.RunCount,
		ErrorCount: task.ErrorCount,
	}
	if task.LastError != nil {
		status.LastError = task.LastError.Error()
	}
	return status, nil
}

// TaskBuilder fluently assembles a Task before registering it.
type TaskBuilder struct {
	task *Task
}

// NewTaskBuilder starts a builder for a task with the given id and name.
func NewTaskBuilder(id, name string) *TaskBuilder {
	return &TaskBuilder{task: &Task{ID: id, Name: name, Enabled: true}}
}

func (b *TaskBuilder) Description(d string) *TaskBuilder {
	b.task.Description = d
	return b
}

func (b *TaskBuilder) Interval(d time.Duration) *TaskBuilder {
	b.task.Interval = d
	return b
}

func (b *TaskBuilder) Timeout(d time.Duration) *TaskBuilder {
	b.task.Timeout = d
	return b
}

func (b *TaskBuilder) Function(fn func(ctx context.Context) error) *TaskBuilder {
	b.task.Function = fn
	return b
}

func (b *TaskBuilder) Enabled(enabled bool) *TaskBuilder {
	b.task.Enabled = enabled
	return b
}

func (b *TaskBuilder) Build() *Task {
	return b.task
}
