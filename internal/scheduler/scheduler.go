// Package scheduler implements Scheduler (spec §4.10): cron-triggered tasks
// whose command is dispatched to the agent orchestrator, a shell command, or
// treated as a bare shell command, with exactly one RunLog produced per
// invocation regardless of exceptions.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leochame/lavis/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunStatus is the stable outcome of one scheduled invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunError   RunStatus = "ERROR"
)

// Task is one scheduled entry (spec §4.13 scheduled_tasks table).
type Task struct {
	ID        string
	Name      string
	Cron      string
	Command   string // agent:<goal> | shell:<cmd> | bare command (treated as shell)
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
	LastRunAt time.Time
	RunCount  int
	FailCount int
}

// RunLog is one recorded invocation (spec §4.13 task_run_logs table).
type RunLog struct {
	ID        string
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Status    RunStatus
	Output    string
	Error     string
}

// Store is the persistence surface Scheduler needs from PersistentStore.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)
	AppendRunLog(ctx context.Context, log *RunLog) error
	History(ctx context.Context, taskID string, limit int) ([]*RunLog, error)
}

// Dispatcher routes a task's command prefix to the right subsystem (spec
// §4.10): agent: → UnifiedChatService orchestrated path, shell:/bare →
// SystemActuator.shellExec.
type Dispatcher interface {
	RunAgentGoal(ctx context.Context, goal string) error
	RunShell(ctx context.Context, cmd string) (output string, err error)
}

// Scheduler is spec component C10.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID // taskID -> active cron entry

	store      Store
	dispatcher Dispatcher
	log        *zap.Logger
}

// New builds a Scheduler. Call LoadAndStart to load enabled tasks and begin
// firing them.
func New(store Store, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		entries:    make(map[string]cron.EntryID),
		store:      store,
		dispatcher: dispatcher,
		log:        logging.Named("scheduler"),
	}
}

// LoadAndStart loads every enabled task from the store and registers its
// cron trigger, then starts the underlying cron runner (spec §4.10: "on
// startup, loads all enabled tasks and schedules them by cron").
func (s *Scheduler) LoadAndStart(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list tasks: %w", err)
	}
	s.mu.Lock()
	for _, t := range tasks {
		if t.Enabled {
			if err := s.registerLocked(t); err != nil {
				s.log.Warn("scheduler: failed to register task on startup", zap.String("task", t.ID), zap.Error(err))
			}
		}
	}
	s.mu.Unlock()
	s.cron.Start()
	return nil
}

// registerLocked adds t's cron trigger. Caller holds s.mu.
func (s *Scheduler) registerLocked(t *Task) error {
	taskID := t.ID
	entryID, err := s.cron.AddFunc(t.Cron, func() {
		s.invoke(context.Background(), taskID)
	})
	if err != nil {
		return err
	}
	s.entries[taskID] = entryID
	return nil
}

func (s *Scheduler) unregisterLocked(taskID string) {
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
}

// Create persists a new task and, if enabled, registers its trigger.
func (s *Scheduler) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if err := s.store.CreateTask(ctx, t); err != nil {
		return err
	}
	if t.Enabled {
		s.mu.Lock()
		err := s.registerLocked(t)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Update persists changes and re-registers the trigger (updating cron or
// enabled always re-registers, spec §4.10 CRUD).
func (s *Scheduler) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.mu.Lock()
	s.unregisterLocked(t.ID)
	var err error
	if t.Enabled {
		err = s.registerLocked(t)
	}
	s.mu.Unlock()
	return err
}

// Delete removes a task's trigger and its persisted record.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.unregisterLocked(id)
	s.mu.Unlock()
	return s.store.DeleteTask(ctx, id)
}

// Start enables a task and (re-)registers its trigger.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Enabled = true
	return s.Update(ctx, t)
}

// Stop disables a task, removing its trigger without deleting the record.
func (s *Scheduler) Stop(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Enabled = false
	return s.Update(ctx, t)
}

// RunNow bypasses the cron trigger but still emits exactly one RunLog (spec
// §4.10 CRUD: "runNow bypasses the cron but still emits a RunLog").
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.invoke(ctx, id)
	return nil
}

// List returns every persisted task.
func (s *Scheduler) List(ctx context.Context) ([]*Task, error) {
	return s.store.ListTasks(ctx)
}

// Get returns one persisted task.
func (s *Scheduler) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// History returns up to limit of the most recent RunLogs for a task.
func (s *Scheduler) History(ctx context.Context, id string, limit int) ([]*RunLog, error) {
	return s.store.History(ctx, id, limit)
}

// invoke dispatches one task invocation and always produces exactly one
// RunLog, even if the dispatcher panics (spec §4.10).
func (s *Scheduler) invoke(ctx context.Context, taskID string) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.Warn("scheduler: invoke: task not found", zap.String("task", taskID), zap.Error(err))
		return
	}

	log := &RunLog{ID: uuid.NewString(), TaskID: taskID, StartedAt: time.Now()}
	defer func() {
		log.EndedAt = time.Now()
		if r := recover(); r != nil {
			log.Status = RunError
			log.Error = fmt.Sprintf("panic: %v", r)
		}
		t.LastRunAt = log.StartedAt
		t.RunCount++
		if log.Status != RunSuccess {
			t.FailCount++
		}
		if err := s.store.AppendRunLog(ctx, log); err != nil {
			s.log.Warn("scheduler: failed to persist run log", zap.Error(err))
		}
		if err := s.store.UpdateTask(ctx, t); err != nil {
			s.log.Warn("scheduler: failed to update task counters", zap.Error(err))
		}
	}()

	out, err := s.dispatch(ctx, t.Command)
	log.Output = out
	if err != nil {
		log.Status = RunFailed
		log.Error = err.Error()
		return
	}
	log.Status = RunSuccess
}

func (s *Scheduler) dispatch(ctx context.Context, command string) (string, error) {
	switch {
	case strings.HasPrefix(command, "agent:"):
		goal := strings.TrimPrefix(command, "agent:")
		return "", s.dispatcher.RunAgentGoal(ctx, goal)
	case strings.HasPrefix(command, "shell:"):
		cmd := strings.TrimPrefix(command, "shell:")
		return s.dispatcher.RunShell(ctx, cmd)
	default:
		return s.dispatcher.RunShell(ctx, command)
	}
}

// StopAll stops the underlying cron runner (process shutdown).
func (s *Scheduler) StopAll() {
	s.cron.Stop()
}
