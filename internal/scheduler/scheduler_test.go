package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	logs  map[string][]*RunLog
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*Task), logs: make(map[string][]*RunLog)}
}

func (m *memStore) CreateTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) UpdateTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return t, nil
}

func (m *memStore) ListTasks(ctx context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) AppendRunLog(ctx context.Context, log *RunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[log.TaskID] = append(m.logs[log.TaskID], log)
	return nil
}

func (m *memStore) History(ctx context.Context, taskID string, limit int) ([]*RunLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := m.logs[taskID]
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

type fakeDispatcher struct {
	shellErr  error
	agentErr  error
	panicCmd  bool
	shellCmds []string
	agentGoals []string
}

func (f *fakeDispatcher) RunAgentGoal(ctx context.Context, goal string) error {
	f.agentGoals = append(f.agentGoals, goal)
	return f.agentErr
}

func (f *fakeDispatcher) RunShell(ctx context.Context, cmd string) (string, error) {
	if f.panicCmd {
		panic("boom")
	}
	f.shellCmds = append(f.shellCmds, cmd)
	return "ok", f.shellErr
}

func TestScheduler_RunNow_ShellSuccess(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "shell:echo hi", Enabled: false}))
	tasks, _ := s.List(context.Background())
	require.Len(t, tasks, 1)

	require.NoError(t, s.RunNow(context.Background(), tasks[0].ID))

	history, err := s.History(context.Background(), tasks[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, RunSuccess, history[0].Status)
	assert.Equal(t, []string{"echo hi"}, disp.shellCmds)

	updated, _ := s.Get(context.Background(), tasks[0].ID)
	assert.Equal(t, 1, updated.RunCount)
	assert.Equal(t, 0, updated.FailCount)
}

func TestScheduler_RunNow_AgentPrefix(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "agent:clean my desktop", Enabled: false}))
	tasks, _ := s.List(context.Background())
	require.NoError(t, s.RunNow(context.Background(), tasks[0].ID))

	assert.Equal(t, []string{"clean my desktop"}, disp.agentGoals)
}

func TestScheduler_RunNow_BareCommandTreatedAsShell(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "ls -la", Enabled: false}))
	tasks, _ := s.List(context.Background())
	require.NoError(t, s.RunNow(context.Background(), tasks[0].ID))

	assert.Equal(t, []string{"ls -la"}, disp.shellCmds)
}

func TestScheduler_Invoke_FailureProducesExactlyOneRunLog(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{shellErr: errors.New("boom")}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "shell:false", Enabled: false}))
	tasks, _ := s.List(context.Background())
	require.NoError(t, s.RunNow(context.Background(), tasks[0].ID))

	history, _ := s.History(context.Background(), tasks[0].ID, 10)
	require.Len(t, history, 1)
	assert.Equal(t, RunFailed, history[0].Status)

	updated, _ := s.Get(context.Background(), tasks[0].ID)
	assert.Equal(t, 1, updated.FailCount)
}

func TestScheduler_Invoke_PanicStillProducesRunLog(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{panicCmd: true}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "shell:crash", Enabled: false}))
	tasks, _ := s.List(context.Background())
	require.NoError(t, s.RunNow(context.Background(), tasks[0].ID))

	history, _ := s.History(context.Background(), tasks[0].ID, 10)
	require.Len(t, history, 1)
	assert.Equal(t, RunError, history[0].Status)
	assert.Contains(t, history[0].Error, "panic: boom")
}

func TestScheduler_UpdateReregistersTrigger(t *testing.T) {
	store := newMemStore()
	disp := &fakeDispatcher{}
	s := New(store, disp)

	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "0 0 0 * * *", Command: "shell:true", Enabled: true}))
	tasks, _ := s.List(context.Background())
	taskID := tasks[0].ID

	s.mu.Lock()
	_, registered := s.entries[taskID]
	s.mu.Unlock()
	assert.True(t, registered)

	require.NoError(t, s.Stop(context.Background(), taskID))
	s.mu.Lock()
	_, stillRegistered := s.entries[taskID]
	s.mu.Unlock()
	assert.False(t, stillRegistered)
}

func TestScheduler_Delete_RemovesTask(t *testing.T) {
	store := newMemStore()
	s := New(store, &fakeDispatcher{})
	require.NoError(t, s.Create(context.Background(), &Task{Name: "t1", Cron: "* * * * *", Command: "shell:true"}))
	tasks, _ := s.List(context.Background())
	require.NoError(t, s.Delete(context.Background(), tasks[0].ID))
	remaining, _ := s.List(context.Background())
	assert.Empty(t, remaining)
}
