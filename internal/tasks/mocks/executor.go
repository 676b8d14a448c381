package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/copyleftdev/goheal/internal/tasks"
	"github.com/copyleftdev/goheal/internal/taskstypes"
)

// MockExecutor implements tasks.RunExecutor for testing.
type MockExecutor struct {
	// Result and Err are returned by every Execute call.
	Result *taskstypes.TaskResult
	Err    error
	// WaitForCode makes Execute park in waiting_for_2fa until a code arrives.
	WaitForCode bool
	// Block makes Execute wait for ctx to be cancelled.
	Block bool

	mu       sync.Mutex
	executed []uuid.UUID
	codes    map[uuid.UUID]string
}

var _ tasks.RunExecutor = (*MockExecutor)(nil)

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{codes: make(map[uuid.UUID]string)}
}

func (m *MockExecutor) Execute(ctx context.Context, task *taskstypes.Task, setStatus tasks.StatusFunc) (*taskstypes.TaskResult, error) {
	m.mu.Lock()
	m.executed = append(m.executed, task.ID)
	m.mu.Unlock()

	if m.WaitForCode {
		setStatus(taskstypes.StatusWaitingFor2FA)
		select {
		case code := <-task.TfaCodeChan:
			m.mu.Lock()
			m.codes[task.ID] = code
			m.mu.Unlock()
			setStatus(taskstypes.StatusRunning)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &taskstypes.TaskResult{Success: true, Message: "ok"}, nil
}

// Executed returns the IDs of every task run so far.
func (m *MockExecutor) Executed() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.executed...)
}

// Code returns the 2FA code a task received.
func (m *MockExecutor) Code(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[id]
}
