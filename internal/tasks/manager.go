package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/taskstypes"
)

var (
	ErrTaskExists       = errors.New("task already exists")
	ErrTaskNotFound     = errors.New("task not found")
	ErrNotWaitingFor2FA = errors.New("task is not waiting for 2FA code")
	ErrCodeNotAccepted  = errors.New("failed to signal 2FA code")
)

const callbackTimeout = 10 * time.Second

type Manager struct {
	executor RunExecutor
	logger   *zap.Logger
	client   *http.Client
	tasks    map[uuid.UUID]*taskstypes.Task
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewManager creates a task manager that runs every submitted task on the
// executor in its own goroutine.
func NewManager(executor RunExecutor, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		executor: executor,
		logger:   logger.Named("tasks"),
		client:   &http.Client{Timeout: callbackTimeout},
		tasks:    make(map[uuid.UUID]*taskstypes.Task),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SubmitTask stores the task and starts executing it.
func (m *Manager) SubmitTask(task *taskstypes.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return fmt.Errorf("task manager is shut down")
	}
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	if task.TfaCodeChan == nil {
		task.TfaCodeChan = make(chan string, 1)
	}
	m.tasks[task.ID] = task

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.executeTask(task)
	}()
	return nil
}

// GetTaskStatus returns a copy of a task with its current status.
func (m *Manager) GetTaskStatus(id uuid.UUID) (*taskstypes.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	taskCopy := *task
	return &taskCopy, nil
}

// Provide2FACode hands a code to a task waiting for one.
func (m *Manager) Provide2FACode(id uuid.UUID, code string) error {
	m.mu.RLock()
	task, exists := m.tasks[id]
	var status taskstypes.TaskStatus
	if exists {
		status = task.Status
	}
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if status != taskstypes.StatusWaitingFor2FA {
		return fmt.Errorf("%w (status: %s)", ErrNotWaitingFor2FA, status)
	}

	select {
	case task.TfaCodeChan <- code:
		m.logger.Info("2FA code provided", zap.String("task", id.String()))
		return nil
	default:
		return fmt.Errorf("%w: a code is already pending", ErrCodeNotAccepted)
	}
}

func (m *Manager) executeTask(task *taskstypes.Task) {
	logger := m.logger.With(zap.String("task", task.ID.String()))
	m.updateTaskStatus(task, taskstypes.StatusRunning)
	logger.Info("task started", zap.String("target", task.Target.URL))

	result, err := m.executor.Execute(m.ctx, task, func(s taskstypes.TaskStatus) {
		m.updateTaskStatus(task, s)
	})

	m.mu.Lock()
	switch {
	case err != nil && m.ctx.Err() != nil && errors.Is(err, context.Canceled):
		task.SetResult(false, "cancelled during shutdown", nil, err)
		task.UpdateStatus(taskstypes.StatusCancelled)
	case err != nil:
		task.SetResult(false, "run failed", nil, err)
		task.UpdateStatus(taskstypes.StatusFailed)
	default:
		task.Result = result
		task.UpdateStatus(taskstypes.StatusCompleted)
	}
	status := task.Status
	m.mu.Unlock()

	if err != nil {
		logger.Error("task failed", zap.String("status", string(status)), zap.Error(err))
	} else {
		logger.Info("task completed")
	}

	if task.CallbackURL != "" {
		m.notifyCallback(task)
	}
}

func (m *Manager) updateTaskStatus(task *taskstypes.Task, status taskstypes.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.UpdateStatus(status)
}

// notifyCallback posts the final task state to the task's callback URL.
// Failures are logged only.
func (m *Manager) notifyCallback(task *taskstypes.Task) {
	m.mu.RLock()
	payload, err := json.Marshal(task)
	callbackURL := task.CallbackURL
	m.mu.RUnlock()

	logger := m.logger.With(zap.String("task", task.ID.String()), zap.String("callback", callbackURL))
	if err != nil {
		logger.Error("failed to marshal task for callback", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		logger.Error("failed to create callback request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		logger.Warn("callback failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.Info("callback delivered", zap.Int("status", resp.StatusCode))
	} else {
		logger.Warn("callback rejected", zap.Int("status", resp.StatusCode))
	}
}

// Shutdown cancels running tasks and waits for them to finish or for ctx to
// expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("task manager shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for tasks: %w", ctx.Err())
	}
}
