package taskstypes

import (
	"time"

	"github.com/google/uuid"
)

// Task status constants
type TaskStatus string

const (
	StatusPending       TaskStatus = "pending"
	StatusRunning       TaskStatus = "running"
	StatusWaitingFor2FA TaskStatus = "waiting_for_2fa"
	StatusCompleted     TaskStatus = "completed"
	StatusFailed        TaskStatus = "failed"
	StatusCancelled     TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Target overrides parts of the configured target for one run. Empty fields
// fall back to configuration.
type Target struct {
	URL        string `json:"url,omitempty"`
	LoginPath  string `json:"login_path,omitempty"`
	ModulePath string `json:"module_path,omitempty"`
	MaxLinks   int    `json:"max_links,omitempty"`
}

// Credentials for the target's login form. Never serialized back out.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TwoFactorAuthInfo describes how the second factor is answered: from a
// shared TOTP secret, or by a client posting the code while the task waits.
type TwoFactorAuthInfo struct {
	Expected bool   `json:"expected"`
	Secret   string `json:"secret,omitempty"`
}

// Task is one asynchronous scaffold run.
type Task struct {
	ID            uuid.UUID         `json:"id"`
	Status        TaskStatus        `json:"status"`
	Target        Target            `json:"target"`
	Credentials   *Credentials      `json:"-"`
	TwoFactorAuth TwoFactorAuthInfo `json:"-"`
	Result        *TaskResult       `json:"result,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CallbackURL   string            `json:"callback_url,omitempty"`
	// TfaCodeChan carries a code posted by the client to the waiting run.
	TfaCodeChan chan string `json:"-"`
}

// TaskResult contains the execution result
type TaskResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewTask(target Target, creds *Credentials, tfa TwoFactorAuthInfo, callback string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            uuid.New(),
		Status:        StatusPending,
		Target:        target,
		Credentials:   creds,
		TwoFactorAuth: tfa,
		CreatedAt:     now,
		UpdatedAt:     now,
		CallbackURL:   callback,
		TfaCodeChan:   make(chan string, 1),
	}
}

// UpdateStatus updates the task status and timestamp
func (t *Task) UpdateStatus(status TaskStatus) {
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
}

// SetResult sets the task result
func (t *Task) SetResult(success bool, message string, data interface{}, err error) {
	if t.Result == nil {
		t.Result = &TaskResult{}
	}
	t.Result.Success = success
	t.Result.Message = message
	t.Result.Data = data
	if err != nil {
		t.Result.Error = err.Error()
	} else {
		t.Result.Error = ""
	}
	t.UpdatedAt = time.Now().UTC()
}
