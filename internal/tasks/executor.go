package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/auth"
	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/heal"
	"github.com/copyleftdev/goheal/internal/scaffold"
	"github.com/copyleftdev/goheal/internal/taskstypes"
)

const twoFAWaitTimeout = 5 * time.Minute // Max time to wait for 2FA code

// StatusFunc lets an executor report intermediate states such as waiting for
// a 2FA code.
type StatusFunc func(taskstypes.TaskStatus)

// RunExecutor performs the work behind one task. This decouples the task
// manager from the browser and the generator.
type RunExecutor interface {
	Execute(ctx context.Context, task *taskstypes.Task, setStatus StatusFunc) (*taskstypes.TaskResult, error)
}

// ScaffoldExecutor runs the scaffold generator for each task on its own
// browser session.
type ScaffoldExecutor struct {
	cfg      *config.Config
	launcher browser.Launcher
	logger   *zap.Logger
}

var _ RunExecutor = (*ScaffoldExecutor)(nil)

func NewScaffoldExecutor(cfg *config.Config, launcher browser.Launcher, logger *zap.Logger) *ScaffoldExecutor {
	return &ScaffoldExecutor{cfg: cfg, launcher: launcher, logger: logger}
}

// resolve merges the task's overrides into the configured target and
// generator settings.
func (e *ScaffoldExecutor) resolve(task *taskstypes.Task) (config.TargetConfig, config.GeneratorConfig) {
	target := e.cfg.Target
	gen := e.cfg.Generator
	if task.Target.URL != "" {
		target.URL = task.Target.URL
	}
	if task.Target.LoginPath != "" {
		target.LoginPath = task.Target.LoginPath
	}
	if task.Target.ModulePath != "" {
		gen.ModulePath = task.Target.ModulePath
	}
	if task.Target.MaxLinks > 0 {
		gen.MaxLinks = task.Target.MaxLinks
	}
	if task.Credentials != nil {
		target.Username = task.Credentials.Username
		target.Password = task.Credentials.Password
	}
	if task.TwoFactorAuth.Secret != "" {
		target.TOTPSecret = task.TwoFactorAuth.Secret
	}
	return target, gen
}

func (e *ScaffoldExecutor) Execute(ctx context.Context, task *taskstypes.Task, setStatus StatusFunc) (*taskstypes.TaskResult, error) {
	logger := e.logger.With(zap.String("task", task.ID.String()))
	target, gen := e.resolve(task)

	authn := auth.NewFormAuthenticator(target, heal.PolicyFromConfig(e.cfg.Healing), logger)
	if target.TOTPSecret == "" && task.TwoFactorAuth.Expected {
		authn.Codes = &taskCodeSource{task: task, setStatus: setStatus}
	}

	summary, err := scaffold.NewGenerator(e.launcher, authn, target, gen, logger).Run(ctx)
	if err != nil {
		return nil, err
	}
	return &taskstypes.TaskResult{
		Success: true,
		Message: fmt.Sprintf("generated %d module tests, skipped %d, failed %d",
			len(summary.Generated), len(summary.Skipped), len(summary.Failed)),
		Data: summary,
	}, nil
}

// taskCodeSource parks the task in waiting_for_2fa until a client posts the
// code through the manager.
type taskCodeSource struct {
	task      *taskstypes.Task
	setStatus StatusFunc
}

func (s *taskCodeSource) Code(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, twoFAWaitTimeout)
	defer cancel()

	src := auth.ChannelSource{
		C:      s.task.TfaCodeChan,
		OnWait: func() { s.setStatus(taskstypes.StatusWaitingFor2FA) },
	}
	code, err := src.Code(ctx)
	if err == nil {
		s.setStatus(taskstypes.StatusRunning)
	}
	return code, err
}
