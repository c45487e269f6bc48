package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// NativeBackend runs instructions with the local shell.
// WARNING: Less secure than Docker - use only in trusted environments.
type NativeBackend struct {
	shell  string
	logger *zap.Logger
}

// NewNativeBackend creates a native backend that runs bash.
func NewNativeBackend(logger *zap.Logger) *NativeBackend {
	return NewNativeBackendWithShell(logger, "bash")
}

// NewNativeBackendWithShell creates a native backend with a custom shell.
func NewNativeBackendWithShell(logger *zap.Logger, shell string) *NativeBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shell == "" {
		shell = "bash"
	}
	return &NativeBackend{shell: shell, logger: logger}
}

func (n *NativeBackend) Name() string { return "native" }

func (n *NativeBackend) Execute(ctx context.Context, req *ExecutionRequest, config SandboxConfig) (*ExecutionResult, error) {
	cmd := exec.CommandContext(ctx, n.shell, "-c", req.Instruction)
	cmd.Dir = req.WorkDir

	cmd.Env = os.Environ()
	for k, v := range config.EnvVars {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range req.EnvVars {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	n.logger.Debug("executing process",
		zap.String("shell", n.shell),
		zap.String("dir", req.WorkDir))

	return runProcess(ctx, cmd, req.ID), nil
}

func (n *NativeBackend) Cleanup() error {
	return nil
}

// runProcess runs cmd and folds every outcome into an ExecutionResult.
func runProcess(ctx context.Context, cmd *exec.Cmd, id string) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ID: id, ExitCode: -1}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	// 子进程持有管道时不无限等待
	cmd.WaitDelay = time.Second

	err := cmd.Run()

	result.Duration = time.Since(start)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.Error = "execution timeout"
		case ctx.Err() != nil:
			result.Error = ctx.Err().Error()
		case errors.As(err, &exitErr):
			// 非零退出码交给调用方判断
			result.ExitCode = exitErr.ExitCode()
		default:
			result.Error = err.Error()
		}
	}

	result.Success = result.Error == "" && result.ExitCode == 0
	return result
}
