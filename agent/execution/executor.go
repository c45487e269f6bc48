// package execution runs command_agent instructions inside per-session workspaces.
package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/types"
)

// SandboxMode selects the execution backend.
type SandboxMode string

const (
	ModeDocker SandboxMode = "docker"
	ModeNative SandboxMode = "native" // For trusted environments only
)

// SandboxConfig configures the command executor and its backend.
type SandboxConfig struct {
	Mode           SandboxMode       `yaml:"mode" json:"mode"`
	Timeout        time.Duration     `yaml:"timeout" json:"timeout"`
	MaxOutputBytes int               `yaml:"max_output_bytes" json:"max_output_bytes"`
	WorkspaceRoot  string            `yaml:"workspace_root" json:"workspace_root"`
	Image          string            `yaml:"image" json:"image"`
	NetworkEnabled bool              `yaml:"network_enabled" json:"network_enabled"`
	MaxMemoryMB    int               `yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxCPUPercent  int               `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	EnvVars        map[string]string `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`
	// BlockDangerous 命中危险模式时拒绝执行，否则只记录警告
	BlockDangerous bool `yaml:"block_dangerous" json:"block_dangerous"`
}

// DefaultSandboxConfig returns secure defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Mode:           ModeDocker,
		Timeout:        60 * time.Second,
		MaxOutputBytes: 1024 * 1024, // 1MB
		WorkspaceRoot:  filepath.Join(os.TempDir(), "waveflow", "sessions"),
		Image:          "alpine:3.20",
		NetworkEnabled: false,
		MaxMemoryMB:    512,
		MaxCPUPercent:  50,
	}
}

// ExecutionRequest is one instruction bound to a session workspace.
type ExecutionRequest struct {
	ID          string            `json:"id"`
	Session     string            `json:"session"`
	Instruction string            `json:"instruction"`
	WorkDir     string            `json:"work_dir"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

// ExecutionResult represents the result of one instruction.
type ExecutionResult struct {
	ID        string        `json:"id"`
	Success   bool          `json:"success"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// ExecutorStats tracks execution statistics.
type ExecutorStats struct {
	TotalExecutions   int64         `json:"total_executions"`
	SuccessExecutions int64         `json:"success_executions"`
	FailedExecutions  int64         `json:"failed_executions"`
	TimeoutExecutions int64         `json:"timeout_executions"`
	BlockedExecutions int64         `json:"blocked_executions"`
	TotalDuration     time.Duration `json:"total_duration"`
}

// ExecutionBackend defines the interface for execution backends.
type ExecutionBackend interface {
	Execute(ctx context.Context, req *ExecutionRequest, config SandboxConfig) (*ExecutionResult, error)
	Cleanup() error
	Name() string
}

// ErrEmptyInstruction is the cause of the error returned for blank instructions.
var ErrEmptyInstruction = errors.New("instruction is required")

// rejected 指令本身不可执行，重试不会改变结果
func rejected(message string, cause error) error {
	return types.NewError(types.ErrToolDispatch, message).
		WithRetryable(false).
		WithCause(cause)
}

// CommandExecutor maps session names to workspace directories and runs
// instructions there through an ExecutionBackend.
type CommandExecutor struct {
	config  SandboxConfig
	backend ExecutionBackend
	guard   *InstructionGuard
	logger  *zap.Logger

	mu    sync.RWMutex
	stats ExecutorStats
}

// NewCommandExecutor creates a command executor.
func NewCommandExecutor(config SandboxConfig, backend ExecutionBackend, logger *zap.Logger) *CommandExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultSandboxConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = defaults.MaxOutputBytes
	}
	if config.WorkspaceRoot == "" {
		config.WorkspaceRoot = defaults.WorkspaceRoot
	}
	return &CommandExecutor{
		config:  config,
		backend: backend,
		guard:   NewInstructionGuard(),
		logger:  logger.With(zap.String("component", "command_executor"), zap.String("backend", backend.Name())),
	}
}

// NewBackend builds the backend named by config.Mode.
func NewBackend(config SandboxConfig, logger *zap.Logger) (ExecutionBackend, error) {
	switch config.Mode {
	case ModeNative:
		return NewNativeBackend(logger), nil
	case ModeDocker, "":
		return NewDockerBackend(logger, DockerBackendConfig{Image: config.Image}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", config.Mode)
	}
}

// Workspace returns the directory that backs a session.
func (e *CommandExecutor) Workspace(session string) string {
	name := sanitizeID(session)
	if name == "" {
		name = "default"
	}
	return filepath.Join(e.config.WorkspaceRoot, name)
}

// Execute runs instruction in the workspace of session and returns its trimmed
// stdout. A non-zero exit is an error carrying stderr.
func (e *CommandExecutor) Execute(ctx context.Context, session, instruction string) (string, error) {
	result, err := e.Run(ctx, &ExecutionRequest{Session: session, Instruction: instruction})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", resultError(session, result)
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Run is Execute with the full ExecutionResult.
func (e *CommandExecutor) Run(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Instruction) == "" {
		return nil, rejected("instruction rejected", ErrEmptyInstruction)
	}

	if warnings := e.guard.Check(req.Instruction); len(warnings) > 0 {
		e.logger.Warn("instruction matches dangerous patterns",
			zap.String("session", req.Session),
			zap.Strings("warnings", warnings))
		if e.config.BlockDangerous {
			e.mu.Lock()
			e.stats.BlockedExecutions++
			e.mu.Unlock()
			return nil, rejected("instruction blocked", errors.New(strings.Join(warnings, "; ")))
		}
	}

	if req.WorkDir == "" {
		req.WorkDir = e.Workspace(req.Session)
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace for %s: %w", req.Session, err)
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("%s_%d", sanitizeID(req.Session), start.UnixNano())
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	e.logger.Debug("executing instruction",
		zap.String("id", req.ID),
		zap.String("session", req.Session),
		zap.Int("instruction_length", len(req.Instruction)))

	result, err := e.backend.Execute(ctx, req, e.config)

	e.mu.Lock()
	e.stats.TotalExecutions++
	e.stats.TotalDuration += time.Since(start)
	if err != nil || !result.Success {
		e.stats.FailedExecutions++
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.stats.TimeoutExecutions++
		}
	} else {
		e.stats.SuccessExecutions++
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(result.Stdout) > e.config.MaxOutputBytes {
		result.Stdout = result.Stdout[:e.config.MaxOutputBytes]
		result.Truncated = true
	}
	if len(result.Stderr) > e.config.MaxOutputBytes {
		result.Stderr = result.Stderr[:e.config.MaxOutputBytes]
		result.Truncated = true
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Stats returns execution statistics.
func (e *CommandExecutor) Stats() ExecutorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Cleanup releases backend resources.
func (e *CommandExecutor) Cleanup() error {
	return e.backend.Cleanup()
}

func resultError(session string, r *ExecutionResult) error {
	if r.Error != "" {
		return fmt.Errorf("session %s: %s", session, r.Error)
	}
	stderr := strings.TrimSpace(r.Stderr)
	if stderr == "" {
		return fmt.Errorf("session %s: exit code %d", session, r.ExitCode)
	}
	return fmt.Errorf("session %s: exit code %d: %s", session, r.ExitCode, stderr)
}

func sanitizeID(id string) string {
	// 只保留容器名和目录名都允许的字符
	var result strings.Builder
	for _, c := range id {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			result.WriteRune(c)
		}
	}
	s := result.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
