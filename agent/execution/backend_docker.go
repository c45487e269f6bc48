package execution

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DockerBackendConfig configures the Docker backend.
type DockerBackendConfig struct {
	Image           string // Image every session runs in
	Shell           string // Shell inside the image
	ContainerPrefix string // Prefix for container names
	CleanupOnExit   bool   // Remove containers after execution
}

// DockerBackend runs instructions in throwaway containers with the session
// workspace mounted at /workspace.
type DockerBackend struct {
	image            string
	shell            string
	containerPrefix  string
	cleanupOnExit    bool
	logger           *zap.Logger
	activeContainers map[string]struct{}
	mu               sync.Mutex

	// docker 可执行文件，测试时可替换
	binary string
}

// NewDockerBackend creates a Docker execution backend.
func NewDockerBackend(logger *zap.Logger, cfg DockerBackendConfig) *DockerBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Image == "" {
		cfg.Image = DefaultSandboxConfig().Image
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.ContainerPrefix == "" {
		cfg.ContainerPrefix = "waveflow_"
	}
	return &DockerBackend{
		image:            cfg.Image,
		shell:            cfg.Shell,
		containerPrefix:  cfg.ContainerPrefix,
		cleanupOnExit:    cfg.CleanupOnExit,
		logger:           logger,
		activeContainers: make(map[string]struct{}),
		binary:           "docker",
	}
}

func (d *DockerBackend) Name() string { return "docker" }

func (d *DockerBackend) Execute(ctx context.Context, req *ExecutionRequest, config SandboxConfig) (*ExecutionResult, error) {
	containerName := fmt.Sprintf("%s%s_%d", d.containerPrefix, sanitizeID(req.ID), time.Now().UnixNano())
	args := d.buildArgs(containerName, req, config)

	d.logger.Debug("executing docker command",
		zap.String("container", containerName),
		zap.String("image", d.image),
		zap.Strings("args", args))

	d.mu.Lock()
	d.activeContainers[containerName] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.activeContainers, containerName)
		d.mu.Unlock()

		if d.cleanupOnExit {
			d.forceRemoveContainer(containerName)
		}
	}()

	result := runProcess(ctx, exec.CommandContext(ctx, d.binary, args...), req.ID)
	if ctx.Err() != nil {
		d.forceKillContainer(containerName)
	}
	return result, nil
}

func (d *DockerBackend) buildArgs(containerName string, req *ExecutionRequest, config SandboxConfig) []string {
	args := []string{
		"run",
		"--name", containerName,
		"--rm",
	}

	if config.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", config.MaxMemoryMB))
		args = append(args, "--memory-swap", fmt.Sprintf("%dm", config.MaxMemoryMB))
	}
	if config.MaxCPUPercent > 0 {
		cpus := float64(config.MaxCPUPercent) / 100.0
		args = append(args, "--cpus", fmt.Sprintf("%.2f", cpus))
	}
	if !config.NetworkEnabled {
		args = append(args, "--network", "none")
	}

	args = append(args,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--pids-limit", "100",
	)

	// 会话工作区可写，多次执行之间保留文件
	args = append(args, "-v", fmt.Sprintf("%s:/workspace", req.WorkDir))
	args = append(args, "-w", "/workspace")

	for k, v := range config.EnvVars {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range req.EnvVars {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	args = append(args, d.image, d.shell, "-c", req.Instruction)
	return args
}

func (d *DockerBackend) forceKillContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = exec.CommandContext(ctx, d.binary, "kill", name).Run()
	d.logger.Debug("killed container", zap.String("name", name))
}

func (d *DockerBackend) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = exec.CommandContext(ctx, d.binary, "rm", "-f", name).Run()
	d.logger.Debug("removed container", zap.String("name", name))
}

// Cleanup removes all active containers.
func (d *DockerBackend) Cleanup() error {
	d.mu.Lock()
	containers := make([]string, 0, len(d.activeContainers))
	for name := range d.activeContainers {
		containers = append(containers, name)
	}
	d.mu.Unlock()

	for _, name := range containers {
		d.forceKillContainer(name)
		d.forceRemoveContainer(name)
	}

	d.logger.Info("cleaned up containers", zap.Int("count", len(containers)))
	return nil
}

// PullImage pulls a Docker image if not present.
func PullImage(ctx context.Context, image string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := exec.CommandContext(ctx, "docker", "image", "inspect", image).Run(); err == nil {
		return nil
	}

	logger.Info("pulling docker image", zap.String("image", image))

	cmd := exec.CommandContext(ctx, "docker", "pull", image)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}
