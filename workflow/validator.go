package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/big3labs/waveflow/types"
)

// FileSystem answers existence checks for output paths.
type FileSystem interface {
	Exists(path string) (bool, error)
}

// OSFileSystem checks the local filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Validator gates whether a finished run's outputs can be trusted.
type Validator struct {
	fs      FileSystem
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewValidator creates a validator. A nil fs uses the local filesystem.
func NewValidator(fsys FileSystem, logger *zap.Logger) *Validator {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		fs:      fsys,
		metrics: noopRecorder{},
		logger:  logger.With(zap.String("component", "validator")),
	}
}

// WithMetrics records every verdict.
func (v *Validator) WithMetrics(m MetricsRecorder) *Validator {
	if m != nil {
		v.metrics = m
	}
	return v
}

// Validate returns true only if no step failed, at least one output exists and
// every output that looks like a path exists. It never returns an error.
func (v *Validator) Validate(result *WorkflowResult) bool {
	err := v.Check(result)
	passed := err == nil
	v.metrics.RecordValidation(passed)
	if !passed {
		planID := ""
		if result != nil {
			planID = result.PlanID
		}
		v.logger.Warn("workflow result rejected",
			zap.String("plan_id", planID),
			zap.Error(err),
		)
	}
	return passed
}

// Check is Validate with the rejection reason. All errors are VALIDATION errors.
func (v *Validator) Check(result *WorkflowResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewValidationError("validator panicked", fmt.Errorf("%v", r))
		}
	}()

	if result == nil {
		return types.NewValidationError("no result", nil)
	}
	if len(result.FailedNodes) > 0 {
		return types.NewValidationError(
			fmt.Sprintf("%d failed steps: %s", len(result.FailedNodes), strings.Join(result.FailedNodes, ", ")), nil)
	}
	if len(result.Outputs) == 0 {
		return types.NewValidationError("no outputs", nil)
	}

	// 按 key 排序，保证报错信息稳定
	ids := make([]string, 0, len(result.Outputs))
	for id := range result.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		path, ok := result.Outputs[id].(string)
		if !ok || !LooksLikePath(path) {
			continue
		}
		exists, statErr := v.fs.Exists(path)
		if statErr != nil {
			return types.NewValidationError(fmt.Sprintf("check output of %s", id), statErr).WithStepID(id)
		}
		if !exists {
			return types.NewValidationError(fmt.Sprintf("output of %s claims missing path %s", id, path), nil).
				WithStepID(id)
		}
	}
	return nil
}

// LooksLikePath reports whether an output string is treated as a filesystem artifact.
func LooksLikePath(s string) bool {
	return strings.ContainsRune(s, '/') || strings.ContainsRune(s, os.PathSeparator)
}
