package workflow

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// ExecutionStatus represents the status of a run or of one attempt
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the execution is in progress
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the execution completed successfully
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the execution failed
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// StepAttempt records one attempt at running a step
type StepAttempt struct {
	StepID    string          `json:"step_id"`
	Tool      ToolKind        `json:"tool"`
	Attempt   int             `json:"attempt"`
	Batch     int             `json:"batch"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// ExecutionHistory records every attempt made during one plan run
type ExecutionHistory struct {
	PlanID    string          `json:"plan_id"`
	Mode      string          `json:"mode"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Status    ExecutionStatus `json:"status"`
	Attempts  []*StepAttempt  `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	mu        sync.RWMutex
}

// NewExecutionHistory creates a new execution history
func NewExecutionHistory(planID, mode string) *ExecutionHistory {
	return &ExecutionHistory{
		PlanID:    planID,
		Mode:      mode,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
		Attempts:  make([]*StepAttempt, 0),
	}
}

// RecordAttemptStart records the start of one attempt
func (h *ExecutionHistory) RecordAttemptStart(step *Step, batch, attempt int) *StepAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &StepAttempt{
		StepID:    step.ID,
		Attempt:   attempt,
		Batch:     batch,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
	}
	if step.Tool != nil {
		rec.Tool = step.Tool.Kind()
	}
	h.Attempts = append(h.Attempts, rec)
	return rec
}

// RecordAttemptEnd records the end of one attempt
func (h *ExecutionHistory) RecordAttemptEnd(rec *StepAttempt, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)

	if err != nil {
		rec.Status = ExecutionStatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = ExecutionStatusCompleted
	}
}

// Complete marks the run as finished
func (h *ExecutionHistory) Complete(outcome Outcome, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)

	switch {
	case err != nil:
		h.Status = ExecutionStatusFailed
		h.Error = err.Error()
	case outcome == OutcomeClean || outcome == OutcomeNothingRan:
		h.Status = ExecutionStatusCompleted
	default:
		h.Status = ExecutionStatusFailed
	}
}

// GetAttempts returns a copy of all attempt records
func (h *ExecutionHistory) GetAttempts() []*StepAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*StepAttempt, len(h.Attempts))
	copy(out, h.Attempts)
	return out
}

// AttemptsFor returns the attempts made for one step in order
func (h *ExecutionHistory) AttemptsFor(stepID string) []*StepAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*StepAttempt
	for _, rec := range h.Attempts {
		if rec.StepID == stepID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out
}

// GetStatus returns the run status
func (h *ExecutionHistory) GetStatus() ExecutionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// DefaultHistoryLimit 默认保留的最近运行数
const DefaultHistoryLimit = 64

// ExecutionHistoryStore keeps the histories of the most recent runs keyed by
// plan id. Saving beyond the limit evicts the oldest run.
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	order     []string // 按保存先后，最旧的在前
	limit     int
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates a store holding at most limit runs;
// limit <= 0 uses DefaultHistoryLimit.
func NewExecutionHistoryStore(limit int) *ExecutionHistoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
		limit:     limit,
	}
}

// Save saves an execution history, replacing an earlier run of the same plan
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[history.PlanID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == history.PlanID })
	}
	s.histories[history.PlanID] = history
	s.order = append(s.order, history.PlanID)

	for len(s.order) > s.limit {
		delete(s.histories, s.order[0])
		s.order = s.order[1:]
	}
}

// Get retrieves an execution history by plan id
func (s *ExecutionHistoryStore) Get(planID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[planID]
	return h, ok
}

// Len 当前保留的运行数
func (s *ExecutionHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}

// ListByStatus returns runs with a specific status
func (s *ExecutionHistoryStore) ListByStatus(status ExecutionStatus) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, h := range s.histories {
		if h.GetStatus() == status {
			result = append(result, h)
		}
	}
	return result
}
