package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current status of a saga
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	// StatusFailed means compensation itself did not finish cleanly
	StatusFailed Status = "failed"
)

// StepStatus represents the status of a saga step
type StepStatus string

const (
	StepStatusCompleted   StepStatus = "completed"
	StepStatusFailed      StepStatus = "failed"
	StepStatusCompensated StepStatus = "compensated"
	// StepStatusCompensationFailed marks a step whose undo returned an error
	StepStatusCompensationFailed StepStatus = "compensation_failed"
)

// Data is the shared state passed between steps. Values must be JSON friendly
// when a persistent Store is used.
type Data map[string]interface{}

// String returns the string value stored under key, or ""
func (d Data) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// ExecuteFunc runs a step and returns values to merge into the saga data
type ExecuteFunc func(ctx context.Context, data Data) (Data, error)

// CompensateFunc undoes a completed step
type CompensateFunc func(ctx context.Context, data Data) error

// Step is a single unit of work with an optional compensation
type Step struct {
	Name       string
	Execute    ExecuteFunc
	Compensate CompensateFunc
	Timeout    time.Duration
	// Retries is the number of extra attempts; errors wrapped with
	// retry.Permanent are never retried
	Retries int
}

// Definition is an ordered list of steps
type Definition struct {
	Name    string
	Steps   []*Step
	Timeout time.Duration
	// CompensationTimeout bounds each compensation call; compensation runs on
	// a context detached from the (possibly expired) saga context
	CompensationTimeout time.Duration
}

// NewDefinition creates a saga definition with default timeouts
func NewDefinition(name string) *Definition {
	return &Definition{
		Name:                name,
		Timeout:             5 * time.Minute,
		CompensationTimeout: 30 * time.Second,
	}
}

// AddStep appends a step, defaulting its timeout to 30s
func (d *Definition) AddStep(step *Step) *Definition {
	if step.Timeout == 0 {
		step.Timeout = 30 * time.Second
	}
	d.Steps = append(d.Steps, step)
	return d
}

// WithTimeout sets the overall saga timeout
func (d *Definition) WithTimeout(timeout time.Duration) *Definition {
	d.Timeout = timeout
	return d
}

func (d *Definition) step(name string) *Step {
	for _, s := range d.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StepResult records one step execution or compensation
type StepResult struct {
	StepName   string        `json:"step_name"`
	Status     StepStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Instance is one run of a Definition
type Instance struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Status       Status        `json:"status"`
	Data         Data          `json:"data"`
	StepResults  []*StepResult `json:"step_results"`
	CurrentStep  int           `json:"current_step"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`

	mu sync.RWMutex
}

// NewInstance creates a pending instance
func NewInstance(definitionID string, initial Data) *Instance {
	now := time.Now()
	data := make(Data, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &Instance{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		Status:       StatusPending,
		Data:         data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// GetStatus returns the current status
func (i *Instance) GetStatus() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Status
}

// GetData returns a copy of the saga data
func (i *Instance) GetData() Data {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(Data, len(i.Data))
	for k, v := range i.Data {
		out[k] = v
	}
	return out
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Status = s
	i.UpdatedAt = time.Now()
}

func (i *Instance) merge(data Data) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k, v := range data {
		i.Data[k] = v
	}
	i.UpdatedAt = time.Now()
}

func (i *Instance) addResult(r *StepResult) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.StepResults = append(i.StepResults, r)
	i.UpdatedAt = time.Now()
}

func (i *Instance) finish(s Status, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := time.Now()
	i.Status = s
	if err != nil {
		i.Error = err.Error()
	}
	i.CompletedAt = &now
	i.UpdatedAt = now
}

// completedSteps returns names of completed steps, most recent first
func (i *Instance) completedSteps() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var names []string
	for idx := len(i.StepResults) - 1; idx >= 0; idx-- {
		if i.StepResults[idx].Status == StepStatusCompleted {
			names = append(names, i.StepResults[idx].StepName)
		}
	}
	return names
}

// ToJSON serializes the instance
func (i *Instance) ToJSON() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return json.Marshal(i)
}

// FromJSON deserializes an instance
func FromJSON(b []byte) (*Instance, error) {
	var inst Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga instance: %w", err)
	}
	if inst.Data == nil {
		inst.Data = Data{}
	}
	return &inst, nil
}
