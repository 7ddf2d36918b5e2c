package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/facility-rental/pkg/retry"
)

// Logger is the key/value logger the orchestrator writes to
type Logger interface {
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// StepObserver receives one call per finished step execution or compensation
type StepObserver func(saga, step string, status StepStatus, d time.Duration)

// CompensationError is a compensation that failed
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// ExecutionError is returned when a step failed. It unwraps to the step's
// own error so callers can classify it with errors.Is / errors.As.
type ExecutionError struct {
	SagaID        string
	Step          string
	Err           error
	Compensations []*CompensationError
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("saga %s failed at %s: %v", e.SagaID, e.Step, e.Err)
	if len(e.Compensations) > 0 {
		parts := make([]string, 0, len(e.Compensations))
		for _, c := range e.Compensations {
			parts = append(parts, c.Error())
		}
		msg += " (compensation errors: " + strings.Join(parts, "; ") + ")"
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CompensationFailed reports whether any compensation returned an error
func (e *ExecutionError) CompensationFailed() bool {
	return len(e.Compensations) > 0
}

// OrchestratorConfig holds orchestrator dependencies
type OrchestratorConfig struct {
	Store    Store
	Logger   Logger
	Observer StepObserver
}

// Orchestrator runs registered saga definitions
type Orchestrator struct {
	definitions map[string]*Definition
	store       Store
	logger      Logger
	observer    StepObserver
	mu          sync.RWMutex
}

// NewOrchestrator creates an orchestrator; nil dependencies get in-memory/no-op defaults
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	if cfg == nil {
		cfg = &OrchestratorConfig{}
	}
	o := &Orchestrator{
		definitions: make(map[string]*Definition),
		store:       cfg.Store,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.logger == nil {
		o.logger = noOpLogger{}
	}
	return o
}

// Register adds a definition
func (o *Orchestrator) Register(def *Definition) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.definitions[def.Name]; exists {
		return fmt.Errorf("saga definition %s already registered", def.Name)
	}
	o.definitions[def.Name] = def
	return nil
}

func (o *Orchestrator) definition(name string) (*Definition, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.definitions[name]
	if !ok {
		return nil, fmt.Errorf("saga definition %s not found", name)
	}
	return def, nil
}

// Execute runs a saga to completion. On a step failure every completed step
// is compensated in reverse order and an *ExecutionError is returned.
func (o *Orchestrator) Execute(ctx context.Context, name string, initial Data) (*Instance, error) {
	def, err := o.definition(name)
	if err != nil {
		return nil, err
	}

	inst := NewInstance(def.Name, initial)
	if err := o.store.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save saga instance: %w", err)
	}
	o.logger.Info("saga started", "saga_id", inst.ID, "definition", def.Name)

	runCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	inst.setStatus(StatusRunning)
	o.persist(ctx, inst)

	for idx, step := range def.Steps {
		inst.CurrentStep = idx

		err := runCtx.Err()
		if err == nil {
			err = o.executeStep(runCtx, def, step, inst)
		}
		if err != nil {
			o.logger.Error("saga step failed", "saga_id", inst.ID, "step", step.Name, "error", err)
			return inst, o.compensate(ctx, def, inst, step.Name, err)
		}
	}

	inst.finish(StatusCompleted, nil)
	o.persist(ctx, inst)
	o.logger.Info("saga completed", "saga_id", inst.ID, "definition", def.Name)
	return inst, nil
}

func (o *Orchestrator) executeStep(ctx context.Context, def *Definition, step *Step, inst *Instance) error {
	result := &StepResult{StepName: step.Name, StartedAt: time.Now()}

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	var (
		out     Data
		stepErr error
	)
	err := retry.Do(stepCtx, &retry.Config{
		MaxRetries:      step.Retries,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}, func(ctx context.Context) error {
		result.Attempts++
		out, stepErr = step.Execute(ctx, inst.GetData())
		return stepErr
	})
	if err != nil && stepErr != nil {
		// report the step's own error, not the retry bookkeeping
		err = stepErr
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if err != nil {
		result.Status = StepStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = StepStatusCompleted
		inst.merge(out)
	}
	inst.addResult(result)
	o.persist(ctx, inst)
	o.observe(def.Name, step.Name, result.Status, result.Duration)

	return err
}

func (o *Orchestrator) compensate(ctx context.Context, def *Definition, inst *Instance, failedStep string, cause error) error {
	inst.setStatus(StatusCompensating)
	o.persist(ctx, inst)

	execErr := &ExecutionError{SagaID: inst.ID, Step: failedStep, Err: cause}

	// compensation must run even when the caller's context is already done
	baseCtx := context.WithoutCancel(ctx)

	for _, name := range inst.completedSteps() {
		step := def.step(name)
		if step == nil || step.Compensate == nil {
			continue
		}

		compCtx, cancel := context.WithTimeout(baseCtx, def.CompensationTimeout)
		started := time.Now()
		err := step.Compensate(compCtx, inst.GetData())
		cancel()

		result := &StepResult{StepName: name, Attempts: 1, StartedAt: started, FinishedAt: time.Now()}
		result.Duration = result.FinishedAt.Sub(started)
		if err != nil {
			result.Status = StepStatusCompensationFailed
			result.Error = err.Error()
			execErr.Compensations = append(execErr.Compensations, &CompensationError{Step: name, Err: err})
			o.logger.Error("saga compensation failed", "saga_id", inst.ID, "step", name, "error", err)
		} else {
			result.Status = StepStatusCompensated
			o.logger.Info("saga step compensated", "saga_id", inst.ID, "step", name)
		}
		inst.addResult(result)
		o.observe(def.Name, name, result.Status, result.Duration)
	}

	final := StatusCompensated
	if execErr.CompensationFailed() {
		final = StatusFailed
	}
	inst.finish(final, execErr)
	o.persist(baseCtx, inst)

	return execErr
}

func (o *Orchestrator) persist(ctx context.Context, inst *Instance) {
	if err := o.store.Update(context.WithoutCancel(ctx), inst); err != nil {
		o.logger.Warn("failed to persist saga instance", "saga_id", inst.ID, "error", err)
	}
}

func (o *Orchestrator) observe(saga, step string, status StepStatus, d time.Duration) {
	if o.observer != nil {
		o.observer(saga, step, status, d)
	}
}

// GetInstance loads a saga instance by ID
func (o *Orchestrator) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return o.store.Get(ctx, id)
}
