// Package policy provides the CEL-Go based screening policy engine.
//
// Policies let a tenant route analyzer output to a workflow action without
// redeploying: a boolean CEL expression over the analysis result that, when
// true, triggers an approve/review/reject action with a reviewer-facing
// reason.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// Engine is the CEL-based policy evaluation engine.
type Engine struct {
	mu                 sync.RWMutex
	env                *cel.Env
	compiledPolicies   map[string]*CompiledPolicy
	resubmissionGetter ResubmissionGetter
	maxWorkers         int
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// ResubmissionGetter returns the number of documents a renter submitted in a
// time window. Repeated submissions of fresh document photos are a classic
// fraud pattern (retrying until one passes).
type ResubmissionGetter func(ctx context.Context, tenantID, renterID string, windowSecs int) (int64, error)

// NewEngine creates a new policy evaluation engine.
func NewEngine(resubmissionGetter ResubmissionGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with analysis variables
	env, err := cel.NewEnv(
		cel.Variable("score", cel.IntType),
		cel.Variable("is_valid", cel.BoolType),
		cel.Variable("confidence", cel.StringType),
		cel.Variable("document_type", cel.StringType),
		cel.Variable("mrz_found", cel.BoolType),
		cel.Variable("expiry_date", cel.StringType),
		cel.Variable("birth_date_found", cel.BoolType),
		cel.Variable("doc_number_found", cel.BoolType),
		cel.Variable("flags", cel.ListType(cel.StringType)),
		cel.Variable("flag_count", cel.IntType),
		cel.Variable("resubmission_count", cel.IntType),
		cel.Variable("renter_id", cel.StringType),
		cel.Variable("source", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:                env,
		compiledPolicies:   make(map[string]*CompiledPolicy),
		resubmissionGetter: resubmissionGetter,
		maxWorkers:         maxWorkers,
	}, nil
}

// ValidatePolicy compiles and validates a policy without mutating loaded engine policies.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(cfg)
	return err
}

// LoadPolicy compiles and loads a policy into the engine.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(cfg)
	if err != nil {
		return err
	}

	e.compiledPolicies[cfg.ID] = compiled

	return nil
}

// LoadPolicies compiles and loads multiple policies.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the screening data for policy evaluation.
type EvaluateInput struct {
	TenantID           string
	DocumentID         string
	RenterID           string
	Source             string
	Analysis           *domain.AnalysisResult
	ResubmissionWindow int // seconds
}

// EvaluateAll evaluates all loaded policies in parallel.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.PolicyResult, error) {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiledPolicies))
	for _, p := range e.compiledPolicies {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil, nil
	}

	// Get resubmission count if getter is available
	var resubmissionCount int64
	if e.resubmissionGetter != nil && input.ResubmissionWindow > 0 && input.RenterID != "" {
		count, err := e.resubmissionGetter(ctx, input.TenantID, input.RenterID, input.ResubmissionWindow)
		if err == nil {
			resubmissionCount = count
		}
	}

	activation := activationFor(input, resubmissionCount)

	// Parallel evaluation using worker pool pattern
	results := make([]domain.PolicyResult, len(policies))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, p := range policies {
		wg.Add(1)
		go func(idx int, cp *CompiledPolicy) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluatePolicy(cp, activation, input)
		}(i, p)
	}

	wg.Wait()

	return results, nil
}

// activationFor flattens the analysis result into CEL variables.
func activationFor(input *EvaluateInput, resubmissionCount int64) map[string]any {
	analysis := input.Analysis
	if analysis == nil {
		analysis = &domain.AnalysisResult{Flags: []string{}}
	}

	flags := analysis.Flags
	if flags == nil {
		flags = []string{}
	}

	return map[string]any{
		"score":              int64(analysis.Score),
		"is_valid":           analysis.IsValid,
		"confidence":         string(analysis.Confidence),
		"document_type":      string(analysis.DetectedType),
		"mrz_found":          analysis.ExtractedData.MRZFound,
		"expiry_date":        analysis.ExtractedData.ExpiryDate,
		"birth_date_found":   analysis.ExtractedData.BirthDate != nil,
		"doc_number_found":   analysis.ExtractedData.DocNumber != nil,
		"flags":              flags,
		"flag_count":         int64(len(flags)),
		"resubmission_count": resubmissionCount,
		"renter_id":          input.RenterID,
		"source":             input.Source,
	}
}

// evaluatePolicy evaluates a single policy and returns the result.
func (e *Engine) evaluatePolicy(cp *CompiledPolicy, activation map[string]any, input *EvaluateInput) domain.PolicyResult {
	start := time.Now()

	result := domain.PolicyResult{
		PolicyID:   cp.Config.ID,
		TenantID:   input.TenantID,
		DocumentID: input.DocumentID,
		Action:     cp.Config.Action,
	}

	out, _, err := cp.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if triggered, ok := out.(types.Bool); ok && bool(triggered) {
		result.Triggered = true
		result.Reason = cp.Config.Reason
	}

	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// PoliciesCount returns the number of loaded policies.
func (e *Engine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledPolicies)
}

// ReloadPolicies clears all existing policies and loads new ones.
// This enables hot-reloading of policies from the database.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newPolicies := make(map[string]*CompiledPolicy)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compilePolicy(cfg)
		if err != nil {
			return err
		}
		newPolicies[cfg.ID] = compiled
	}

	e.compiledPolicies = newPolicies

	return nil
}

// GetLoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) GetLoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*domain.PolicyConfig, 0, len(e.compiledPolicies))
	for _, compiled := range e.compiledPolicies {
		policies = append(policies, compiled.Config)
	}
	return policies
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledPolicies = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	switch cfg.Action {
	case domain.ActionApprove, domain.ActionReview, domain.ActionReject:
	default:
		return nil, fmt.Errorf("policy %s: unknown action %q", cfg.ID, cfg.Action)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
