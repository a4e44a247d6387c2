package policy

import (
	"context"
	"testing"

	"github.com/opensource-ident/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.PoliciesCount() != 0 {
		t.Errorf("expected 0 policies, got %d", engine.PoliciesCount())
	}
}

func TestLoadPolicy(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	policy := &domain.PolicyConfig{
		ID:         "low-score-review",
		Name:       "Low Score Review",
		Expression: "score < 50",
		Action:     domain.ActionReview,
		Reason:     "Score below review threshold",
		Enabled:    true,
	}

	if err := engine.LoadPolicy(policy); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	if engine.PoliciesCount() != 1 {
		t.Errorf("expected 1 policy, got %d", engine.PoliciesCount())
	}
}

func TestLoadInvalidPolicy(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	t.Run("BadExpression", func(t *testing.T) {
		err := engine.LoadPolicy(&domain.PolicyConfig{
			ID:         "invalid-policy",
			Expression: "this is not valid CEL !!!",
			Action:     domain.ActionReview,
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("NonBoolExpression", func(t *testing.T) {
		err := engine.LoadPolicy(&domain.PolicyConfig{
			ID:         "non-bool",
			Expression: "score + 1",
			Action:     domain.ActionReview,
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for non-boolean expression")
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		err := engine.LoadPolicy(&domain.PolicyConfig{
			ID:         "bad-action",
			Expression: "score < 50",
			Action:     "escalate",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for unknown action")
		}
	})
}

func TestEvaluatePolicies(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	policies := []*domain.PolicyConfig{
		{
			ID:         "reject-no-mrz-passport",
			Expression: `document_type == "Passport" && !mrz_found`,
			Action:     domain.ActionReject,
			Reason:     "Passport without machine-readable zone",
			Enabled:    true,
		},
		{
			ID:         "review-minor",
			Expression: `flags.exists(f, f.contains("minor"))`,
			Action:     domain.ActionReview,
			Reason:     "Possible underage driver",
			Enabled:    true,
		},
	}
	if err := engine.LoadPolicies(policies); err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}

	ctx := context.Background()

	input := &EvaluateInput{
		TenantID:   "tenant-001",
		DocumentID: "doc-001",
		RenterID:   "renter-001",
		Analysis: &domain.AnalysisResult{
			Score:        40,
			DetectedType: domain.TypePassport,
			Flags:        []string{"Driver possibly a minor"},
		},
	}

	results, err := engine.EvaluateAll(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	triggered := map[string]bool{}
	for _, r := range results {
		triggered[r.PolicyID] = r.Triggered
		if r.Error != "" {
			t.Errorf("policy %s errored: %s", r.PolicyID, r.Error)
		}
	}

	if !triggered["reject-no-mrz-passport"] {
		t.Error("expected passport-without-MRZ policy to trigger")
	}
	if !triggered["review-minor"] {
		t.Error("expected minor-flag policy to trigger")
	}
}

func TestEvaluateWithResubmissionCount(t *testing.T) {
	getter := func(ctx context.Context, tenantID, renterID string, windowSecs int) (int64, error) {
		return 5, nil
	}

	engine, _ := NewEngine(getter, 5)
	defer engine.Close()

	engine.LoadPolicy(&domain.PolicyConfig{
		ID:         "resubmission-review",
		Expression: "resubmission_count > 3",
		Action:     domain.ActionReview,
		Reason:     "Too many document submissions",
		Enabled:    true,
	})

	input := &EvaluateInput{
		TenantID:           "tenant-001",
		DocumentID:         "doc-001",
		RenterID:           "renter-001",
		Analysis:           &domain.AnalysisResult{Flags: []string{}},
		ResubmissionWindow: 3600,
	}

	results, err := engine.EvaluateAll(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 || !results[0].Triggered {
		t.Errorf("expected resubmission policy to trigger, got %+v", results)
	}
}

func TestReloadPolicies(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadPolicy(&domain.PolicyConfig{
		ID:         "old",
		Expression: "true",
		Action:     domain.ActionReview,
		Enabled:    true,
	})

	err := engine.ReloadPolicies([]*domain.PolicyConfig{
		{ID: "new-1", Expression: "score < 30", Action: domain.ActionReject, Enabled: true},
		{ID: "new-2", Expression: "flag_count > 2", Action: domain.ActionReview, Enabled: true},
		{ID: "disabled", Expression: "true", Action: domain.ActionReview, Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if engine.PoliciesCount() != 2 {
		t.Errorf("expected 2 policies after reload, got %d", engine.PoliciesCount())
	}

	for _, p := range engine.GetLoadedPolicies() {
		if p.ID == "old" {
			t.Error("old policy should be gone after reload")
		}
	}
}

func TestDisabledPoliciesNotLoaded(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadPolicies([]*domain.PolicyConfig{
		{ID: "off", Expression: "true", Action: domain.ActionReview, Enabled: false},
	})

	if engine.PoliciesCount() != 0 {
		t.Errorf("disabled policy must not load, got %d", engine.PoliciesCount())
	}
}
