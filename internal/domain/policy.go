package domain

// PolicyConfig defines a screening policy configuration.
// Policies route analyzer output to a workflow action: a CEL expression over
// the analysis result that, when true, triggers the configured action.
type PolicyConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate against the analysis result
	Expression string `json:"expression"`

	// Action taken when the expression is true
	Action string `json:"action"` // "approve", "review" or "reject"

	// Human-readable reason shown to reviewers when triggered
	Reason string `json:"reason"`

	// Whether policy is active
	Enabled bool `json:"enabled"`
}

// PolicyResult is the output of a policy evaluation.
type PolicyResult struct {
	PolicyID   string `json:"policyId"`
	TenantID   string `json:"tenantId"`
	DocumentID string `json:"documentId"`
	Triggered  bool   `json:"triggered"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	ProcessMs  int64  `json:"processMs"`
}

// Predefined policy actions, ordered by severity.
const (
	ActionApprove = "approve"
	ActionReview  = "review"
	ActionReject  = "reject"
)

// ActionSeverity ranks actions so the most severe triggered policy wins.
func ActionSeverity(action string) int {
	switch action {
	case ActionReject:
		return 2
	case ActionReview:
		return 1
	default:
		return 0
	}
}
