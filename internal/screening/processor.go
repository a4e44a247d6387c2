// Package screening aggregates analyzer output and policy results into the
// final decision artifact handed to the review workflow.
package screening

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// EngineVersion is stamped into every screening for audit trails.
const EngineVersion = "kestrel-1.0"

// Processor produces a final screening decision from an analysis result and
// the policies it triggered.
type Processor struct{}

// NewProcessor creates a new decision processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID   string
	DocumentID string
	TraceID    string

	Analysis      *domain.AnalysisResult
	PolicyResults []domain.PolicyResult

	IngestMs  int64
	AnalyzeMs int64
	StartTime time.Time
}

// Process combines the analyzer verdict with triggered policies.
//
// The baseline comes from the analyzer: a valid document is approved, an
// invalid one goes to review (never auto-rejected; a human makes that call
// unless a policy says otherwise). The most severe triggered policy action
// then wins: reject > review > approve. An approve policy cannot downgrade
// an invalid document below review.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Screening {
	start := time.Now()

	analysis := input.Analysis
	if analysis == nil {
		analysis = &domain.AnalysisResult{
			DetectedType: domain.TypeUnknown,
			Confidence:   domain.ConfidenceLow,
			Flags:        []string{},
		}
	}

	status := domain.StatusApproved
	if !analysis.IsValid {
		status = domain.StatusReview
	}

	severity := statusSeverity(status)
	for _, pr := range input.PolicyResults {
		if !pr.Triggered {
			continue
		}
		if s := domain.ActionSeverity(pr.Action); s > severity {
			severity = s
			status = statusForSeverity(s)
		}
	}

	decisionMs := time.Since(start).Milliseconds()
	totalMs := time.Since(input.StartTime).Milliseconds()

	return &domain.Screening{
		ID:            uuid.New().String(),
		TenantID:      input.TenantID,
		DocumentID:    input.DocumentID,
		Status:        status,
		Score:         analysis.Score,
		Timestamp:     time.Now().UTC(),
		Analysis:      *analysis,
		PolicyResults: input.PolicyResults,
		Metadata: domain.ScreeningMetadata{
			TraceID:           input.TraceID,
			IngestMs:          input.IngestMs,
			AnalyzeMs:         input.AnalyzeMs,
			DecisionMs:        decisionMs,
			TotalMs:           totalMs,
			PoliciesEvaluated: len(input.PolicyResults),
			EngineVersion:     EngineVersion,
		},
	}
}

func statusSeverity(status string) int {
	switch status {
	case domain.StatusRejected:
		return 2
	case domain.StatusReview:
		return 1
	default:
		return 0
	}
}

func statusForSeverity(severity int) string {
	switch severity {
	case 2:
		return domain.StatusRejected
	case 1:
		return domain.StatusReview
	default:
		return domain.StatusApproved
	}
}

// ShouldAlert returns true if the screening needs back-office attention.
func ShouldAlert(s *domain.Screening) bool {
	return s.Status != domain.StatusApproved
}

// GetReasons extracts human-readable reasons from a screening: analyzer
// flags first, then triggered policy reasons, in detection order.
func GetReasons(s *domain.Screening) []string {
	reasons := append([]string{}, s.Analysis.Flags...)
	for _, pr := range s.PolicyResults {
		if pr.Triggered && pr.Reason != "" {
			reasons = append(reasons, pr.Reason)
		}
	}
	return reasons
}
