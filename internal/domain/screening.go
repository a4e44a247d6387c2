package domain

import (
	"time"
)

// Screening represents the complete screening result for a document.
type Screening struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	DocumentID string    `json:"documentId"`
	Status     string    `json:"status"` // "APRV", "REVW" or "RJCT"
	Score      int       `json:"score"`
	Timestamp  time.Time `json:"timestamp"`

	// Analyzer output
	Analysis AnalysisResult `json:"analysis"`

	// Policy results (if any policies are loaded)
	PolicyResults []PolicyResult `json:"policyResults,omitempty"`

	// Processing metadata
	Metadata ScreeningMetadata `json:"metadata"`
}

// ScreeningMetadata contains processing information.
type ScreeningMetadata struct {
	TraceID           string `json:"traceId"`
	IngestMs          int64  `json:"ingestMs"`
	AnalyzeMs         int64  `json:"analyzeMs"`
	DecisionMs        int64  `json:"decisionMs"`
	TotalMs           int64  `json:"totalMs"`
	PoliciesEvaluated int    `json:"policiesEvaluated"`
	EngineVersion     string `json:"engineVersion"`
}

// ScreeningResponse is the API response for a document screening.
type ScreeningResponse struct {
	ScreeningID string            `json:"screeningId"`
	DocumentID  string            `json:"documentId"`
	TenantID    string            `json:"tenantId"`
	Status      string            `json:"status"` // "APPROVED", "REVIEW" or "REJECTED"
	Score       int               `json:"score"`
	Analysis    AnalysisResult    `json:"analysis"`
	Reasons     []string          `json:"reasons,omitempty"`
	Metadata    ScreeningMetadata `json:"metadata"`
}

// Decision status constants
const (
	StatusApproved = "APRV" // Document passed screening
	StatusReview   = "REVW" // Needs human review
	StatusRejected = "RJCT" // Rejected outright
)

// API-friendly status
const (
	StatusApprovedAPI = "APPROVED"
	StatusReviewAPI   = "REVIEW"
	StatusRejectedAPI = "REJECTED"
)

// ToResponse converts a Screening to an API response.
func (s *Screening) ToResponse() *ScreeningResponse {
	status := StatusApprovedAPI
	switch s.Status {
	case StatusReview:
		status = StatusReviewAPI
	case StatusRejected:
		status = StatusRejectedAPI
	}

	reasons := append([]string{}, s.Analysis.Flags...)
	for _, pr := range s.PolicyResults {
		if pr.Triggered && pr.Reason != "" {
			reasons = append(reasons, pr.Reason)
		}
	}

	return &ScreeningResponse{
		ScreeningID: s.ID,
		DocumentID:  s.DocumentID,
		TenantID:    s.TenantID,
		Status:      status,
		Score:       s.Score,
		Analysis:    s.Analysis,
		Reasons:     reasons,
		Metadata:    s.Metadata,
	}
}
