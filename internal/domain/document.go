package domain

import (
	"time"
)

// Document represents an identity document submission to be screened.
// The text is whatever the upstream OCR collaborator extracted from the
// uploaded image; the image itself never reaches this service.
type Document struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Parties involved
	RenterID      string `json:"renterId"`
	ReservationID string `json:"reservationId,omitempty"`

	// Source of the submission (e.g., "client-app", "back-office")
	Source string `json:"source"`

	// Raw OCR text
	Text string `json:"text"`

	// Temporal
	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
