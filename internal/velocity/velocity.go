// Package velocity provides document resubmission counting.
package velocity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// Service counts how often a renter resubmits documents. A renter uploading
// document photos in quick succession is usually retrying a forgery until
// one slips through.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	db    *sql.DB // Direct DB access for custom queries
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// GetResubmissionCount returns the number of documents a renter submitted
// within a time window. This is the ResubmissionGetter function signature
// expected by the policy engine.
func (s *Service) GetResubmissionCount(ctx context.Context, tenantID, renterID string, windowSecs int) (int64, error) {
	if tenantID == "" || renterID == "" {
		return 0, fmt.Errorf("tenantID and renterID are required")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)

	if s.db != nil {
		return s.countFromDB(ctx, tenantID, renterID, since)
	}

	if s.repo != nil {
		return s.countFromRepo(ctx, tenantID, renterID, since)
	}

	return 0, fmt.Errorf("no data source available")
}

// countFromDB queries the database directly for the submission count.
func (s *Service) countFromDB(ctx context.Context, tenantID, renterID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM documents
		WHERE tenant_id = ?
		AND renter_id = ?
		AND submitted_at >= ?
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query, tenantID, renterID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	return count, nil
}

// countFromRepo uses the repository to fetch the renter's documents and count them.
func (s *Service) countFromRepo(ctx context.Context, tenantID, renterID string, since time.Time) (int64, error) {
	docs, err := s.repo.GetDocumentsByRenter(ctx, tenantID, renterID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to get documents: %w", err)
	}
	return int64(len(docs)), nil
}

// GetResubmissionGetter returns a ResubmissionGetter function for the policy engine.
func (s *Service) GetResubmissionGetter() func(ctx context.Context, tenantID, renterID string, windowSecs int) (int64, error) {
	return s.GetResubmissionCount
}
