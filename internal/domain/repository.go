// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Document operations
	SaveDocument(ctx context.Context, tenantID string, doc *Document) error
	GetDocument(ctx context.Context, tenantID string, docID string) (*Document, error)
	GetDocumentsByRenter(ctx context.Context, tenantID string, renterID string, since time.Time) ([]*Document, error)

	// Policy configuration operations
	SavePolicyConfig(ctx context.Context, tenantID string, policy *PolicyConfig) error
	GetPolicyConfig(ctx context.Context, tenantID string, policyID string) (*PolicyConfig, error)
	ListPolicyConfigs(ctx context.Context, tenantID string) ([]*PolicyConfig, error)
	DeletePolicyConfig(ctx context.Context, tenantID string, policyID string) error

	// Screening results
	SaveScreening(ctx context.Context, tenantID string, screening *Screening) error
	GetScreening(ctx context.Context, tenantID string, screeningID string) (*Screening, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
