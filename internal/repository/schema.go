package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    renter_id TEXT NOT NULL,
    reservation_id TEXT,
    source TEXT NOT NULL,
    text TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);
CREATE INDEX IF NOT EXISTS idx_documents_renter ON documents(tenant_id, renter_id);
CREATE INDEX IF NOT EXISTS idx_documents_submitted ON documents(tenant_id, renter_id, submitted_at);
`

const schemaPolicyConfigs = `
CREATE TABLE IF NOT EXISTS policy_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policy_configs_tenant ON policy_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policy_configs_enabled ON policy_configs(tenant_id, enabled);
`

const schemaScreenings = `
CREATE TABLE IF NOT EXISTS screenings (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    status TEXT NOT NULL,
    score INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    analysis TEXT NOT NULL,
    policy_results TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screenings_tenant ON screenings(tenant_id);
CREATE INDEX IF NOT EXISTS idx_screenings_document ON screenings(tenant_id, document_id);
CREATE INDEX IF NOT EXISTS idx_screenings_status ON screenings(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_screenings_timestamp ON screenings(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDocuments,
		schemaPolicyConfigs,
		schemaScreenings,
	}
}
