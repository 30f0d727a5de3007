package postgresql

// Entities are stored as JSONB documents. Columns outside the document exist for
// filtering and ordering only.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(64) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				category VARCHAR(64) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_org ON workflow_definitions(organization_id);
			CREATE INDEX idx_workflow_definitions_category ON workflow_definitions(category);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);

			CREATE TABLE workflow_instances (
				id VARCHAR(64) PRIMARY KEY,
				definition_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				started_by VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_definition ON workflow_instances(definition_id);
			CREATE INDEX idx_workflow_instances_org_status ON workflow_instances(organization_id, status);
			CREATE INDEX idx_workflow_instances_started_at ON workflow_instances(started_at);
		`,
		2: `
			CREATE TABLE approval_requests (
				seq BIGSERIAL UNIQUE,
				id VARCHAR(64) PRIMARY KEY,
				instance_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				assignee VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				document JSONB NOT NULL,
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_requests_instance ON approval_requests(instance_id);
			CREATE INDEX idx_approval_requests_pending ON approval_requests(status, assignee);

			CREATE TABLE workflow_templates (
				id VARCHAR(128) PRIMARY KEY,
				category VARCHAR(64) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
