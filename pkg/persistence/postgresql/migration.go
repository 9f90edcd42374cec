package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				presentation_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				state VARCHAR(20) NOT NULL CHECK (state IN ('COMPLETED', 'ERROR')),
				agent_results JSONB NOT NULL,
				errors JSONB NOT NULL,
				total_execution_time DOUBLE PRECISION NOT NULL,
				metadata JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_user_id ON executions(user_id, started_at DESC);
			CREATE INDEX idx_executions_completed_at ON executions(completed_at);
		`,
		2: `
			CREATE TABLE artifacts (
				execution_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				format VARCHAR(20) NOT NULL,
				content_type VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				data BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, name)
			);
		`,
	}
}
