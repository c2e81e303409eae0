package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Core pipeline tables

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				kind VARCHAR(255) NOT NULL,
				config JSONB NOT NULL,
				status VARCHAR(50) NOT NULL,
				error_message TEXT,
				results JSONB,
				version INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_owner_id ON workflow_executions(owner_id);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);
			CREATE INDEX idx_workflow_executions_deleted_at ON workflow_executions(deleted_at);

			CREATE TABLE research_sessions (
				id UUID PRIMARY KEY,
				execution_id UUID REFERENCES workflow_executions(id) ON DELETE CASCADE,
				source VARCHAR(50) NOT NULL,
				query TEXT NOT NULL,
				max_items INTEGER NOT NULL DEFAULT 25,
				analysis_depth VARCHAR(20) NOT NULL DEFAULT 'standard',
				status VARCHAR(20) NOT NULL,
				results_count INTEGER NOT NULL DEFAULT 0,
				raw_data JSONB,
				insights JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_research_sessions_execution_id ON research_sessions(execution_id);
			CREATE INDEX idx_research_sessions_status ON research_sessions(status);

			CREATE TABLE script_generations (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				origin VARCHAR(20) NOT NULL DEFAULT 'generated',
				title TEXT NOT NULL,
				hook TEXT,
				body TEXT NOT NULL,
				call_to_action TEXT,
				hashtags JSONB,
				word_count INTEGER NOT NULL DEFAULT 0,
				artifact_hash VARCHAR(80) NOT NULL,
				model VARCHAR(100),
				prompt_notes TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_script_generations_execution ON script_generations(execution_id, created_at DESC);

			CREATE TABLE video_generation_tasks (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				script_id UUID NOT NULL REFERENCES script_generations(id),
				provider_task_id VARCHAR(255),
				avatar_id VARCHAR(255),
				voice_id VARCHAR(255),
				aspect_ratio VARCHAR(10),
				status VARCHAR(20) NOT NULL,
				video_url TEXT,
				mirrored_url TEXT,
				duration_seconds DOUBLE PRECISION,
				error_message TEXT,
				last_polled_at TIMESTAMP WITH TIME ZONE,
				submitted_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_video_tasks_execution_id ON video_generation_tasks(execution_id);
			CREATE INDEX idx_video_tasks_provider_task_id ON video_generation_tasks(provider_task_id);

			-- At most one live render per execution
			CREATE UNIQUE INDEX idx_video_tasks_one_active ON video_generation_tasks(execution_id)
				WHERE status IN ('pending', 'processing');

			CREATE TABLE workflow_approvals (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				script_id UUID NOT NULL REFERENCES script_generations(id),
				video_task_id UUID REFERENCES video_generation_tasks(id),
				artifact_hash VARCHAR(80) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				approver VARCHAR(255),
				feedback TEXT,
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_approvals_execution ON workflow_approvals(execution_id);
			CREATE INDEX idx_workflow_approvals_status ON workflow_approvals(status);

			CREATE TABLE publication_records (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				platform VARCHAR(20) NOT NULL,
				status VARCHAR(20) NOT NULL,
				platform_ref VARCHAR(255),
				post_url TEXT,
				caption TEXT,
				error_message TEXT,
				published_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, platform)
			);

			CREATE INDEX idx_publication_records_execution_id ON publication_records(execution_id);
		`,
		2: `
			-- Migration 2: engagement counters refreshed after publishing

			ALTER TABLE publication_records
				ADD COLUMN views BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN likes BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN comments BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN shares BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN engagement_refreshed_at TIMESTAMP WITH TIME ZONE;

			CREATE INDEX idx_publication_records_refresh ON publication_records(engagement_refreshed_at)
				WHERE status = 'published';
		`,
		3: `
			-- Migration 3: generation parameters on script artifacts, render thumbnails

			ALTER TABLE script_generations
				ADD COLUMN content_type VARCHAR(30),
				ADD COLUMN target_audience VARCHAR(255),
				ADD COLUMN style VARCHAR(100),
				ADD COLUMN duration_target_seconds INTEGER NOT NULL DEFAULT 0,
				ADD COLUMN quality_score DOUBLE PRECISION NOT NULL DEFAULT 0;

			ALTER TABLE video_generation_tasks
				ADD COLUMN thumbnail_url TEXT;
		`,
	}
}
