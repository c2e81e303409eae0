package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pipecast/pipecast/pkg/models"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/persistence/memory"
	"github.com/pipecast/pipecast/pkg/pipeline"
)

// fakeResolver records the resolve requests the service hands to the engine.
type fakeResolver struct {
	mu       sync.Mutex
	requests []pipeline.ResolveRequest
	err      error
}

func (r *fakeResolver) ResolveApproval(_ context.Context, req pipeline.ResolveRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.requests = append(r.requests, req)

	return nil
}

// noopScheduler satisfies the engine's delayed-work dependency in tests that
// never reach scheduling.
type noopScheduler struct{}

func (noopScheduler) EnqueueVideoPoll(context.Context, string, time.Duration) error {
	return nil
}

func (noopScheduler) EnqueueScheduledPublish(context.Context, string, time.Time) error {
	return nil
}

func newTestApproval(t *testing.T) (*Approval, *fakeResolver, persistence.Persistence) {
	t.Helper()

	persist := memory.NewPersistence()
	resolver := &fakeResolver{}

	return NewApproval(persist, resolver, testLogger()), resolver, persist
}

func seedApproval(t *testing.T, persist persistence.Persistence, executionID string) *models.WorkflowApproval {
	t.Helper()

	approval := &models.WorkflowApproval{
		ExecutionID:  executionID,
		ScriptID:     "script-1",
		ArtifactHash: "sha256:feedbeef",
	}

	err := persist.ApprovalRepository().Create(t.Context(), approval)
	require.NoError(t, err)

	return approval
}

func TestApproval_Resolve_MapsRequestToEngine(t *testing.T) {
	service, resolver, persist := newTestApproval(t)
	approval := seedApproval(t, persist, "exec-1")

	_, err := service.Resolve(t.Context(), ResolveApprovalRequest{
		ApprovalID:   approval.ID,
		Decision:     "approved",
		Approver:     "reviewer@example.com",
		ArtifactHash: "sha256:feedbeef",
		Feedback:     "tightened the hook",
		Edit: &ScriptEditRequest{
			Hook:     "A sharper opening line.",
			Hashtags: []string{"#golang"},
		},
	})
	require.NoError(t, err)

	require.Len(t, resolver.requests, 1)
	got := resolver.requests[0]
	assert.Equal(t, approval.ID, got.ApprovalID)
	assert.Equal(t, models.ApprovalStatusApproved, got.Decision)
	assert.Equal(t, "reviewer@example.com", got.Approver)
	assert.Equal(t, "sha256:feedbeef", got.ArtifactHash)
	assert.Equal(t, "tightened the hook", got.Feedback)
	require.NotNil(t, got.Edit)
	assert.Equal(t, "A sharper opening line.", got.Edit.Hook)
	assert.Equal(t, []string{"#golang"}, got.Edit.Hashtags)
	assert.Empty(t, got.Edit.Body)
}

func TestApproval_Resolve_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(req *ResolveApprovalRequest)
		wantCode string
	}{
		{
			name:     "missing approval id",
			mutate:   func(req *ResolveApprovalRequest) { req.ApprovalID = " " },
			wantCode: "APPROVAL_ID_REQUIRED",
		},
		{
			name:     "invalid decision",
			mutate:   func(req *ResolveApprovalRequest) { req.Decision = "maybe" },
			wantCode: "INVALID_DECISION",
		},
		{
			name:     "missing approver",
			mutate:   func(req *ResolveApprovalRequest) { req.Approver = "" },
			wantCode: "APPROVER_REQUIRED",
		},
		{
			name:     "missing artifact hash",
			mutate:   func(req *ResolveApprovalRequest) { req.ArtifactHash = "" },
			wantCode: "ARTIFACT_HASH_REQUIRED",
		},
		{
			name: "edits on a rejection",
			mutate: func(req *ResolveApprovalRequest) {
				req.Decision = "rejected"
				req.Edit = &ScriptEditRequest{Body: "rewritten"}
			},
			wantCode: "EDIT_ON_REJECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, resolver, _ := newTestApproval(t)

			req := ResolveApprovalRequest{
				ApprovalID:   "approval-1",
				Decision:     "approved",
				Approver:     "reviewer@example.com",
				ArtifactHash: "sha256:feedbeef",
			}
			tt.mutate(&req)

			_, err := service.Resolve(t.Context(), req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)

			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantCode, svcErr.Code)

			// The engine never saw the invalid request.
			assert.Empty(t, resolver.requests)
		})
	}
}

func TestApproval_Resolve_EnginePathReturnsResolvedApproval(t *testing.T) {
	persist := memory.NewPersistence()
	bus := &recordingPublisher{}

	engine := pipeline.NewEngine(pipeline.Deps{
		Logger:      testLogger(),
		Persistence: persist,
		EventBus:    bus,
		Scheduler:   noopScheduler{},
		Tracer:      noop.NewTracerProvider().Tracer("test"),
		WorkerID:    "worker-test",
	})

	service := NewApproval(persist, engine, testLogger())

	execution := &models.WorkflowExecution{
		OwnerID: "owner-1",
		Kind:    "research-to-publish",
		Config:  validConfig(),
	}
	require.NoError(t, persist.WorkflowRepository().Create(t.Context(), execution))

	// Walk the execution to the approval checkpoint the way stage handlers
	// would.
	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing,
		models.WorkflowStatusScriptGeneration,
		models.WorkflowStatusAwaitingApproval,
	} {
		require.NoError(t, persist.WorkflowRepository().Transition(t.Context(), execution, status))
	}

	approval := seedApproval(t, persist, execution.ID)

	resolved, err := service.Resolve(t.Context(), ResolveApprovalRequest{
		ApprovalID:   approval.ID,
		Decision:     "approved",
		Approver:     "reviewer@example.com",
		ArtifactHash: approval.ArtifactHash,
	})
	require.NoError(t, err)
	require.NotNil(t, resolved)

	// The response body reflects post-resolution state, not the request.
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "reviewer@example.com", resolved.Approver)
	assert.NotNil(t, resolved.ResolvedAt)

	reloaded, err := persist.WorkflowRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusApproved, reloaded.Status)
}

func TestApproval_GetByExecution(t *testing.T) {
	service, _, persist := newTestApproval(t)
	seeded := seedApproval(t, persist, "exec-1")

	approval, err := service.GetByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, approval.ID)
}

func TestApproval_GetByExecution_NotFound(t *testing.T) {
	service, _, _ := newTestApproval(t)

	approval, err := service.GetByExecution(t.Context(), "exec-unknown")
	require.Error(t, err)
	assert.Nil(t, approval)
	assert.ErrorIs(t, err, ErrApprovalNotFound)
	assert.True(t, persistence.IsNotFound(err))
}

func TestApproval_ListPending(t *testing.T) {
	service, _, persist := newTestApproval(t)

	seedApproval(t, persist, "exec-1")
	second := seedApproval(t, persist, "exec-2")

	pending, err := service.ListPending(t.Context())
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Resolving one shrinks the queue.
	execution := &models.WorkflowExecution{
		ID:      "exec-2",
		OwnerID: "owner-1",
		Kind:    "research-to-publish",
		Config:  validConfig(),
	}
	require.NoError(t, persist.WorkflowRepository().Create(t.Context(), execution))

	// Walk the fresh row to the checkpoint before resolving.
	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusResearching,
		models.WorkflowStatusAnalyzing,
		models.WorkflowStatusScriptGeneration,
		models.WorkflowStatusAwaitingApproval,
	} {
		require.NoError(t, persist.WorkflowRepository().Transition(t.Context(), execution, status))
	}

	second.Status = models.ApprovalStatusApproved
	second.Approver = "reviewer@example.com"
	require.NoError(t, persist.ApprovalRepository().Resolve(t.Context(), execution, second, nil, models.WorkflowStatusApproved))

	pending, err = service.ListPending(t.Context())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "exec-1", pending[0].ExecutionID)
}
