package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

var receivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rawEvent(provider, kind, body string) models.RawWebhookEvent {
	return models.RawWebhookEvent{
		Provider:   provider,
		DeliveryID: "d-100",
		Kind:       kind,
		Body:       []byte(body),
		ReceivedAt: receivedAt,
	}
}

func fixedID() Option {
	return WithIDGenerator(func() string { return "evt-1" })
}

const githubPushBody = `{
	"ref": "refs/heads/main",
	"before": "aaa",
	"after": "bbb",
	"repository": {"full_name": "acme/api"},
	"pusher": {"name": "octo"},
	"head_commit": {"id": "bbb", "message": "fix build", "timestamp": "2024-05-01T11:59:00Z"},
	"commits": [{"id": "bbb"}, {"id": "ccc"}]
}`

func TestNormalize_Providers(t *testing.T) {
	tests := []struct {
		name       string
		raw        models.RawWebhookEvent
		entityKey  string
		eventType  models.EventType
		occurredAt time.Time
		fields     map[string]interface{}
	}{
		{
			name:       "github push",
			raw:        rawEvent("github", "push", githubPushBody),
			entityKey:  "repo:acme/api",
			eventType:  models.EventTypePush,
			occurredAt: time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
			fields: map[string]interface{}{
				"branch":       "main",
				"commit_count": 2,
				"pusher":       "octo",
			},
		},
		{
			name: "github pull request opened",
			raw: rawEvent("github", "pull_request", `{
				"action": "opened", "number": 7,
				"repository": {"full_name": "acme/api"},
				"pull_request": {"title": "Add cache", "user": {"login": "dev"},
					"created_at": "2024-05-01T10:00:00Z",
					"base": {"ref": "main"}, "head": {"ref": "cache", "sha": "abc"}}
			}`),
			entityKey:  "repo:acme/api",
			eventType:  models.EventTypePROpened,
			occurredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"number": 7, "author": "dev", "base": "main"},
		},
		{
			name: "github pull request merged",
			raw: rawEvent("github", "pull_request", `{
				"action": "closed", "number": 7,
				"repository": {"full_name": "acme/api"},
				"pull_request": {"merged": true, "merged_by": {"login": "lead"}, "merged_at": "2024-05-01T11:00:00Z"}
			}`),
			entityKey:  "repo:acme/api",
			eventType:  models.EventTypePRMerged,
			occurredAt: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"merged_by": "lead"},
		},
		{
			name: "github workflow run",
			raw: rawEvent("github", "workflow_run", `{
				"action": "completed",
				"repository": {"full_name": "acme/api"},
				"workflow_run": {"id": 42, "name": "CI", "status": "completed", "conclusion": "failure",
					"head_branch": "main", "updated_at": "2024-05-01T11:30:00Z"}
			}`),
			entityKey:  "pipeline:acme/api/42",
			eventType:  models.EventTypePipelineRun,
			occurredAt: time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC),
			fields:     map[string]interface{}{"conclusion": "failure", "pipeline": "CI"},
		},
		{
			name: "github deployment status",
			raw: rawEvent("github", "deployment_status", `{
				"repository": {"full_name": "acme/api"},
				"deployment": {"id": 9, "sha": "abc", "ref": "main"},
				"deployment_status": {"state": "success", "environment": "production"}
			}`),
			entityKey:  "repo:acme/api",
			eventType:  models.EventTypeDeployment,
			occurredAt: receivedAt,
			fields:     map[string]interface{}{"environment": "production", "state": "success"},
		},
		{
			name: "gitlab push by header",
			raw: rawEvent("gitlab", "Push Hook", `{
				"ref": "refs/heads/dev", "user_username": "jo", "total_commits_count": 3,
				"project": {"path_with_namespace": "acme/web"},
				"commits": [{"id": "1", "timestamp": "2024-05-01T09:00:00+00:00"}]
			}`),
			entityKey:  "repo:acme/web",
			eventType:  models.EventTypePush,
			occurredAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"branch": "dev", "commit_count": 3, "pusher": "jo"},
		},
		{
			name: "gitlab merge request merged",
			raw: rawEvent("gitlab", "Merge Request Hook", `{
				"object_kind": "merge_request",
				"user": {"username": "jo"},
				"project": {"path_with_namespace": "acme/web"},
				"object_attributes": {"iid": 5, "action": "merge", "updated_at": "2024-05-01 08:00:00 UTC",
					"source_branch": "feature", "target_branch": "main"}
			}`),
			entityKey:  "repo:acme/web",
			eventType:  models.EventTypePRMerged,
			occurredAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"number": 5, "head": "feature"},
		},
		{
			name: "gitlab pipeline",
			raw: rawEvent("gitlab", "Pipeline Hook", `{
				"object_kind": "pipeline",
				"project": {"path_with_namespace": "acme/web"},
				"object_attributes": {"id": 300, "ref": "main", "status": "failed", "duration": 61,
					"created_at": "2024-05-01 07:00:00 UTC", "finished_at": "2024-05-01 07:01:01 UTC"}
			}`),
			entityKey:  "pipeline:acme/web/300",
			eventType:  models.EventTypePipelineRun,
			occurredAt: time.Date(2024, 5, 1, 7, 1, 1, 0, time.UTC),
			fields:     map[string]interface{}{"status": "failed", "duration_seconds": 61},
		},
		{
			name: "bitbucket push",
			raw: rawEvent("bitbucket", "repo:push", `{
				"repository": {"full_name": "acme/infra"},
				"actor": {"nickname": "ops"},
				"push": {"changes": [{"commits": [{"hash": "x"}],
					"new": {"name": "main", "target": {"hash": "x", "date": "2024-05-01T06:00:00+00:00"}}}]}
			}`),
			entityKey:  "repo:acme/infra",
			eventType:  models.EventTypePush,
			occurredAt: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"branch": "main", "commit_count": 1},
		},
		{
			name: "bitbucket pull request fulfilled",
			raw: rawEvent("bitbucket", "pullrequest:fulfilled", `{
				"repository": {"full_name": "acme/infra"},
				"actor": {"nickname": "lead"},
				"pullrequest": {"id": 12, "state": "MERGED", "updated_on": "2024-05-01T05:00:00Z"}
			}`),
			entityKey:  "repo:acme/infra",
			eventType:  models.EventTypePRMerged,
			occurredAt: time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC),
			fields:     map[string]interface{}{"number": 12, "merged_by": "lead"},
		},
		{
			name: "bitbucket commit status",
			raw: rawEvent("bitbucket", "repo:commit_status_updated", `{
				"repository": {"full_name": "acme/infra"},
				"commit_status": {"key": "build-1", "name": "Build", "state": "FAILED"}
			}`),
			entityKey:  "pipeline:acme/infra/build-1",
			eventType:  models.EventTypePipelineRun,
			occurredAt: receivedAt,
			fields:     map[string]interface{}{"status": "FAILED"},
		},
		{
			name: "terraform run",
			raw: rawEvent("terraform", "", `{
				"payload_version": 1, "run_id": "run-1",
				"organization_name": "acme", "workspace_name": "prod-network",
				"run_created_at": "2024-05-01T04:00:00Z",
				"notifications": [{"trigger": "run:errored", "run_status": "errored",
					"run_updated_at": "2024-05-01T04:05:00Z"}]
			}`),
			entityKey:  "workspace:acme/prod-network",
			eventType:  models.EventTypeIaCRun,
			occurredAt: time.Date(2024, 5, 1, 4, 5, 0, 0, time.UTC),
			fields:     map[string]interface{}{"status": "errored", "trigger": "run:errored"},
		},
		{
			name: "kubernetes warning",
			raw: rawEvent("kubernetes", "", `{
				"cluster": "prod-eu", "namespace": "api", "kind": "Pod", "name": "api-1",
				"reason": "CrashLoopBackOff", "type": "Warning", "count": 4
			}`),
			entityKey:  "cluster:prod-eu",
			eventType:  models.EventTypeClusterEvent,
			occurredAt: receivedAt,
			fields:     map[string]interface{}{"reason": "CrashLoopBackOff", "severity": "warning", "count": 4},
		},
		{
			name: "cost alert",
			raw: rawEvent("cost", "", `{
				"account_id": "123456", "cloud": "aws", "service": "ec2",
				"amount": 1200.5, "threshold": 1000, "currency": "USD"
			}`),
			entityKey:  "account:123456",
			eventType:  models.EventTypeCostAlert,
			occurredAt: receivedAt,
			fields:     map[string]interface{}{"amount": 1200.5, "exceeded": true},
		},
	}

	n   := New(fixedID())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := n.Normalize(tt.raw)
			require.NoError(t, err)

			assert.Equal(t, "evt-1", event.EventID)
			assert.Equal(t, tt.entityKey, event.EntityKey)
			assert.Equal(t, tt.eventType, event.Type)
			assert.Equal(t, uint64(0), event.Sequence)
			assert.True(t, tt.occurredAt.Equal(event.OccurredAt), "occurred_at %s", event.OccurredAt)
			assert.Equal(t, receivedAt, event.ReceivedAt)
			assert.Equal(t, tt.raw.Provider, event.Provider)
			assert.Equal(t, "d-100", event.DeliveryID)
			assert.Equal(t, models.PayloadSchemaVersion, event.Payload["schema_version"])
			for k, v := range tt.fields {
				assert.Equal(t, v, event.Payload[k], "field %s", k)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawWebhookEvent
	}{
		{name: "not json", raw: rawEvent("github", "push", `{not json`)},
		{name: "missing repository", raw: rawEvent("github", "push", `{"ref": "refs/heads/main"}`)},
		{name: "unsupported github kind", raw: rawEvent("github", "star", `{}`)},
		{name: "missing kind", raw: rawEvent("github", "", githubPushBody)},
		{name: "pull request synchronize", raw: rawEvent("github", "pull_request", `{"action": "synchronize", "number": 1, "repository": {"full_name": "a/b"}}`)},
		{name: "gitlab without project", raw: rawEvent("gitlab", "Push Hook", `{"ref": "main"}`)},
		{name: "gitlab unknown kind", raw: rawEvent("gitlab", "Note Hook", `{"project": {"path_with_namespace": "a/b"}}`)},
		{name: "terraform without notifications", raw: rawEvent("terraform", "", `{"organization_name": "a", "workspace_name": "b"}`)},
		{name: "cluster without reason", raw: rawEvent("kubernetes", "", `{"cluster": "c"}`)},
		{name: "cost negative", raw: rawEvent("cost", "", `{"account_id": "1", "amount": -1}`)},
		{name: "unknown provider", raw: rawEvent("jenkins", "", `{}`)},
		{name: "array body", raw: rawEvent("cost", "", `[1,2,3]`)},
	}

	n   := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedPayload))

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.raw.Provider, appErr.Details["provider"])
			assert.Equal(t, "d-100", appErr.Details["delivery_id"])
		})
	}
}

func TestNormalize_UniqueEventIDs(t *testing.T) {
	n := New()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		event, err := n.Normalize(rawEvent("github", "push", githubPushBody))
		require.NoError(t, err)
		_, dup := seen[event.EventID]
		require.False(t, dup)
		seen[event.EventID] = struct{}{}
	}
}

func TestNormalize_CustomArm(t *testing.T) {
	n := New(fixedID(), WithArm("jenkins", ArmFunc(func(raw models.RawWebhookEvent) (Result, error) {
		return Result{EntityKey: "pipeline:jenkins/1", Type: models.EventTypePipelineRun}, nil
	})))

	assert.True(t, n.Supports("jenkins"))
	event, err := n.Normalize(rawEvent("jenkins", "", `{}`))
	require.NoError(t, err)
	assert.Equal(t, "pipeline:jenkins/1", event.EntityKey)
}

func TestNormalize_RejectsUnknownType(t *testing.T) {
	n := New(WithArm("custom", ArmFunc(func(raw models.RawWebhookEvent) (Result, error) {
		return Result{EntityKey: "x:y", Type: "mystery"}, nil
	})))

	_, err := n.Normalize(rawEvent("custom", "", `{}`))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedPayload))
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseTime("2024-01-02T03:04:05Z").Year())
	assert.Equal(t, 3, parseTime("2024-01-02 03:04:05 UTC").Hour())
}
