package normalizer

import (
	"encoding/json"
	"strconv"
	"strings"

	"devpulse/pkg/models"
)

type gitlabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

type gitlabHook struct {
	ObjectKind   string        `json:"object_kind"`
	Project      gitlabProject `json:"project"`
	UserUsername string        `json:"user_username"`
	User         *struct {
		Username string `json:"username"`
	} `json:"user"`
}

type gitlabPush struct {
	gitlabHook
	Ref               string `json:"ref"`
	Before            string `json:"before"`
	After             string `json:"after"`
	TotalCommitsCount int    `json:"total_commits_count"`
	Commits           []struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"commits"`
}

type gitlabMergeRequest struct {
	gitlabHook
	ObjectAttributes struct {
		IID          int    `json:"iid"`
		Title        string `json:"title"`
		Action       string `json:"action"`
		State        string `json:"state"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		URL          string `json:"url"`
		CreatedAt    string `json:"created_at"`
		UpdatedAt    string `json:"updated_at"`
	} `json:"object_attributes"`
}

type gitlabPipeline struct {
	gitlabHook
	ObjectAttributes struct {
		ID         int64  `json:"id"`
		Ref        string `json:"ref"`
		SHA        string `json:"sha"`
		Status     string `json:"status"`
		Source     string `json:"source"`
		Duration   int    `json:"duration"`
		CreatedAt  string `json:"created_at"`
		FinishedAt string `json:"finished_at"`
	} `json:"object_attributes"`
}

type gitlabDeployment struct {
	gitlabHook
	Status          string `json:"status"`
	StatusChangedAt string `json:"status_changed_at"`
	DeploymentID    int64  `json:"deployment_id"`
	Environment     string `json:"environment"`
	Ref             string `json:"ref"`
	ShortSHA        string `json:"short_sha"`
	DeployableURL   string `json:"deployable_url"`
}

// gitlabKinds maps X-Gitlab-Event header values to object_kind.
var gitlabKinds = map[string]string{
	"Push Hook":          "push",
	"Merge Request Hook": "merge_request",
	"Pipeline Hook":      "pipeline",
	"Deployment Hook":    "deployment",
}

func normalizeGitLab(raw models.RawWebhookEvent) (Result, error) {
	var hook gitlabHook
	if err := json.Unmarshal(raw.Body, &hook); err != nil {
		return Result{}, err
	}

	kind := hook.ObjectKind
	if kind == "" {
		kind = gitlabKinds[raw.Kind]
	}
	if hook.Project.PathWithNamespace == "" {
		return Result{}, shapeError("gitlab payload without project")
	}

	switch kind {
	case "push":
		return gitlabPushResult(raw.Body)
	case "merge_request":
		return gitlabMergeRequestResult(raw.Body)
	case "pipeline":
		return gitlabPipelineResult(raw.Body)
	case "deployment":
		return gitlabDeploymentResult(raw.Body)
	default:
		return Result{}, shapeError("unsupported gitlab event %q", raw.Kind)
	}
}

func (h gitlabHook) username() string {
	if h.UserUsername != "" {
		return h.UserUsername
	}
	if h.User != nil {
		return h.User.Username
	}
	return ""
}

func gitlabPushResult(body []byte) (Result, error) {
	var p gitlabPush
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	if p.Ref == "" {
		return Result{}, shapeError("push without ref")
	}

	fields := map[string]interface{}{
		"repository":   p.Project.PathWithNamespace,
		"ref":          p.Ref,
		"branch":       strings.TrimPrefix(p.Ref, "refs/heads/"),
		"before":       p.Before,
		"after":        p.After,
		"commit_count": p.TotalCommitsCount,
		"pusher":       p.username(),
	}
	res := Result{
		EntityKey: repoKey(p.Project.PathWithNamespace),
		Type:      models.EventTypePush,
		Fields:    fields,
	}
	if n := len(p.Commits); n > 0 {
		head := p.Commits[n-1]
		fields["head_commit"] = head.ID
		fields["head_commit_message"] = head.Message
		res.OccurredAt = parseTime(head.Timestamp)
	}
	return res, nil
}

func gitlabMergeRequestResult(body []byte) (Result, error) {
	var p gitlabMergeRequest
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	mr := p.ObjectAttributes
	if mr.IID == 0 {
		return Result{}, shapeError("merge request without iid")
	}

	res := Result{
		EntityKey: repoKey(p.Project.PathWithNamespace),
		Fields: map[string]interface{}{
			"repository": p.Project.PathWithNamespace,
			"number":     mr.IID,
			"title":      mr.Title,
			"action":     mr.Action,
			"author":     p.username(),
			"base":       mr.TargetBranch,
			"head":       mr.SourceBranch,
			"url":        mr.URL,
		},
	}

	switch mr.Action {
	case "open", "reopen":
		res.Type = models.EventTypePROpened
		res.OccurredAt = parseTime(mr.CreatedAt)
	case "merge":
		res.Type = models.EventTypePRMerged
		res.OccurredAt = parseTime(mr.UpdatedAt)
	default:
		return Result{}, shapeError("unsupported merge request action %q", mr.Action)
	}
	return res, nil
}

func gitlabPipelineResult(body []byte) (Result, error) {
	var p gitlabPipeline
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	pl := p.ObjectAttributes
	if pl.ID == 0 {
		return Result{}, shapeError("pipeline without id")
	}

	return Result{
		EntityKey:  pipelineKey(p.Project.PathWithNamespace, strconv.FormatInt(pl.ID, 10)),
		Type:       models.EventTypePipelineRun,
		OccurredAt: latest(parseTime(pl.CreatedAt), parseTime(pl.FinishedAt)),
		Fields: map[string]interface{}{
			"repository":       p.Project.PathWithNamespace,
			"run_id":           pl.ID,
			"status":           pl.Status,
			"branch":           pl.Ref,
			"sha":              pl.SHA,
			"source":           pl.Source,
			"duration_seconds": pl.Duration,
		},
	}, nil
}

func gitlabDeploymentResult(body []byte) (Result, error) {
	var p gitlabDeployment
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	if p.Status == "" {
		return Result{}, shapeError("deployment without status")
	}

	return Result{
		EntityKey:  repoKey(p.Project.PathWithNamespace),
		Type:       models.EventTypeDeployment,
		OccurredAt: parseTime(p.StatusChangedAt),
		Fields: map[string]interface{}{
			"repository":    p.Project.PathWithNamespace,
			"deployment_id": p.DeploymentID,
			"environment":   p.Environment,
			"state":         p.Status,
			"ref":           p.Ref,
			"sha":           p.ShortSHA,
			"url":           p.DeployableURL,
		},
	}, nil
}
