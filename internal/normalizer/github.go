package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"devpulse/pkg/models"
)

type githubRepository struct {
	FullName string `json:"full_name"`
}

type githubUser struct {
	Login string `json:"login"`
}

type githubPush struct {
	Ref        string           `json:"ref"`
	Before     string           `json:"before"`
	After      string           `json:"after"`
	Deleted    bool             `json:"deleted"`
	Forced     bool             `json:"forced"`
	Repository githubRepository `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
	HeadCommit *struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"head_commit"`
	Commits []json.RawMessage `json:"commits"`
}

type githubPullRequest struct {
	Action      string           `json:"action"`
	Number      int              `json:"number"`
	Repository  githubRepository `json:"repository"`
	PullRequest struct {
		Title     string      `json:"title"`
		HTMLURL   string      `json:"html_url"`
		Merged    bool        `json:"merged"`
		MergedBy  *githubUser `json:"merged_by"`
		User      githubUser  `json:"user"`
		CreatedAt string      `json:"created_at"`
		MergedAt  string      `json:"merged_at"`
		Base      struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

type githubWorkflowRun struct {
	Action      string           `json:"action"`
	Repository  githubRepository `json:"repository"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		RunNumber  int    `json:"run_number"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		HTMLURL    string `json:"html_url"`
		UpdatedAt  string `json:"updated_at"`
	} `json:"workflow_run"`
}

type githubDeploymentStatus struct {
	Repository       githubRepository `json:"repository"`
	DeploymentStatus struct {
		State       string `json:"state"`
		Environment string `json:"environment"`
		TargetURL   string `json:"target_url"`
		UpdatedAt   string `json:"updated_at"`
	} `json:"deployment_status"`
	Deployment struct {
		ID  int64  `json:"id"`
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"deployment"`
}

func normalizeGitHub(raw models.RawWebhookEvent) (Result, error) {
	switch raw.Kind {
	case "push":
		return githubPushResult(raw.Body)
	case "pull_request":
		return githubPullRequestResult(raw.Body)
	case "workflow_run":
		return githubWorkflowRunResult(raw.Body)
	case "deployment_status":
		return githubDeploymentResult(raw.Body)
	case "":
		return Result{}, shapeError("missing event kind")
	default:
		return Result{}, shapeError("unsupported github event %q", raw.Kind)
	}
}

func githubPushResult(body []byte) (Result, error) {
	var p githubPush
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	if p.Repository.FullName == "" || p.Ref == "" {
		return Result{}, shapeError("push without repository or ref")
	}

	fields := map[string]interface{}{
		"repository":   p.Repository.FullName,
		"ref":          p.Ref,
		"branch":       strings.TrimPrefix(p.Ref, "refs/heads/"),
		"before":       p.Before,
		"after":        p.After,
		"commit_count": len(p.Commits),
		"pusher":       p.Pusher.Name,
		"deleted":      p.Deleted,
		"forced":       p.Forced,
	}
	res := Result{
		EntityKey: repoKey(p.Repository.FullName),
		Type:      models.EventTypePush,
		Fields:    fields,
	}
	if p.HeadCommit != nil {
		fields["head_commit"] = p.HeadCommit.ID
		fields["head_commit_message"] = p.HeadCommit.Message
		res.OccurredAt = parseTime(p.HeadCommit.Timestamp)
	}
	return res, nil
}

func githubPullRequestResult(body []byte) (Result, error) {
	var p githubPullRequest
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	if p.Repository.FullName == "" || p.Number == 0 {
		return Result{}, shapeError("pull request without repository or number")
	}

	pr := p.PullRequest
	fields := map[string]interface{}{
		"repository": p.Repository.FullName,
		"number":     p.Number,
		"title":      pr.Title,
		"action":     p.Action,
		"author":     pr.User.Login,
		"base":       pr.Base.Ref,
		"head":       pr.Head.Ref,
		"head_sha":   pr.Head.SHA,
		"url":        pr.HTMLURL,
	}
	res := Result{
		EntityKey: repoKey(p.Repository.FullName),
		Fields:    fields,
	}

	switch {
	case p.Action == "opened" || p.Action == "reopened":
		res.Type = models.EventTypePROpened
		res.OccurredAt = parseTime(pr.CreatedAt)
	case p.Action == "closed" && pr.Merged:
		res.Type = models.EventTypePRMerged
		res.OccurredAt = parseTime(pr.MergedAt)
		if pr.MergedBy != nil {
			fields["merged_by"] = pr.MergedBy.Login
		}
	default:
		return Result{}, shapeError("unsupported pull_request action %q", p.Action)
	}
	return res, nil
}

func githubWorkflowRunResult(body []byte) (Result, error) {
	var p githubWorkflowRun
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	run := p.WorkflowRun
	if p.Repository.FullName == "" || run.ID == 0 {
		return Result{}, shapeError("workflow_run without repository or run id")
	}

	return Result{
		EntityKey:  pipelineKey(p.Repository.FullName, fmt.Sprintf("%d", run.ID)),
		Type:       models.EventTypePipelineRun,
		OccurredAt: parseTime(run.UpdatedAt),
		Fields: map[string]interface{}{
			"repository": p.Repository.FullName,
			"pipeline":   run.Name,
			"run_id":     run.ID,
			"run_number": run.RunNumber,
			"action":     p.Action,
			"status":     run.Status,
			"conclusion": run.Conclusion,
			"branch":     run.HeadBranch,
			"sha":        run.HeadSHA,
			"url":        run.HTMLURL,
		},
	}, nil
}

func githubDeploymentResult(body []byte) (Result, error) {
	var p githubDeploymentStatus
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	ds := p.DeploymentStatus
	if p.Repository.FullName == "" || ds.State == "" {
		return Result{}, shapeError("deployment_status without repository or state")
	}

	return Result{
		EntityKey:  repoKey(p.Repository.FullName),
		Type:       models.EventTypeDeployment,
		OccurredAt: parseTime(ds.UpdatedAt),
		Fields: map[string]interface{}{
			"repository":    p.Repository.FullName,
			"deployment_id": p.Deployment.ID,
			"environment":   ds.Environment,
			"state":         ds.State,
			"ref":           p.Deployment.Ref,
			"sha":           p.Deployment.SHA,
			"url":           ds.TargetURL,
		},
	}, nil
}

func repoKey(fullName string) string {
	return "repo:" + fullName
}

func pipelineKey(project, id string) string {
	return "pipeline:" + project + "/" + id
}
