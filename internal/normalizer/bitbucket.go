package normalizer

import (
	"encoding/json"

	"devpulse/pkg/models"
)

type bitbucketRepository struct {
	FullName string `json:"full_name"`
}

type bitbucketActor struct {
	DisplayName string `json:"display_name"`
	Nickname    string `json:"nickname"`
}

type bitbucketPush struct {
	Repository bitbucketRepository `json:"repository"`
	Actor      bitbucketActor      `json:"actor"`
	Push       struct {
		Changes []struct {
			Forced  bool `json:"forced"`
			Closed  bool `json:"closed"`
			Commits []struct {
				Hash string `json:"hash"`
			} `json:"commits"`
			New *struct {
				Name   string `json:"name"`
				Target struct {
					Hash    string `json:"hash"`
					Message string `json:"message"`
					Date    string `json:"date"`
				} `json:"target"`
			} `json:"new"`
			Old *struct {
				Target struct {
					Hash string `json:"hash"`
				} `json:"target"`
			} `json:"old"`
		} `json:"changes"`
	} `json:"push"`
}

type bitbucketPullRequest struct {
	Repository  bitbucketRepository `json:"repository"`
	Actor       bitbucketActor      `json:"actor"`
	PullRequest struct {
		ID        int            `json:"id"`
		Title     string         `json:"title"`
		State     string         `json:"state"`
		Author    bitbucketActor `json:"author"`
		CreatedOn string         `json:"created_on"`
		UpdatedOn string         `json:"updated_on"`
		Source    struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
		} `json:"source"`
		Destination struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
		} `json:"destination"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	} `json:"pullrequest"`
}

type bitbucketCommitStatus struct {
	Repository   bitbucketRepository `json:"repository"`
	CommitStatus struct {
		Key       string `json:"key"`
		Name      string `json:"name"`
		State     string `json:"state"`
		URL       string `json:"url"`
		Refname   string `json:"refname"`
		UpdatedOn string `json:"updated_on"`
		Commit    struct {
			Hash string `json:"hash"`
		} `json:"commit"`
	} `json:"commit_status"`
}

func normalizeBitbucket(raw models.RawWebhookEvent) (Result, error) {
	switch raw.Kind {
	case "repo:push":
		return bitbucketPushResult(raw.Body)
	case "pullrequest:created":
		return bitbucketPullRequestResult(raw.Body, models.EventTypePROpened)
	case "pullrequest:fulfilled":
		return bitbucketPullRequestResult(raw.Body, models.EventTypePRMerged)
	case "repo:commit_status_created", "repo:commit_status_updated":
		return bitbucketCommitStatusResult(raw.Body)
	case "":
		return Result{}, shapeError("missing event kind")
	default:
		return Result{}, shapeError("unsupported bitbucket event %q", raw.Kind)
	}
}

func bitbucketPushResult(body []byte) (Result, error) {
	var p bitbucketPush
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	if p.Repository.FullName == "" || len(p.Push.Changes) == 0 {
		return Result{}, shapeError("push without repository or changes")
	}

	// A push can carry several ref changes; the last one is reported.
	change := p.Push.Changes[len(p.Push.Changes)-1]
	fields := map[string]interface{}{
		"repository":   p.Repository.FullName,
		"commit_count": len(change.Commits),
		"pusher":       p.Actor.Nickname,
		"deleted":      change.Closed,
		"forced":       change.Forced,
	}
	res := Result{
		EntityKey: repoKey(p.Repository.FullName),
		Type:      models.EventTypePush,
		Fields:    fields,
	}
	if change.Old != nil {
		fields["before"] = change.Old.Target.Hash
	}
	if change.New != nil {
		fields["branch"] = change.New.Name
		fields["ref"] = "refs/heads/" + change.New.Name
		fields["after"] = change.New.Target.Hash
		fields["head_commit"] = change.New.Target.Hash
		fields["head_commit_message"] = change.New.Target.Message
		res.OccurredAt = parseTime(change.New.Target.Date)
	}
	return res, nil
}

func bitbucketPullRequestResult(body []byte, eventType models.EventType) (Result, error) {
	var p bitbucketPullRequest
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	pr := p.PullRequest
	if p.Repository.FullName == "" || pr.ID == 0 {
		return Result{}, shapeError("pull request without repository or id")
	}

	occurred := parseTime(pr.UpdatedOn)
	if eventType == models.EventTypePROpened {
		occurred = parseTime(pr.CreatedOn)
	}

	fields := map[string]interface{}{
		"repository": p.Repository.FullName,
		"number":     pr.ID,
		"title":      pr.Title,
		"state":      pr.State,
		"author":     pr.Author.Nickname,
		"base":       pr.Destination.Branch.Name,
		"head":       pr.Source.Branch.Name,
		"url":        pr.Links.HTML.Href,
	}
	if eventType == models.EventTypePRMerged {
		fields["merged_by"] = p.Actor.Nickname
	}

	return Result{
		EntityKey:  repoKey(p.Repository.FullName),
		Type:       eventType,
		OccurredAt: occurred,
		Fields:     fields,
	}, nil
}

func bitbucketCommitStatusResult(body []byte) (Result, error) {
	var p bitbucketCommitStatus
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, err
	}
	cs := p.CommitStatus
	if p.Repository.FullName == "" || cs.Key == "" {
		return Result{}, shapeError("commit status without repository or key")
	}

	return Result{
		EntityKey:  pipelineKey(p.Repository.FullName, cs.Key),
		Type:       models.EventTypePipelineRun,
		OccurredAt: parseTime(cs.UpdatedOn),
		Fields: map[string]interface{}{
			"repository": p.Repository.FullName,
			"pipeline":   cs.Name,
			"status":     cs.State,
			"branch":     cs.Refname,
			"sha":        cs.Commit.Hash,
			"url":        cs.URL,
		},
	}, nil
}
