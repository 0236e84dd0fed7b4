package normalizer

import (
	"encoding/json"

	"devpulse/pkg/models"
)

type terraformNotification struct {
	PayloadVersion   int    `json:"payload_version"`
	RunID            string `json:"run_id"`
	RunURL           string `json:"run_url"`
	RunMessage       string `json:"run_message"`
	RunCreatedAt     string `json:"run_created_at"`
	RunCreatedBy     string `json:"run_created_by"`
	WorkspaceID      string `json:"workspace_id"`
	WorkspaceName    string `json:"workspace_name"`
	OrganizationName string `json:"organization_name"`
	Notifications    []struct {
		Message      string `json:"message"`
		Trigger      string `json:"trigger"`
		RunStatus    string `json:"run_status"`
		RunUpdatedAt string `json:"run_updated_at"`
		RunUpdatedBy string `json:"run_updated_by"`
	} `json:"notifications"`
}

func normalizeTerraform(raw models.RawWebhookEvent) (Result, error) {
	var p terraformNotification
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return Result{}, err
	}
	if p.OrganizationName == "" || p.WorkspaceName == "" {
		return Result{}, shapeError("run notification without organization or workspace")
	}
	if len(p.Notifications) == 0 {
		return Result{}, shapeError("run notification without notifications")
	}

	n := p.Notifications[len(p.Notifications)-1]
	return Result{
		EntityKey:  "workspace:" + p.OrganizationName + "/" + p.WorkspaceName,
		Type:       models.EventTypeIaCRun,
		OccurredAt: latest(parseTime(p.RunCreatedAt), parseTime(n.RunUpdatedAt)),
		Fields: map[string]interface{}{
			"organization": p.OrganizationName,
			"workspace":    p.WorkspaceName,
			"workspace_id": p.WorkspaceID,
			"run_id":       p.RunID,
			"run_url":      p.RunURL,
			"run_message":  p.RunMessage,
			"trigger":      n.Trigger,
			"status":       n.RunStatus,
			"message":      n.Message,
			"updated_by":   n.RunUpdatedBy,
		},
	}, nil
}
