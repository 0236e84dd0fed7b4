package normalizer

import (
	"encoding/json"

	"devpulse/pkg/models"
)

// Cluster and cost events come from in-house agents that post one flat JSON
// object per occurrence.

type clusterEvent struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

type costAlert struct {
	AccountID string  `json:"account_id"`
	Cloud     string  `json:"cloud"`
	Service   string  `json:"service"`
	Amount    float64 `json:"amount"`
	Threshold float64 `json:"threshold"`
	Currency  string  `json:"currency"`
	Period    string  `json:"period"`
	Timestamp string  `json:"timestamp"`
}

func normalizeKubernetes(raw models.RawWebhookEvent) (Result, error) {
	var e clusterEvent
	if err := json.Unmarshal(raw.Body, &e); err != nil {
		return Result{}, err
	}
	if e.Cluster == "" || e.Reason == "" {
		return Result{}, shapeError("cluster event without cluster or reason")
	}

	severity := "normal"
	if e.Type == "Warning" {
		severity = "warning"
	}

	return Result{
		EntityKey:  "cluster:" + e.Cluster,
		Type:       models.EventTypeClusterEvent,
		OccurredAt: parseTime(e.Timestamp),
		Fields: map[string]interface{}{
			"cluster":   e.Cluster,
			"namespace": e.Namespace,
			"kind":      e.Kind,
			"name":      e.Name,
			"reason":    e.Reason,
			"message":   e.Message,
			"severity":  severity,
			"count":     e.Count,
		},
	}, nil
}

func normalizeCost(raw models.RawWebhookEvent) (Result, error) {
	var a costAlert
	if err := json.Unmarshal(raw.Body, &a); err != nil {
		return Result{}, err
	}
	if a.AccountID == "" {
		return Result{}, shapeError("cost alert without account id")
	}
	if a.Amount < 0 || a.Threshold < 0 {
		return Result{}, shapeError("cost alert with negative amount")
	}

	return Result{
		EntityKey:  "account:" + a.AccountID,
		Type:       models.EventTypeCostAlert,
		OccurredAt: parseTime(a.Timestamp),
		Fields: map[string]interface{}{
			"account_id": a.AccountID,
			"cloud":      a.Cloud,
			"service":    a.Service,
			"amount":     a.Amount,
			"threshold":  a.Threshold,
			"currency":   a.Currency,
			"period":     a.Period,
			"exceeded":   a.Threshold > 0 && a.Amount >= a.Threshold,
		},
	}, nil
}
