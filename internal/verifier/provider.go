package verifier

import (
	"encoding/json"
	"net/http"
	"strings"

	"devpulse/internal/constants"
)

// Provider binds a provider tag to its signature scheme, the headers that
// carry its delivery id and event kind, and its active secrets.
type Provider struct {
	Name            string
	Scheme          Scheme
	DeliveryHeaders []string
	EventHeaders    []string
	Secrets         []string

	deliveryFromBody func(body []byte) string
}

// DeliveryID returns the provider-assigned delivery id, falling back to the
// payload for providers that do not send one as a header.
func (p Provider) DeliveryID(headers http.Header, body []byte) string {
	for _, h := range p.DeliveryHeaders {
		if v := strings.TrimSpace(headers.Get(h)); v != "" {
			return v
		}
	}
	if p.deliveryFromBody != nil {
		return p.deliveryFromBody(body)
	}
	return ""
}

func (p Provider) EventKind(headers http.Header) string {
	for _, h := range p.EventHeaders {
		if v := strings.TrimSpace(headers.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

type template struct {
	scheme          string
	signatureHeader string
	prefix          string
	deliveryHeaders []string
	eventHeaders    []string
	fromBody        func([]byte) string
}

var templates = map[string]template{
	constants.ProviderGitHub: {
		scheme:          SchemeHMACSHA256Hex,
		signatureHeader: "X-Hub-Signature-256",
		prefix:          "sha256=",
		deliveryHeaders: []string{"X-GitHub-Delivery"},
		eventHeaders:    []string{"X-GitHub-Event"},
	},
	constants.ProviderGitLab: {
		scheme:          SchemeToken,
		signatureHeader: "X-Gitlab-Token",
		deliveryHeaders: []string{"X-Gitlab-Event-UUID", "Idempotency-Key"},
		eventHeaders:    []string{"X-Gitlab-Event"},
	},
	constants.ProviderBitbucket: {
		scheme:          SchemeHMACSHA256Hex,
		signatureHeader: "X-Hub-Signature",
		prefix:          "sha256=",
		deliveryHeaders: []string{"X-Request-UUID"},
		eventHeaders:    []string{"X-Event-Key"},
	},
	constants.ProviderTerraform: {
		scheme:          SchemeHMACSHA512Hex,
		signatureHeader: "X-TFE-Notification-Signature",
		deliveryHeaders: []string{constants.HeaderDelivery},
		fromBody:        terraformDeliveryID,
	},
	constants.ProviderKubernetes: {
		scheme:          SchemeHMACSHA256Hex,
		signatureHeader: constants.HeaderSignature,
		prefix:          "sha256=",
		deliveryHeaders: []string{constants.HeaderDelivery},
		eventHeaders:    []string{constants.HeaderEvent},
	},
	constants.ProviderCost: {
		scheme:          SchemeHMACSHA256Hex,
		signatureHeader: constants.HeaderSignature,
		prefix:          "sha256=",
		deliveryHeaders: []string{constants.HeaderDelivery},
		eventHeaders:    []string{constants.HeaderEvent},
	},
}

// BuiltinProviders lists the provider tags with a known signature template.
func BuiltinProviders() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}

// Terraform notifications carry no delivery header; a run moves through each
// trigger once, so run id, trigger and timestamp identify a delivery.
func terraformDeliveryID(body []byte) string {
	var payload struct {
		RunID         string `json:"run_id"`
		Notifications []struct {
			Trigger      string `json:"trigger"`
			RunUpdatedAt string `json:"run_updated_at"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.RunID == "" || len(payload.Notifications) == 0 {
		return ""
	}
	n := payload.Notifications[0]
	return payload.RunID + ":" + n.Trigger + ":" + n.RunUpdatedAt
}
