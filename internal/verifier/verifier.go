package verifier

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/metrics"
)

// Verifier authenticates inbound webhooks. It has no side effects besides the
// rejection counter.
type Verifier struct {
	providers map[string]Provider
	logger    logger.Logger
}

// New builds the provider table from the built-in templates and the
// configured overrides. Providers without secrets stay disabled.
func New(cfg config.WebhooksConfig, log logger.Logger) (*Verifier, error) {
	v := &Verifier{
		providers: make(map[string]Provider),
		logger:    log,
	}

	for name := range cfg.Providers {
		if _, ok := templates[name]; !ok {
			return nil, fmt.Errorf("webhooks.providers.%s: no built-in template for provider", name)
		}
	}

	for name, tmpl := range templates {
		pc := cfg.Providers[name]
		if len(pc.Secrets) == 0 {
			continue
		}

		schemeName := tmpl.scheme
		if pc.Scheme != "" {
			schemeName = pc.Scheme
		}
		header := tmpl.signatureHeader
		if pc.SignatureHeader != "" {
			header = pc.SignatureHeader
		}
		prefix := tmpl.prefix
		if schemeName != tmpl.scheme {
			prefix = ""
		}

		scheme, err := NewScheme(schemeName, header, prefix)
		if err != nil {
			return nil, fmt.Errorf("webhooks.providers.%s: %w", name, err)
		}

		deliveryHeaders := tmpl.deliveryHeaders
		if pc.DeliveryHeader != "" {
			deliveryHeaders = append([]string{pc.DeliveryHeader}, deliveryHeaders...)
		}

		v.providers[name] = Provider{
			Name:             name,
			Scheme:           scheme,
			DeliveryHeaders:  deliveryHeaders,
			EventHeaders:     tmpl.eventHeaders,
			Secrets:          append([]string(nil), pc.Secrets...),
			deliveryFromBody: tmpl.fromBody,
		}
	}

	log.Infow("Webhook providers enabled", "providers", v.Enabled())

	return v, nil
}

// Enabled returns the sorted tags of every provider that can be verified.
func (v *Verifier) Enabled() []string {
	names := make([]string, 0, len(v.providers))
	for name := range v.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Verifier) Provider(name string) (Provider, error) {
	p, ok := v.providers[name]
	if !ok || name == "" {
		return Provider{}, apperrors.ErrUnsupportedProvider.WithDetail("provider", name)
	}
	return p, nil
}

// Verify returns nil, ErrUnsupportedProvider or ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, provider string, body []byte, headers http.Header) error {
	p, err := v.Provider(provider)
	if err != nil {
		metrics.SignatureRejectionsTotal.WithLabelValues("unknown", ReasonUnsupportedProvider).Inc()
		v.logger.WarnwCtx(ctx, "Rejected webhook for unsupported provider", "provider", provider)
		return err
	}

	if err := p.Scheme.Verify(body, headers, p.Secrets); err != nil {
		reason := reasonOf(err)
		metrics.SignatureRejectionsTotal.WithLabelValues(provider, reason).Inc()
		v.logger.WarnwCtx(ctx, "Rejected webhook signature",
			"provider", provider,
			"scheme", p.Scheme.Name(),
			"reason", reason,
		)
		return apperrors.ErrUnauthorized.WithDetail("provider", provider).WithDetail("reason", reason)
	}

	return nil
}
