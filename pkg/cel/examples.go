package cel

// RuleExpressionExamples lists predicates operators can paste into alert rules.
var RuleExpressionExamples = map[string]string{
	"failed_pipeline":       `event_type == "pipeline_run" && payload.status == "failed"`,
	"push_to_main":          `event_type == "push" && payload.ref == "refs/heads/main"`,
	"force_push":            `event_type == "push" && has(payload.forced) && payload.forced == true`,
	"large_push":            `event_type == "push" && payload.commit_count > 20`,
	"org_repos":             `entity_key.startsWith("repo:acme/")`,
	"cluster_warning":       `event_type == "cluster_event" && payload.severity in ["warning", "critical"]`,
	"cost_over_budget":      `event_type == "cost_alert" && payload.actual > payload.budget`,
	"iac_destroy":           `event_type == "iac_run" && payload.destroy_count > 0`,
	"failed_deploy_prod":    `event_type == "deployment" && payload.environment == "production" && payload.status == "failure"`,
	"first_event_seen":      `sequence == 1u`,
	"provider_is_terraform": `provider == "terraform"`,
}
