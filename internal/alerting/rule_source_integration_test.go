//go:build integration

package alerting

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"devpulse/pkg/migrations"
	"devpulse/pkg/models"
)

func setupRulesDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("test_db"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	require.NoError(t, migrations.RunPostgres(db))
	return db
}

func TestPostgresRuleSource(t *testing.T) {
	db := setupRulesDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, entity_pattern, event_types, expression, severity, cooldown_seconds, targets, enabled)
		VALUES
			('r-deploy', 'Failed deploys', 'service:*', '{deployment}', 'payload.status == "failed"', 'critical', 60,
			 '[{"channel":"slack","destination":"https://hooks.slack.test/x"}]', true),
			('r-off', 'Disabled', '*', '{}', '', 'info', 0, '[]', false),
			('r-any', 'Everything', '', '{}', '', 'info', 0, '[{"channel":"log","destination":"audit"}]', true)
	`)
	require.NoError(t, err)

	rules, err := NewPostgresRuleSource(db).ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "r-any", rules[0].ID)
	assert.Empty(t, rules[0].EventTypes)

	deploy := rules[1]
	assert.Equal(t, "r-deploy", deploy.ID)
	assert.Equal(t, []models.EventType{models.EventTypeDeployment}, deploy.EventTypes)
	assert.Equal(t, models.Severity("critical"), deploy.Severity)
	assert.Equal(t, time.Minute, deploy.Cooldown)
	assert.Equal(t, []models.Target{{Channel: models.ChannelSlack, Destination: "https://hooks.slack.test/x"}}, deploy.Targets)
	assert.True(t, deploy.Enabled)
	assert.False(t, deploy.UpdatedAt.IsZero())
}
