package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"devpulse/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, r models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (id, kind, outcome, provider, delivery_id, event_id, entity_key, target, attempt, error, details, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx, query,
		r.ID, string(r.Kind), r.Outcome,
		nullable(r.Provider), nullable(r.DeliveryID), nullable(r.EventID),
		nullable(r.EntityKey), nullable(r.Target), r.Attempt, nullable(r.Error),
		details, r.RecordedAt,
	)
	observe("postgres", "insert", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]models.AuditRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s $%d", column, len(args)))
	}

	if f.EventID != "" {
		add("event_id =", f.EventID)
	}
	if f.EntityKey != "" {
		add("entity_key =", f.EntityKey)
	}
	if f.DeliveryID != "" {
		add("delivery_id =", f.DeliveryID)
	}
	if f.Provider != "" {
		add("provider =", f.Provider)
	}
	if f.Target != "" {
		add("target =", f.Target)
	}
	if f.Kind != "" {
		add("kind =", string(f.Kind))
	}
	if f.Outcome != "" {
		add("outcome =", f.Outcome)
	}
	if !f.From.IsZero() {
		add("recorded_at >=", f.From)
	}
	if !f.To.IsZero() {
		add("recorded_at <", f.To)
	}

	query := `SELECT id, kind, outcome, provider, delivery_id, event_id, entity_key, target, attempt, error, details, recorded_at FROM audit_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at ASC, seq ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	observe("postgres", "select", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]models.AuditRecord, 0)
	for rows.Next() {
		var (
			r       models.AuditRecord
			kind    string
			details []byte

			provider, deliveryID, eventID, entityKey, target, msg sql.NullString
		)
		if err := rows.Scan(
			&r.ID,
			&kind,
			&r.Outcome,
			&provider,
			&deliveryID,
			&eventID,
			&entityKey,
			&target,
			&r.Attempt,
			&msg,
			&details,
			&r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.Kind = models.AuditKind(kind)
		r.Provider = provider.String
		r.DeliveryID = deliveryID.String
		r.EventID = eventID.String
		r.EntityKey = entityKey.String
		r.Target = target.String
		r.Error = msg.String
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
