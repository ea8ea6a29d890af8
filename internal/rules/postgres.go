package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Postgres-backed rule store. Trigger and action specs
// are stored as JSONB so the rule schema does not leak variant internals
// into columns.
type PostgresStore struct {
	conn *sql.DB
}

// NewPostgresStore creates a new store using the provided DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

// NewPostgresStoreWithConn wraps an existing connection. Used by tests.
func NewPostgresStoreWithConn(conn *sql.DB) *PostgresStore {
	return &PostgresStore{conn: conn}
}

const ruleColumns = `rule_id, account_id, name, enabled, priority, trigger_spec, actions, trigger_count, last_triggered, last_fired, version, created_at, updated_at`

// Create validates and inserts a new rule.
func (s *PostgresStore) Create(ctx context.Context, r *Rule) error {
	if err := Validate(r); err != nil {
		return err
	}

	triggerJSON, actionsJSON, err := marshalSpecs(r)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (rule_id, account_id, name, enabled, priority, trigger_spec, actions, trigger_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 1, NOW(), NOW())
	`
	_, err = s.conn.ExecContext(ctx, query, r.RuleID, r.AccountID, r.Name, r.Enabled, string(r.Priority), triggerJSON, actionsJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				return fmt.Errorf("rule already exists: %s", r.RuleID)
			}
			if pqErr.Code == "23503" { // foreign_key_violation
				return fmt.Errorf("account not found: %s", r.AccountID)
			}
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by id.
func (s *PostgresStore) Get(ctx context.Context, ruleID string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = $1`
	r, err := scanRule(s.conn.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListEnabled returns all enabled rules.
func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE enabled = TRUE ORDER BY created_at`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return out, nil
}

// Update applies an update command through the reducer inside a transaction,
// guarded by a version check so concurrent edits cannot silently overwrite
// each other.
func (s *PostgresStore) Update(ctx context.Context, ruleID string, u *Update) (*Rule, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = $1 FOR UPDATE`
	current, err := scanRule(tx.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	next, err := Apply(current, u, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	triggerJSON, actionsJSON, err := marshalSpecs(next)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE rules
		SET name = $2, enabled = $3, priority = $4, trigger_spec = $5, actions = $6, version = $7, updated_at = $8
		WHERE rule_id = $1 AND version = $9
	`, ruleID, next.Name, next.Enabled, string(next.Priority), triggerJSON, actionsJSON, next.Version, next.UpdatedAt, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("version mismatch updating rule %s", ruleID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rule update: %w", err)
	}
	return next, nil
}

// Delete removes a rule.
func (s *PostgresStore) Delete(ctx context.Context, ruleID string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

// IncrementTriggerCount bumps the monotonic trigger count and records the
// match time. The increment is server-side, so concurrent firings on the
// event and scan paths never lose counts.
func (s *PostgresStore) IncrementTriggerCount(ctx context.Context, ruleID string, firedAt time.Time) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE rules SET trigger_count = trigger_count + 1, last_triggered = $2 WHERE rule_id = $1
	`, ruleID, firedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to increment trigger count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check increment result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

// SetLastFired records the schedule boundary the rule fired for. The guard
// keeps last_fired monotonic, so a delayed catch-up write cannot move it
// backwards.
func (s *PostgresStore) SetLastFired(ctx context.Context, ruleID string, boundary time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE rules SET last_fired = $2 WHERE rule_id = $1 AND (last_fired IS NULL OR last_fired < $2)
	`, ruleID, boundary.UTC())
	if err != nil {
		return fmt.Errorf("failed to set last fired: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r             Rule
		priority      string
		triggerJSON   []byte
		actionsJSON   []byte
		lastTriggered sql.NullTime
		lastFired     sql.NullTime
	)
	err := row.Scan(
		&r.RuleID,
		&r.AccountID,
		&r.Name,
		&r.Enabled,
		&priority,
		&triggerJSON,
		&actionsJSON,
		&r.TriggerCount,
		&lastTriggered,
		&lastFired,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Priority = Priority(priority)
	if err := json.Unmarshal(triggerJSON, &r.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger spec: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &r.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		r.LastTriggered = &t
	}
	if lastFired.Valid {
		t := lastFired.Time
		r.LastFired = &t
	}
	return &r, nil
}

func marshalSpecs(r *Rule) (triggerJSON, actionsJSON []byte, err error) {
	triggerJSON, err = json.Marshal(r.Trigger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trigger spec: %w", err)
	}
	actionsJSON, err = json.Marshal(r.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return triggerJSON, actionsJSON, nil
}
