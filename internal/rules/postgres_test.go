package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func mockRuleRows(t *testing.T, r *Rule) *sqlmock.Rows {
	t.Helper()
	triggerJSON, err := json.Marshal(r.Trigger)
	if err != nil {
		t.Fatalf("Failed to marshal trigger: %v", err)
	}
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		t.Fatalf("Failed to marshal actions: %v", err)
	}
	var lastTriggered, lastFired any
	if r.LastTriggered != nil {
		lastTriggered = *r.LastTriggered
	}
	if r.LastFired != nil {
		lastFired = *r.LastFired
	}
	return sqlmock.NewRows([]string{
		"rule_id", "account_id", "name", "enabled", "priority",
		"trigger_spec", "actions", "trigger_count",
		"last_triggered", "last_fired", "version", "created_at", "updated_at",
	}).AddRow(
		r.RuleID, r.AccountID, r.Name, r.Enabled, string(r.Priority),
		triggerJSON, actionsJSON, r.TriggerCount,
		lastTriggered, lastFired, r.Version, r.CreatedAt, r.UpdatedAt,
	)
}

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func()
		wantErr   bool
		errMsg    string
	}{
		{
			name: "successful create",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO rules").
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "duplicate rule",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO rules").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: true,
			errMsg:  "already exists",
		},
		{
			name: "unknown account",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO rules").
					WillReturnError(&pq.Error{Code: "23503"})
			},
			wantErr: true,
			errMsg:  "account not found",
		},
		{
			name: "database error",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO rules").
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupMock()
			err := s.Create(ctx, validRule())
			if (err != nil) != tt.wantErr {
				t.Errorf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errMsg != "" && err != nil && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Create() error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestPostgresStore_CreateRejectsInvalid(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	r := validRule()
	r.Priority = "critical"
	if err := s.Create(context.Background(), r); err == nil {
		t.Error("Create() invalid rule error = nil, want validation error")
	}
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	ctx := context.Background()

	want := validRule()
	want.Version = 2
	want.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want.UpdatedAt = want.CreatedAt

	mock.ExpectQuery("SELECT .+ FROM rules WHERE rule_id").
		WithArgs("rule-1").
		WillReturnRows(mockRuleRows(t, want))

	got, err := s.Get(ctx, "rule-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RuleID != "rule-1" || got.Version != 2 || got.Trigger.Event == nil {
		t.Errorf("Get() = %+v, want rule-1 v2 with event trigger", got)
	}
	if got.Trigger.Event.EventType != "shipment_exception" {
		t.Errorf("Get() event type = %q, want shipment_exception", got.Trigger.Event.EventType)
	}

	mock.ExpectQuery("SELECT .+ FROM rules WHERE rule_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.Get(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Get() missing rule error = %v, want not-found", err)
	}
}

func TestPostgresStore_ListEnabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)

	r := validRule()
	mock.ExpectQuery("SELECT .+ FROM rules WHERE enabled = TRUE").
		WillReturnRows(mockRuleRows(t, r))

	got, err := s.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(got) != 1 || got[0].RuleID != "rule-1" {
		t.Errorf("ListEnabled() = %d rules, want 1", len(got))
	}
}

func TestPostgresStore_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	ctx := context.Background()
	enabled := false

	t.Run("successful update", func(t *testing.T) {
		current := validRule()
		current.Version = 1

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FOR UPDATE").
			WithArgs("rule-1").
			WillReturnRows(mockRuleRows(t, current))
		mock.ExpectExec("UPDATE rules").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		next, err := s.Update(ctx, "rule-1", &Update{Enabled: &enabled})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if next.Enabled || next.Version != 2 {
			t.Errorf("Update() = enabled %v version %d, want false/2", next.Enabled, next.Version)
		}
	})

	t.Run("version mismatch", func(t *testing.T) {
		current := validRule()
		current.Version = 1

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FOR UPDATE").
			WithArgs("rule-1").
			WillReturnRows(mockRuleRows(t, current))
		mock.ExpectExec("UPDATE rules").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := s.Update(ctx, "rule-1", &Update{Enabled: &enabled})
		if err == nil || !strings.Contains(err.Error(), "version mismatch") {
			t.Errorf("Update() error = %v, want version mismatch", err)
		}
	})

	t.Run("rule not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FOR UPDATE").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := s.Update(ctx, "missing", &Update{Enabled: &enabled})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("Update() error = %v, want not-found", err)
		}
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM rules").
		WithArgs("rule-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Delete(ctx, "rule-1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}

	mock.ExpectExec("DELETE FROM rules").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Delete(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Delete() error = %v, want not-found", err)
	}
}

func TestPostgresStore_IncrementTriggerCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	ctx := context.Background()
	firedAt := time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE rules SET trigger_count = trigger_count").
		WithArgs("rule-1", firedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.IncrementTriggerCount(ctx, "rule-1", firedAt); err != nil {
		t.Errorf("IncrementTriggerCount() error = %v", err)
	}

	mock.ExpectExec("UPDATE rules SET trigger_count = trigger_count").
		WithArgs("missing", firedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.IncrementTriggerCount(ctx, "missing", firedAt); err == nil {
		t.Error("IncrementTriggerCount() missing rule error = nil, want not-found")
	}
}

func TestPostgresStore_SetLastFired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStoreWithConn(db)
	boundary := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE rules SET last_fired").
		WithArgs("rule-1", boundary).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.SetLastFired(context.Background(), "rule-1", boundary); err != nil {
		t.Errorf("SetLastFired() error = %v", err)
	}
}
