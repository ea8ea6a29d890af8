// Package proactive generates, scores, and retires proactive insight
// alerts, independently of explicit rule firing.
package proactive

import (
	"time"

	"github.com/google/uuid"
)

// AlertType classifies an insight alert.
type AlertType string

const (
	TypePrediction     AlertType = "prediction"
	TypeRecommendation AlertType = "recommendation"
	TypeWarning        AlertType = "warning"
	TypeOpportunity    AlertType = "opportunity"
)

// Impact is the estimated business impact of an alert.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Status is an alert's lifecycle state. Dismissed and Expired are terminal
// and absorbing.
type Status string

const (
	StatusActive    Status = "active"
	StatusDismissed Status = "dismissed"
	StatusExpired   Status = "expired"
)

// SuggestedAction is static effort/impact metadata attached to an alert.
// Executing one emits an audit event; it does not dismiss the alert unless
// the feed is configured to.
type SuggestedAction struct {
	ActionID string `json:"action_id"`
	Label    string `json:"label"`
	Effort   string `json:"effort"` // low, medium, high
	Impact   string `json:"impact"` // low, medium, high
}

// Alert is a scored proactive insight with a bounded lifecycle.
type Alert struct {
	AlertID          string             `json:"alert_id"`
	Type             AlertType          `json:"type"`
	Title            string             `json:"title"`
	Confidence       int                `json:"confidence"` // 0-100
	Impact           Impact             `json:"impact"`
	DataPoints       map[string]float64 `json:"data_points,omitempty"`
	SuggestedActions []SuggestedAction  `json:"suggested_actions,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	Dismissed        bool               `json:"dismissed"`
	DismissedAt      *time.Time         `json:"dismissed_at,omitempty"`
}

// NewAlert creates an active alert with a fresh id.
func NewAlert(alertType AlertType, title string, confidence int, impact Impact, createdAt time.Time) *Alert {
	return &Alert{
		AlertID:    uuid.NewString(),
		Type:       alertType,
		Title:      title,
		Confidence: confidence,
		Impact:     impact,
		CreatedAt:  createdAt.UTC(),
	}
}

// Status derives the lifecycle state as of now. Dismissal wins over expiry:
// both are terminal, and the first transition taken is the one recorded.
func (a *Alert) Status(now time.Time) Status {
	if a.Dismissed {
		return StatusDismissed
	}
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// Clone returns a copy safe to hand out of the feed.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.DataPoints != nil {
		c.DataPoints = make(map[string]float64, len(a.DataPoints))
		for k, v := range a.DataPoints {
			c.DataPoints[k] = v
		}
	}
	c.SuggestedActions = make([]SuggestedAction, len(a.SuggestedActions))
	copy(c.SuggestedActions, a.SuggestedActions)
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	if a.DismissedAt != nil {
		t := *a.DismissedAt
		c.DismissedAt = &t
	}
	return &c
}
