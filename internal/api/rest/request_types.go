package rest

import (
	"time"

	"github.com/orderlane/fraud-engine/internal/domain/rule"
)

// AssessRequest is the transaction context submitted by the checkout
// pipeline for one order.
type AssessRequest struct {
	OrderID           string         `json:"order_id" validate:"required,uuid4"`
	UserID            string         `json:"user_id,omitempty" validate:"omitempty,uuid4"`
	OrderAmount       string         `json:"order_amount" validate:"required"`
	IPAddress         string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	IPCountry         string         `json:"ip_country,omitempty" validate:"omitempty,len=2"`
	BillingCountry    string         `json:"billing_country,omitempty" validate:"omitempty,len=2"`
	Email             string         `json:"email,omitempty" validate:"omitempty,email"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	CardLast4         string         `json:"card_last4,omitempty" validate:"omitempty,len=4,number"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// DecisionRequest applies a reviewer verdict to an assessment.
type DecisionRequest struct {
	Decision   string `json:"decision" validate:"required,oneof=approve reject false_positive"`
	ReviewerID string `json:"reviewer_id" validate:"required,uuid4"`
	Notes      string `json:"notes,omitempty" validate:"max=2000"`
}

// DenylistCheckRequest looks up one identifier.
type DenylistCheckRequest struct {
	Type  string `json:"type" validate:"required,oneof=ip email card_hash user device"`
	Value string `json:"value" validate:"required,max=512"`
}

// DenylistAddRequest adds or reactivates a denylist entry.
type DenylistAddRequest struct {
	Type      string     `json:"type" validate:"required,oneof=ip email card_hash user device"`
	Value     string     `json:"value" validate:"required,max=512"`
	Reason    string     `json:"reason" validate:"required,max=500"`
	Severity  string     `json:"severity,omitempty" validate:"omitempty,oneof=low medium high permanent"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	AddedBy   string     `json:"added_by,omitempty" validate:"omitempty,uuid4"`
	Notes     string     `json:"notes,omitempty" validate:"max=2000"`
}

// AttemptLogRequest records a suspicious attempt.
type AttemptLogRequest struct {
	AttemptType       string `json:"attempt_type" validate:"required,max=64"`
	UserID            string `json:"user_id,omitempty" validate:"omitempty,uuid4"`
	OrderID           string `json:"order_id,omitempty" validate:"omitempty,uuid4"`
	IPAddress         string `json:"ip_address" validate:"required,ip"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Amount            string `json:"amount,omitempty"`
	RepeatOffender    bool   `json:"repeat_offender,omitempty"`
	Blocked           bool   `json:"blocked,omitempty"`
	BlockReason       string `json:"block_reason,omitempty" validate:"max=500"`
}

// VelocityTrackRequest records one action occurrence.
type VelocityTrackRequest struct {
	Identifier    string            `json:"identifier" validate:"required,max=256"`
	Action        string            `json:"action" validate:"required,max=64"`
	WindowMinutes int               `json:"window_minutes" validate:"required,min=1,max=10080"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// VelocityCheckRequest checks a limit for a key.
type VelocityCheckRequest struct {
	Identifier    string `json:"identifier" validate:"required,max=256"`
	Action        string `json:"action" validate:"required,max=64"`
	Limit         int64  `json:"limit" validate:"required,min=1"`
	WindowMinutes int    `json:"window_minutes" validate:"required,min=1,max=10080"`
}

// RuleCreateRequest creates a risk rule.
type RuleCreateRequest struct {
	Name       string          `json:"name" validate:"required,max=200"`
	RuleType   string          `json:"rule_type" validate:"required"`
	Conditions rule.Conditions `json:"conditions,omitempty"`
	RiskScore  int             `json:"risk_score" validate:"min=0,max=100"`
	Action     string          `json:"action" validate:"required,oneof=allow flag block"`
	Priority   int             `json:"priority,omitempty"`
}

// RuleUpdateRequest toggles or reprioritizes a rule.
type RuleUpdateRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
	Priority *int  `json:"priority,omitempty"`
}
