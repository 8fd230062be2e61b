package attempt

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// Type classifies a suspicious attempt.
type Type string

const (
	TypeIdentityTheft   Type = "identity_theft"
	TypeAccountTakeover Type = "account_takeover"
	TypeCardTesting     Type = "card_testing"
	TypeStolenCard      Type = "stolen_card"
	TypePromoAbuse      Type = "promo_abuse"
	TypeFakeAccount     Type = "fake_account"
	TypeChargebackFraud Type = "chargeback_fraud"
)

// Base severity per attempt type. Unknown types fall back to defaultSeverity.
var baseSeverity = map[Type]int{
	TypeIdentityTheft:   10,
	TypeAccountTakeover: 9,
	TypeCardTesting:     8,
	TypeStolenCard:      8,
	TypeChargebackFraud: 7,
	TypeFakeAccount:     6,
	TypePromoAbuse:      4,
}

const (
	defaultSeverity = 5
	maxSeverity     = 10
)

// Record is an append-only log entry for a suspicious attempt. It is never
// mutated after creation.
type Record struct {
	ID                uuid.UUID  `json:"id"`
	UserID            *uuid.UUID `json:"user_id,omitempty"`
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
	AttemptType       Type       `json:"attempt_type"`
	IPAddress         string     `json:"ip_address"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	Severity          int        `json:"severity"`
	Blocked           bool       `json:"blocked"`
	BlockReason       string     `json:"block_reason,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Data carries the attributes of a suspicious event being logged.
type Data struct {
	UserID            *uuid.UUID
	OrderID           *uuid.UUID
	IPAddress         string
	DeviceFingerprint string
	Amount            decimal.Decimal
	RepeatOffender    bool
	Blocked           bool
	BlockReason       string
}

var amountSeverityFloor = decimal.NewFromInt(1000)

// ComputeSeverity derives the severity for an attempt: base per type,
// +2 for repeat offenders, +1 for amounts over 1000, capped at 10.
func ComputeSeverity(attemptType Type, data Data) int {
	severity, ok := baseSeverity[attemptType]
	if !ok {
		severity = defaultSeverity
	}
	if data.RepeatOffender {
		severity += 2
	}
	if data.Amount.GreaterThan(amountSeverityFloor) {
		severity++
	}
	if severity > maxSeverity {
		severity = maxSeverity
	}
	return severity
}

// NewRecord creates an attempt record with its severity computed from the
// attempt type and event data.
func NewRecord(attemptType Type, data Data) (*Record, error) {
	if attemptType == "" {
		return nil, errors.NewValidationError("INVALID_ATTEMPT_TYPE", "attempt type cannot be empty")
	}
	if data.IPAddress == "" {
		return nil, errors.NewValidationError("INVALID_IP", "ip address cannot be empty")
	}

	return &Record{
		ID:                uuid.New(),
		UserID:            data.UserID,
		OrderID:           data.OrderID,
		AttemptType:       attemptType,
		IPAddress:         data.IPAddress,
		DeviceFingerprint: data.DeviceFingerprint,
		Severity:          ComputeSeverity(attemptType, data),
		Blocked:           data.Blocked,
		BlockReason:       data.BlockReason,
		Timestamp:         time.Now().UTC(),
	}, nil
}
