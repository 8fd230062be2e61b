package denylist

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// EntryType classifies what kind of identifier an entry bans.
type EntryType string

const (
	TypeIP       EntryType = "ip"
	TypeEmail    EntryType = "email"
	TypeCardHash EntryType = "card_hash"
	TypeUser     EntryType = "user"
	TypeDevice   EntryType = "device"
)

// Severity grades how serious a denylist entry is.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityPermanent Severity = "permanent"
)

// ValidType reports whether t is a known entry type.
func ValidType(t EntryType) bool {
	switch t {
	case TypeIP, TypeEmail, TypeCardHash, TypeUser, TypeDevice:
		return true
	}
	return false
}

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityPermanent:
		return true
	}
	return false
}

// IsPII reports whether values of this type must be hashed before storage.
func (t EntryType) IsPII() bool {
	return t == TypeEmail || t == TypeCardHash
}

// Entry is a banned identifier. PII values (email, card_hash) are stored as
// SHA-256 hex digests of the normalized value; lookups must normalize and
// hash identically or they silently miss.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	EntryType EntryType  `json:"entry_type"`
	Value     string     `json:"value"`
	Reason    string     `json:"reason"`
	Severity  Severity   `json:"severity"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	HitCount  int64      `json:"hit_count"`
	AddedBy   *uuid.UUID `json:"added_by,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NormalizeValue lowercases and trims a raw value, then hashes it for PII
// entry types. An empty result after normalization is rejected so malformed
// input can never match anything.
func NormalizeValue(entryType EntryType, raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return "", errors.NewValidationError("INVALID_VALUE", "value cannot be empty after normalization")
	}
	if entryType.IsPII() {
		sum := sha256.Sum256([]byte(v))
		return hex.EncodeToString(sum[:]), nil
	}
	return v, nil
}

// NewEntry creates an active denylist entry from a raw (unhashed) value.
func NewEntry(entryType EntryType, rawValue, reason string, severity Severity) (*Entry, error) {
	if !ValidType(entryType) {
		return nil, errors.NewValidationError("INVALID_ENTRY_TYPE", "unknown denylist entry type")
	}
	if !ValidSeverity(severity) {
		return nil, errors.NewValidationError("INVALID_SEVERITY", "unknown denylist severity")
	}
	value, err := NormalizeValue(entryType, rawValue)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Entry{
		ID:        uuid.New(),
		EntryType: entryType,
		Value:     value,
		Reason:    reason,
		Severity:  severity,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetExpiration sets when the ban lapses. A nil expiry means permanent.
func (e *Entry) SetExpiration(expiresAt time.Time) error {
	if expiresAt.Before(time.Now()) {
		return errors.NewValidationError("INVALID_EXPIRATION", "expiration date cannot be in the past")
	}
	e.ExpiresAt = &expiresAt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// IsExpired checks whether the entry has passed its expiry.
func (e *Entry) IsExpired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return now.After(*e.ExpiresAt)
}

// IsEffective reports whether the entry currently bans its value.
func (e *Entry) IsEffective(now time.Time) bool {
	return e.IsActive && !e.IsExpired(now)
}

// Deactivate soft-deletes the entry.
func (e *Entry) Deactivate() {
	e.IsActive = false
	e.UpdatedAt = time.Now().UTC()
}

// Reactivate re-enables a previously removed or expired entry, overwriting
// reason, severity and expiry. The hit count is preserved.
func (e *Entry) Reactivate(reason string, severity Severity, expiresAt *time.Time) {
	e.IsActive = true
	e.Reason = reason
	e.Severity = severity
	e.ExpiresAt = expiresAt
	e.UpdatedAt = time.Now().UTC()
}

// CheckResult is the outcome of a denylist lookup.
type CheckResult struct {
	Denylisted bool     `json:"denylisted"`
	Reason     string   `json:"reason,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
}
