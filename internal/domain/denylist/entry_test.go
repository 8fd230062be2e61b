package denylist_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name      string
		entryType denylist.EntryType
		raw       string
		want      string
		wantErr   bool
	}{
		{
			name:      "email is lowercased, trimmed and hashed",
			entryType: denylist.TypeEmail,
			raw:       "  Fraud@Example.COM  ",
			want:      sha256Hex("fraud@example.com"),
		},
		{
			name:      "same email different case hashes identically",
			entryType: denylist.TypeEmail,
			raw:       "FRAUD@EXAMPLE.COM",
			want:      sha256Hex("fraud@example.com"),
		},
		{
			name:      "card hash is hashed",
			entryType: denylist.TypeCardHash,
			raw:       "tok_abc123",
			want:      sha256Hex("tok_abc123"),
		},
		{
			name:      "ip is normalized but stored in the clear",
			entryType: denylist.TypeIP,
			raw:       " 203.0.113.7 ",
			want:      "203.0.113.7",
		},
		{
			name:      "device fingerprint stored in the clear",
			entryType: denylist.TypeDevice,
			raw:       "FP-DEADBEEF",
			want:      "fp-deadbeef",
		},
		{
			name:      "whitespace-only value rejected",
			entryType: denylist.TypeEmail,
			raw:       "   ",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := denylist.NormalizeValue(tt.entryType, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEntry(t *testing.T) {
	e, err := denylist.NewEntry(denylist.TypeEmail, "Bad@Actor.com", "chargeback fraud", denylist.SeverityHigh)
	require.NoError(t, err)

	assert.Equal(t, sha256Hex("bad@actor.com"), e.Value)
	assert.True(t, e.IsActive)
	assert.Nil(t, e.ExpiresAt)
	assert.Zero(t, e.HitCount)
}

func TestNewEntryRejectsBadInput(t *testing.T) {
	_, err := denylist.NewEntry(denylist.EntryType("phone"), "x", "r", denylist.SeverityLow)
	assert.Error(t, err)

	_, err = denylist.NewEntry(denylist.TypeIP, "1.2.3.4", "", denylist.SeverityLow)
	assert.Error(t, err)

	_, err = denylist.NewEntry(denylist.TypeIP, "1.2.3.4", "r", denylist.Severity("fatal"))
	assert.Error(t, err)
}

func TestEntryExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e, err := denylist.NewEntry(denylist.TypeIP, "198.51.100.4", "card testing", denylist.SeverityMedium)
	require.NoError(t, err)

	// No expiry set: effective forever while active.
	assert.False(t, e.IsExpired(now))
	assert.True(t, e.IsEffective(now))

	require.NoError(t, e.SetExpiration(now.Add(24*time.Hour)))
	assert.False(t, e.IsExpired(now))
	assert.True(t, e.IsEffective(now))

	later := now.Add(25 * time.Hour)
	assert.True(t, e.IsExpired(later))
	assert.False(t, e.IsEffective(later))

	e.Deactivate()
	assert.False(t, e.IsActive)
	assert.False(t, e.IsEffective(now))
}

func TestReactivatePreservesHitCount(t *testing.T) {
	e, err := denylist.NewEntry(denylist.TypeUser, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", "promo abuse", denylist.SeverityLow)
	require.NoError(t, err)

	e.HitCount = 7
	e.Deactivate()

	exp := time.Now().UTC().Add(72 * time.Hour)
	e.Reactivate("repeat offender", denylist.SeverityHigh, &exp)

	assert.True(t, e.IsActive)
	assert.Equal(t, int64(7), e.HitCount)
	assert.Equal(t, denylist.SeverityHigh, e.Severity)
	assert.Equal(t, "repeat offender", e.Reason)
	require.NotNil(t, e.ExpiresAt)
	assert.Equal(t, exp, *e.ExpiresAt)
}
