package evaluator

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known transaction context keys supplied by the checkout pipeline.
const (
	KeyUserID            = "user_id"
	KeyOrderID           = "order_id"
	KeyOrderAmount       = "order_amount"
	KeyIPAddress         = "ip_address"
	KeyIPCountry         = "ip_country"
	KeyBillingCountry    = "billing_country"
	KeyEmail             = "email"
	KeyDeviceFingerprint = "device_fingerprint"
	KeyCardLast4         = "card_last4"
	KeyCardHash          = "card_hash"
)

// Context is the immutable set of transaction attributes supplied to the
// engine for one evaluation. Values are copied at construction; rule
// evaluation never mutates it.
type Context struct {
	values map[string]any
}

// NewContext copies the supplied attributes into an evaluation context.
func NewContext(values map[string]any) *Context {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Context{values: copied}
}

// Has reports whether a key is present with a non-nil value.
func (c *Context) Has(key string) bool {
	v, ok := c.values[key]
	return ok && v != nil
}

// String returns the value for key as a string.
func (c *Context) String(key string) (string, bool) {
	v, ok := c.values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Decimal returns the value for key as a decimal, accepting decimal,
// numeric, and numeric-string representations.
func (c *Context) Decimal(key string) (decimal.Decimal, bool) {
	v, ok := c.values[key]
	if !ok {
		return decimal.Zero, false
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// UUID returns the value for key as a UUID, accepting uuid and string
// representations.
func (c *Context) UUID(key string) (uuid.UUID, bool) {
	v, ok := c.values[key]
	if !ok {
		return uuid.Nil, false
	}
	switch id := v.(type) {
	case uuid.UUID:
		if id == uuid.Nil {
			return uuid.Nil, false
		}
		return id, true
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, false
		}
		return parsed, true
	}
	return uuid.Nil, false
}
