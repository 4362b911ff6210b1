// Package entitlement holds the verified-ownership side of the engine: the
// Entitlement receipt model, signature verification, and the cache of
// currently-owned product IDs.
package entitlement

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commercekit/subsync/pkg/storeapi"
)

// Entitlement is proof that the user owns a product: the opaque receipt
// returned by the backend plus the expiry parsed out of its signed payload.
type Entitlement struct {
	Token        string    `json:"token"`
	Signature    string    `json:"-"`
	Payload      string    `json:"-"`
	OrderID      string    `json:"orderId,omitempty"`
	State        int       `json:"state"`
	Acknowledged bool      `json:"acknowledged"`
	ProductIDs   []string  `json:"productIds"`
	Expiry       time.Time `json:"expiry,omitzero"` // zero when the payload carries no expiry
}

// payloadFields is the subset of the signed receipt payload the engine reads.
// ExpiryTimeMillis arrives as a string or a number depending on the backend.
type payloadFields struct {
	ExpiryTimeMillis json.Number `json:"expiryTimeMillis"`
}

// FromRaw converts a backend receipt into an Entitlement. An unparsable
// payload degrades to "no expiry" (treated as active); it never fails.
func FromRaw(raw storeapi.RawEntitlement) Entitlement {
	e := Entitlement{
		Token:        raw.Token,
		Signature:    raw.Signature,
		Payload:      raw.Payload,
		OrderID:      raw.OrderID,
		State:        raw.State,
		Acknowledged: raw.Acknowledged,
		ProductIDs:   raw.ProductIDs,
	}

	if raw.Payload == "" {
		return e
	}

	var fields payloadFields
	if err := json.Unmarshal([]byte(raw.Payload), &fields); err != nil {
		log.Debug().Err(err).Str("token", truncateToken(raw.Token)).Msg("Entitlement payload not parsable, assuming no expiry")
		return e
	}
	if fields.ExpiryTimeMillis != "" {
		if millis, err := fields.ExpiryTimeMillis.Int64(); err == nil && millis > 0 {
			e.Expiry = time.UnixMilli(millis)
		}
	}
	return e
}

// Live reports whether the entitlement is verified-active at the given time:
// in the purchased terminal state and, when an expiry is present, not yet
// expired.
func (e Entitlement) Live(now time.Time) bool {
	if e.State != storeapi.PurchaseStatePurchased {
		return false
	}
	if e.Expiry.IsZero() {
		return true
	}
	return e.Expiry.After(now)
}

// truncateToken shortens purchase tokens for log output.
func truncateToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
