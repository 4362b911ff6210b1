// Package storeapi defines the boundary contract with the remote commerce
// backend: the wire-level shapes of products, sub-offers and entitlements,
// the response codes the backend reports, and the Client interface every
// transport implementation satisfies.
package storeapi

// ResponseCode mirrors the backend's billing response codes.
type ResponseCode int

const (
	CodeOK                 ResponseCode = 0
	CodeUserCanceled       ResponseCode = 1
	CodeServiceUnavailable ResponseCode = 2
	CodeBillingUnavailable ResponseCode = 3
	CodeItemUnavailable    ResponseCode = 4
	CodeDeveloperError     ResponseCode = 5
	CodeError              ResponseCode = 6
	CodeItemAlreadyOwned   ResponseCode = 7
	CodeItemNotOwned       ResponseCode = 8
)

// Purchase states reported inside an entitlement.
const (
	PurchaseStateUnspecified = 0
	PurchaseStatePurchased   = 1
	PurchaseStatePending     = 2
)

// WirePricingPhase is one billing segment of a sub-offer as the backend
// reports it.
type WirePricingPhase struct {
	PriceAmountMicros int64  `json:"priceAmountMicros"`
	PriceCurrencyCode string `json:"priceCurrencyCode"`
	FormattedPrice    string `json:"formattedPrice"`
	BillingPeriod     string `json:"billingPeriod"` // ISO-8601 duration, e.g. "P1M"
	BillingCycleCount int    `json:"billingCycleCount"`
	RecurrenceMode    int    `json:"recurrenceMode"`
}

// SubOffer is one purchasable configuration of a product: a base plan plus
// an optional promotional offer.
type SubOffer struct {
	BasePlanID    string             `json:"basePlanId"`
	OfferID       string             `json:"offerId,omitempty"`
	OfferToken    string             `json:"offerToken"`
	PricingPhases []WirePricingPhase `json:"pricingPhases"`
}

// ProductDetails is the backend's view of one subscription product with all
// of its sub-offers.
type ProductDetails struct {
	ProductID   string     `json:"productId"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	SubOffers   []SubOffer `json:"subOffers"`
}

// RawEntitlement is an opaque purchase receipt as returned by the backend.
// The engine never fabricates one; Payload is the raw signed JSON the
// signature covers.
type RawEntitlement struct {
	Token        string   `json:"purchaseToken"`
	Signature    string   `json:"signature"`
	Payload      string   `json:"payload"`
	OrderID      string   `json:"orderId,omitempty"`
	State        int      `json:"purchaseState"`
	Acknowledged bool     `json:"acknowledged"`
	ProductIDs   []string `json:"productIds"`
}

// PurchaseRef identifies the offer a purchase submission targets.
type PurchaseRef struct {
	SessionID  string `json:"sessionId"`
	ProductID  string `json:"productId"`
	BasePlanID string `json:"basePlanId"`
	OfferID    string `json:"offerId,omitempty"`
	OfferToken string `json:"offerToken"`
}

// PurchaseUpdate is the out-of-band result of a previously submitted
// purchase. Entitlements is populated only on success.
type PurchaseUpdate struct {
	Code         ResponseCode     `json:"code"`
	DebugMessage string           `json:"debugMessage,omitempty"`
	Entitlements []RawEntitlement `json:"entitlements,omitempty"`
}
