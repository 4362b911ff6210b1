// Package catalog holds the domain model of purchasable offers: pricing
// phases classified into trial/introductory/regular segments, and the merge
// of backend product metadata into one domain Offer per sub-offer.
package catalog

import (
	"github.com/commercekit/subsync/pkg/storeapi"
)

// PhaseType classifies a pricing phase.
type PhaseType string

const (
	PhaseFreeTrial    PhaseType = "free_trial"
	PhaseIntroductory PhaseType = "introductory"
	PhaseRegular      PhaseType = "regular"
)

// PricingPhase is one contiguous billing segment of an offer.
type PricingPhase struct {
	PriceMicros    int64     `json:"priceMicros"`
	Currency       string    `json:"currency"`
	FormattedPrice string    `json:"formattedPrice"`
	BillingPeriod  string    `json:"billingPeriod"`
	CycleCount     int       `json:"cycleCount"`
	RecurrenceMode int       `json:"recurrenceMode"`
	Type           PhaseType `json:"type"`
	DurationDays   int       `json:"durationDays,omitempty"` // 0 when the period is unparsable
}

// Offer is an immutable purchasable configuration of a product. Offers are
// replaced wholesale on each fetch cycle, never mutated in place.
type Offer struct {
	ProductID   string `json:"productId"`
	BasePlanID  string `json:"basePlanId"`
	OfferID     string `json:"offerId,omitempty"`
	OfferToken  string `json:"-"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Phases []PricingPhase `json:"phases"`

	// Regular is the phase used for default price display.
	Regular PricingPhase `json:"regular"`

	HasFreeTrial  bool `json:"hasFreeTrial"`
	FreeTrialDays int  `json:"freeTrialDays,omitempty"`

	// IsActive reflects ownership as of the fetch cycle that produced this
	// offer list.
	IsActive bool `json:"isActive"`
}

// classifyPhase applies the phase classification rule: a zero-priced phase is
// a free trial; a nonzero-priced phase at index 0 is introductory; everything
// else is regular.
func classifyPhase(index int, priceMicros int64) PhaseType {
	if priceMicros == 0 {
		return PhaseFreeTrial
	}
	if index == 0 {
		return PhaseIntroductory
	}
	return PhaseRegular
}

// buildPhases converts wire pricing phases into classified domain phases.
func buildPhases(wire []storeapi.WirePricingPhase) []PricingPhase {
	phases := make([]PricingPhase, 0, len(wire))
	for i, wp := range wire {
		phase := PricingPhase{
			PriceMicros:    wp.PriceAmountMicros,
			Currency:       wp.PriceCurrencyCode,
			FormattedPrice: wp.FormattedPrice,
			BillingPeriod:  wp.BillingPeriod,
			CycleCount:     wp.BillingCycleCount,
			RecurrenceMode: wp.RecurrenceMode,
			Type:           classifyPhase(i, wp.PriceAmountMicros),
		}
		if days, ok := PeriodDays(wp.BillingPeriod); ok {
			cycles := wp.BillingCycleCount
			if cycles < 1 {
				cycles = 1
			}
			phase.DurationDays = days * cycles
		}
		phases = append(phases, phase)
	}
	return phases
}

// regularPhase picks the denormalized display phase: the first regular phase,
// falling back to the last phase of the sequence.
func regularPhase(phases []PricingPhase) PricingPhase {
	for _, p := range phases {
		if p.Type == PhaseRegular {
			return p
		}
	}
	if len(phases) > 0 {
		return phases[len(phases)-1]
	}
	return PricingPhase{}
}

// FromProduct merges one backend product with its sub-offers into one domain
// Offer per sub-offer. Each Offer carries all of its sub-offer's phases but
// exposes one as the regular display phase. The owned predicate stamps
// IsActive from the same fetch cycle's entitlement data.
func FromProduct(pd storeapi.ProductDetails, owned func(productID string) bool) []Offer {
	offers := make([]Offer, 0, len(pd.SubOffers))
	for _, sub := range pd.SubOffers {
		phases := buildPhases(sub.PricingPhases)

		offer := Offer{
			ProductID:   pd.ProductID,
			BasePlanID:  sub.BasePlanID,
			OfferID:     sub.OfferID,
			OfferToken:  sub.OfferToken,
			Title:       pd.Title,
			Description: pd.Description,
			Phases:      phases,
			Regular:     regularPhase(phases),
		}
		for _, p := range phases {
			if p.Type == PhaseFreeTrial {
				offer.HasFreeTrial = true
				offer.FreeTrialDays = p.DurationDays
				break
			}
		}
		if owned != nil {
			offer.IsActive = owned(pd.ProductID)
		}
		offers = append(offers, offer)
	}
	return offers
}
