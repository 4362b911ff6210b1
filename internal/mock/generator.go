package mock

import (
	"fmt"

	"github.com/commercekit/subsync/pkg/storeapi"
)

// DemoProductIDs are the product IDs of the demo catalog.
var DemoProductIDs = []string{"premium_monthly", "premium_yearly"}

// DemoProducts returns a small subscription catalog for mock mode.
func DemoProducts() []storeapi.ProductDetails {
	return []storeapi.ProductDetails{
		{
			ProductID:   "premium_monthly",
			Title:       "Premium (monthly)",
			Description: "Full feature set, billed monthly",
			SubOffers: []storeapi.SubOffer{
				{
					BasePlanID: "monthly",
					OfferID:    "seven-day-trial",
					OfferToken: "tok-monthly-trial",
					PricingPhases: []storeapi.WirePricingPhase{
						{PriceAmountMicros: 0, PriceCurrencyCode: "USD", FormattedPrice: "Free", BillingPeriod: "P7D", BillingCycleCount: 1},
						{PriceAmountMicros: 9990000, PriceCurrencyCode: "USD", FormattedPrice: "$9.99", BillingPeriod: "P1M"},
					},
				},
				{
					BasePlanID: "monthly",
					OfferToken: "tok-monthly-base",
					PricingPhases: []storeapi.WirePricingPhase{
						{PriceAmountMicros: 9990000, PriceCurrencyCode: "USD", FormattedPrice: "$9.99", BillingPeriod: "P1M"},
					},
				},
			},
		},
		{
			ProductID:   "premium_yearly",
			Title:       "Premium (yearly)",
			Description: "Full feature set, billed yearly",
			SubOffers: []storeapi.SubOffer{
				{
					BasePlanID: "yearly",
					OfferToken: "tok-yearly-base",
					PricingPhases: []storeapi.WirePricingPhase{
						{PriceAmountMicros: 99990000, PriceCurrencyCode: "USD", FormattedPrice: "$99.99", BillingPeriod: "P1Y"},
					},
				},
			},
		},
	}
}

// DemoEntitlement builds an unsigned purchased entitlement for a product.
func DemoEntitlement(productID string) storeapi.RawEntitlement {
	return storeapi.RawEntitlement{
		Token:      "demo-token-" + productID,
		OrderID:    NewOrderID(),
		State:      storeapi.PurchaseStatePurchased,
		Payload:    fmt.Sprintf(`{"productId":%q}`, productID),
		ProductIDs: []string{productID},
	}
}
