package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/commercekit/subsync/internal/catalog"
	"github.com/commercekit/subsync/internal/entitlement"
	"github.com/commercekit/subsync/internal/history"
	"github.com/commercekit/subsync/pkg/storeapi"
)

// OutcomeKind tags a purchase outcome variant.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeError        OutcomeKind = "error"
	OutcomeCancelled    OutcomeKind = "cancelled"
	OutcomeAlreadyOwned OutcomeKind = "already_owned"
)

// Engine-level error codes for outcomes that never reached the backend, kept
// negative so they cannot collide with backend response codes.
const (
	CodeProductNotFound    = -1
	CodePurchaseInProgress = -2
	CodeVerification       = -3
	CodeNoPurchaseData     = -4
	CodeSubmitFailed       = -5
)

// PurchaseOutcome is the single result of a purchase attempt. Exactly one
// variant applies; only the fields of that variant are populated.
type PurchaseOutcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success fields.
	ProductID string `json:"productId,omitempty"`
	Token     string `json:"token,omitempty"`
	OrderID   string `json:"orderId,omitempty"`

	// Error fields.
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// PurchaseRequest identifies what to buy. BasePlanID and OfferID are
// optional; when omitted, resolution picks from the cached offer list or a
// fresh metadata query, in backend order.
type PurchaseRequest struct {
	ProductID  string
	BasePlanID string
	OfferID    string
}

func successOutcome(productID, token, orderID string) PurchaseOutcome {
	return PurchaseOutcome{Kind: OutcomeSuccess, ProductID: productID, Token: token, OrderID: orderID}
}

func errorOutcome(productID, message string, code int) PurchaseOutcome {
	return PurchaseOutcome{Kind: OutcomeError, ProductID: productID, Message: message, Code: code}
}

type pendingPurchase struct {
	ref storeapi.PurchaseRef
	ch  chan PurchaseOutcome
}

// Purchase drives one purchase transaction: resolve the offer, submit it,
// await the asynchronous backend result, verify, acknowledge, and refresh.
// The returned channel delivers exactly one outcome and is then closed. One
// transaction is in flight at a time; a second call while one is pending
// resolves immediately to an error outcome.
func (e *Engine) Purchase(ctx context.Context, req PurchaseRequest) <-chan PurchaseOutcome {
	ch := make(chan PurchaseOutcome, 1)
	go e.runPurchase(ctx, req, ch)
	return ch
}

func (e *Engine) runPurchase(ctx context.Context, req PurchaseRequest, ch chan PurchaseOutcome) {
	ref, failure := e.resolveOffer(ctx, req)
	if failure != nil {
		e.deliverOutcome(ch, *failure)
		return
	}

	e.purchaseMu.Lock()
	if e.pending != nil {
		e.purchaseMu.Unlock()
		e.deliverOutcome(ch, errorOutcome(req.ProductID, "another purchase is already in progress", CodePurchaseInProgress))
		return
	}
	e.pending = &pendingPurchase{ref: ref, ch: ch}
	e.purchaseMu.Unlock()

	e.logger.Info().
		Str("product", ref.ProductID).
		Str("base_plan", ref.BasePlanID).
		Str("offer", ref.OfferID).
		Str("session", ref.SessionID).
		Msg("Submitting purchase")

	if err := e.client.SubmitPurchase(e.runCtx, ref); err != nil {
		e.clearPending()
		e.deliverOutcome(ch, errorOutcome(req.ProductID, fmt.Sprintf("purchase flow could not be launched: %v", err), CodeSubmitFailed))
		return
	}
	// The outcome arrives out of band via handlePurchaseUpdate.
}

// resolveOffer maps a request to a concrete offer reference. Cached offers
// are preferred; on a cache miss a fresh metadata query for just that
// product is issued. No preference ordering is applied among candidates:
// "first" is whatever order the backend returned.
func (e *Engine) resolveOffer(ctx context.Context, req PurchaseRequest) (storeapi.PurchaseRef, *PurchaseOutcome) {
	if req.ProductID == "" {
		failure := errorOutcome("", "Product not found", CodeProductNotFound)
		return storeapi.PurchaseRef{}, &failure
	}

	if offer, ok := matchOffer(e.fetcher.Cached(), req); ok {
		return newPurchaseRef(offer), nil
	}

	products, err := e.client.QueryOffers(ctx, []string{req.ProductID})
	if err != nil {
		e.logger.Warn().Err(err).Str("product", req.ProductID).Msg("Offer resolution query failed")
	} else {
		var fresh []catalog.Offer
		for _, pd := range products {
			fresh = append(fresh, catalog.FromProduct(pd, nil)...)
		}
		if offer, ok := matchOffer(fresh, req); ok {
			return newPurchaseRef(offer), nil
		}
	}

	failure := errorOutcome(req.ProductID, "Product not found", CodeProductNotFound)
	return storeapi.PurchaseRef{}, &failure
}

func matchOffer(offers []catalog.Offer, req PurchaseRequest) (catalog.Offer, bool) {
	for _, o := range offers {
		if o.ProductID != req.ProductID {
			continue
		}
		if req.BasePlanID != "" && o.BasePlanID != req.BasePlanID {
			continue
		}
		if req.OfferID != "" && o.OfferID != req.OfferID {
			continue
		}
		return o, true
	}
	return catalog.Offer{}, false
}

func newPurchaseRef(offer catalog.Offer) storeapi.PurchaseRef {
	return storeapi.PurchaseRef{
		SessionID:  uuid.NewString(),
		ProductID:  offer.ProductID,
		BasePlanID: offer.BasePlanID,
		OfferID:    offer.OfferID,
		OfferToken: offer.OfferToken,
	}
}

// handlePurchaseUpdate consumes the backend's out-of-band purchase result
// and maps it onto exactly one outcome for the pending transaction.
func (e *Engine) handlePurchaseUpdate(update storeapi.PurchaseUpdate) {
	e.purchaseMu.Lock()
	p := e.pending
	e.pending = nil
	e.purchaseMu.Unlock()

	if p == nil {
		e.logger.Debug().
			Int("code", int(update.Code)).
			Msg("Purchase update with no pending transaction, ignoring")
		return
	}

	switch update.Code {
	case storeapi.CodeOK:
		e.completePurchase(p, update)
	case storeapi.CodeUserCanceled:
		e.deliverOutcome(p.ch, PurchaseOutcome{Kind: OutcomeCancelled, ProductID: p.ref.ProductID})
	case storeapi.CodeItemAlreadyOwned:
		e.deliverOutcome(p.ch, PurchaseOutcome{Kind: OutcomeAlreadyOwned, ProductID: p.ref.ProductID})
	default:
		msg := update.DebugMessage
		if msg == "" {
			msg = fmt.Sprintf("purchase failed with code %d", update.Code)
		}
		e.deliverOutcome(p.ch, errorOutcome(p.ref.ProductID, msg, int(update.Code)))
	}
}

// completePurchase handles the success path: verify the receipt signature,
// acknowledge, cache, refresh, then deliver the outcome. A verification
// failure rejects the purchase without acknowledging or caching it.
func (e *Engine) completePurchase(p *pendingPurchase, update storeapi.PurchaseUpdate) {
	if len(update.Entitlements) == 0 {
		e.deliverOutcome(p.ch, errorOutcome(p.ref.ProductID, "purchase completed but no data received", CodeNoPurchaseData))
		return
	}

	raw := pickEntitlement(update.Entitlements, p.ref.ProductID)

	if !e.verifier.Verify(raw.Payload, raw.Signature) {
		e.logger.Error().
			Str("product", p.ref.ProductID).
			Str("order", raw.OrderID).
			Msg("Purchase receipt failed signature verification")
		e.deliverOutcome(p.ch, errorOutcome(p.ref.ProductID, "purchase verification failed", CodeVerification))
		return
	}

	ent := entitlement.FromRaw(raw)
	if !ent.Acknowledged {
		if err := e.client.Acknowledge(e.runCtx, ent.Token); err != nil {
			// The post-purchase refresh retries this; acknowledge is
			// idempotent.
			e.logger.Warn().Err(err).Str("product", p.ref.ProductID).Msg("Failed to acknowledge purchase")
		} else {
			ent.Acknowledged = true
		}
	}
	e.cache.Add(ent)

	// Forced refresh so every observer reflects the new ownership without
	// caller involvement.
	go func() {
		if _, err := e.fetcher.Fetch(e.runCtx, true); err != nil {
			e.logger.Warn().Err(err).Msg("Post-purchase refresh failed")
		}
	}()

	e.deliverOutcome(p.ch, successOutcome(p.ref.ProductID, ent.Token, ent.OrderID))
}

// pickEntitlement prefers the receipt covering the purchased product and
// falls back to the first one.
func pickEntitlement(list []storeapi.RawEntitlement, productID string) storeapi.RawEntitlement {
	for _, raw := range list {
		for _, id := range raw.ProductIDs {
			if id == productID {
				return raw
			}
		}
	}
	return list[0]
}

func (e *Engine) clearPending() {
	e.purchaseMu.Lock()
	e.pending = nil
	e.purchaseMu.Unlock()
}

// deliverOutcome records the outcome and notifies the caller exactly once.
func (e *Engine) deliverOutcome(ch chan PurchaseOutcome, outcome PurchaseOutcome) {
	e.metrics.observePurchase(string(outcome.Kind))

	if e.journal != nil {
		_, err := e.journal.Record(history.Event{
			ProductID: outcome.ProductID,
			Outcome:   string(outcome.Kind),
			OrderID:   outcome.OrderID,
			Token:     outcome.Token,
			Code:      outcome.Code,
			Message:   outcome.Message,
		})
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to journal purchase outcome")
		}
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		e.logger.Info().Str("product", outcome.ProductID).Str("order", outcome.OrderID).Msg("Purchase succeeded")
	case OutcomeCancelled:
		e.logger.Info().Str("product", outcome.ProductID).Msg("Purchase cancelled by user")
	case OutcomeAlreadyOwned:
		e.logger.Info().Str("product", outcome.ProductID).Msg("Product already owned")
	case OutcomeError:
		e.logger.Warn().Str("product", outcome.ProductID).Int("code", outcome.Code).Str("message", outcome.Message).Msg("Purchase failed")
	}

	ch <- outcome
	close(ch)
}
