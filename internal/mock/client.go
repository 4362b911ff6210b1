// Package mock provides a scripted in-memory store backend for tests and
// the CLI's mock mode. Scripts control connect failures, query failures and
// purchase outcomes; counters expose how often each operation ran.
package mock

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/commercekit/subsync/pkg/storeapi"
)

// Client is a scripted storeapi.Client. The zero value is not usable; use
// NewClient.
type Client struct {
	mu sync.Mutex

	products     []storeapi.ProductDetails
	entitlements []storeapi.RawEntitlement
	events       storeapi.Events

	// Failure scripts: each counter fails that many calls before succeeding.
	connectFailures     int
	offerQueryFailures  int
	entitlementFailures int
	failureErr          error

	// purchaseScript decides the asynchronous outcome of a submission.
	// Nil means submissions succeed synchronously and no update is
	// delivered until DeliverPurchaseUpdate is called.
	purchaseScript func(storeapi.PurchaseRef) *storeapi.PurchaseUpdate
	submitErr      error

	// Call counters.
	ConnectCalls           int
	OfferQueries           int
	EntitlementQueries     int
	SubmitCalls            int
	AcknowledgedTokens     []string
	acknowledgeErr         error
	lastSubmitted          *storeapi.PurchaseRef
	disconnectsDeliverable bool
}

// NewClient creates a mock backend with the given catalog and entitlements.
func NewClient(products []storeapi.ProductDetails, entitlements []storeapi.RawEntitlement) *Client {
	return &Client{
		products:     products,
		entitlements: entitlements,
	}
}

// FailConnects scripts the next n Connect calls to fail with err.
func (c *Client) FailConnects(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectFailures = n
	c.failureErr = err
}

// FailOfferQueries scripts the next n QueryOffers calls to fail with err.
func (c *Client) FailOfferQueries(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerQueryFailures = n
	c.failureErr = err
}

// FailEntitlementQueries scripts the next n QueryEntitlements calls to fail
// with err.
func (c *Client) FailEntitlementQueries(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlementFailures = n
	c.failureErr = err
}

// FailSubmit scripts SubmitPurchase to fail synchronously with err.
func (c *Client) FailSubmit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// FailAcknowledge scripts Acknowledge to fail with err.
func (c *Client) FailAcknowledge(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acknowledgeErr = err
}

// ScriptPurchase sets the asynchronous outcome delivered after each
// submission. Returning nil suppresses the update.
func (c *Client) ScriptPurchase(fn func(storeapi.PurchaseRef) *storeapi.PurchaseUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchaseScript = fn
}

// SetProducts replaces the catalog.
func (c *Client) SetProducts(products []storeapi.ProductDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = products
}

// SetEntitlements replaces the entitlement set returned by queries.
func (c *Client) SetEntitlements(entitlements []storeapi.RawEntitlement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlements = entitlements
}

// Connect implements storeapi.Client.
func (c *Client) Connect(_ context.Context, ev storeapi.Events) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ConnectCalls++
	if c.connectFailures > 0 {
		c.connectFailures--
		return c.failureErr
	}
	c.events = ev
	c.disconnectsDeliverable = true
	return nil
}

// QueryOffers implements storeapi.Client. IDs without a scripted product are
// simply absent from the result.
func (c *Client) QueryOffers(_ context.Context, productIDs []string) ([]storeapi.ProductDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.OfferQueries++
	if c.offerQueryFailures > 0 {
		c.offerQueryFailures--
		return nil, c.failureErr
	}

	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	var out []storeapi.ProductDetails
	for _, p := range c.products {
		if _, ok := wanted[p.ProductID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// QueryEntitlements implements storeapi.Client.
func (c *Client) QueryEntitlements(_ context.Context) ([]storeapi.RawEntitlement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.EntitlementQueries++
	if c.entitlementFailures > 0 {
		c.entitlementFailures--
		return nil, c.failureErr
	}
	out := make([]storeapi.RawEntitlement, len(c.entitlements))
	copy(out, c.entitlements)
	return out, nil
}

// SubmitPurchase implements storeapi.Client. When a purchase script is set,
// its update is delivered asynchronously, mirroring the real decoupling of
// submission and result.
func (c *Client) SubmitPurchase(_ context.Context, ref storeapi.PurchaseRef) error {
	c.mu.Lock()
	if c.submitErr != nil {
		err := c.submitErr
		c.SubmitCalls++
		c.mu.Unlock()
		return err
	}
	c.SubmitCalls++
	c.lastSubmitted = &ref
	script := c.purchaseScript
	ev := c.events
	c.mu.Unlock()

	if script != nil && ev.PurchaseUpdate != nil {
		if update := script(ref); update != nil {
			if update.Code == storeapi.CodeOK {
				c.recordEntitlements(update.Entitlements)
			}
			go ev.PurchaseUpdate(*update)
		}
	}
	return nil
}

// recordEntitlements adds purchased receipts to the backend state so
// subsequent entitlement queries reflect the purchase, as the real backend
// does.
func (c *Client) recordEntitlements(list []storeapi.RawEntitlement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlements = append(c.entitlements, list...)
}

// Acknowledge implements storeapi.Client. Acknowledged tokens accumulate so
// tests can assert idempotency.
func (c *Client) Acknowledge(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acknowledgeErr != nil {
		return c.acknowledgeErr
	}
	c.AcknowledgedTokens = append(c.AcknowledgedTokens, token)
	for i := range c.entitlements {
		if c.entitlements[i].Token == token {
			c.entitlements[i].Acknowledged = true
		}
	}
	return nil
}

// Close implements storeapi.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = storeapi.Events{}
	c.disconnectsDeliverable = false
	return nil
}

// DeliverPurchaseUpdate pushes an out-of-band purchase result, as the real
// backend does after the user completes the flow.
func (c *Client) DeliverPurchaseUpdate(update storeapi.PurchaseUpdate) {
	c.mu.Lock()
	ev := c.events
	c.mu.Unlock()
	if ev.PurchaseUpdate != nil {
		ev.PurchaseUpdate(update)
	}
}

// Disconnect simulates a dropped connection.
func (c *Client) Disconnect(err error) {
	c.mu.Lock()
	ev := c.events
	deliverable := c.disconnectsDeliverable
	c.disconnectsDeliverable = false
	c.mu.Unlock()
	if deliverable && ev.Disconnected != nil {
		ev.Disconnected(err)
	}
}

// LastSubmitted returns the most recent purchase submission, if any.
func (c *Client) LastSubmitted() *storeapi.PurchaseRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSubmitted == nil {
		return nil
	}
	ref := *c.lastSubmitted
	return &ref
}

// NewOrderID generates a mock order identifier.
func NewOrderID() string {
	return "ORDER-" + ulid.Make().String()
}
