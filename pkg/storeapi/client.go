package storeapi

import "context"

// Events holds the callbacks a Client delivers out of band. Both callbacks
// may be invoked from the client's own goroutines; handlers must not block.
type Events struct {
	// PurchaseUpdate delivers the asynchronous result of a submitted
	// purchase. Called at most once per submission.
	PurchaseUpdate func(PurchaseUpdate)

	// Disconnected reports that the connection was lost after a successful
	// Connect. The supervisor reacts by reconnecting; the client itself
	// does not retry.
	Disconnected func(error)
}

// Client is the transport to the remote commerce backend.
//
// Contract (load-bearing for the sync engine):
//   - Connect is idempotent and may be called again after disconnection.
//     It delivers a terminal success/failure once per call.
//   - QueryOffers and QueryEntitlements are read-only and safe to retry.
//     Partial offer resolution is not an error; unresolvable IDs are simply
//     absent from the result.
//   - SubmitPurchase can fail synchronously (flow could not be launched);
//     otherwise the result arrives later via Events.PurchaseUpdate.
//   - Acknowledge is idempotent; acknowledging an already-acknowledged
//     token is a no-op success.
type Client interface {
	Connect(ctx context.Context, ev Events) error
	QueryOffers(ctx context.Context, productIDs []string) ([]ProductDetails, error)
	QueryEntitlements(ctx context.Context) ([]RawEntitlement, error)
	SubmitPurchase(ctx context.Context, ref PurchaseRef) error
	Acknowledge(ctx context.Context, token string) error
	Close() error
}
