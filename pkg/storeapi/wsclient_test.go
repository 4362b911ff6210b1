package storeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal websocket store backend for client tests. Each
// request frame is answered by the handler; pushes go out via push().
type fakeBackend struct {
	t       *testing.T
	server  *httptest.Server
	handler func(req frame) frame

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBackend(t *testing.T, handler func(req frame) frame) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, handler: handler}
	upgrader := websocket.Upgrader{}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		for {
			var req frame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := b.handler(req)
			resp.ID = req.ID
			b.mu.Lock()
			err = conn.WriteJSON(resp)
			b.mu.Unlock()
			if err != nil {
				return
			}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBackend) push(f frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotNil(b.t, b.conn, "no client connected")
	require.NoError(b.t, b.conn.WriteJSON(f))
}

func (b *fakeBackend) dropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
}

func connectClient(t *testing.T, backend *fakeBackend, ev Events) *WSClient {
	t.Helper()
	client := NewWSClient(backend.url(), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, ev))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWSClientQueryRoundTrip(t *testing.T) {
	backend := newFakeBackend(t, func(req frame) frame {
		switch req.Type {
		case "queryOffers":
			return frame{
				Type: "queryOffers",
				Products: []ProductDetails{
					{ProductID: req.ProductIDs[0], Title: "Premium"},
				},
			}
		case "queryEntitlements":
			return frame{
				Type:     "queryEntitlements",
				Receipts: []RawEntitlement{{Token: "tok-1", State: PurchaseStatePurchased}},
			}
		default:
			return frame{Type: req.Type, Error: "unexpected request"}
		}
	})
	client := connectClient(t, backend, Events{})

	products, err := client.QueryOffers(context.Background(), []string{"premium_monthly"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "premium_monthly", products[0].ProductID)

	receipts, err := client.QueryEntitlements(context.Background())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "tok-1", receipts[0].Token)
}

func TestWSClientBackendError(t *testing.T) {
	backend := newFakeBackend(t, func(req frame) frame {
		return frame{Type: req.Type, Error: "unknown token"}
	})
	client := connectClient(t, backend, Events{})

	err := client.Acknowledge(context.Background(), "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token")
}

func TestWSClientPurchaseUpdatePush(t *testing.T) {
	backend := newFakeBackend(t, func(req frame) frame {
		return frame{Type: req.Type}
	})

	updates := make(chan PurchaseUpdate, 1)
	client := connectClient(t, backend, Events{
		PurchaseUpdate: func(u PurchaseUpdate) { updates <- u },
	})

	require.NoError(t, client.SubmitPurchase(context.Background(), PurchaseRef{
		SessionID: "s-1",
		ProductID: "premium_monthly",
	}))

	backend.push(frame{
		Type:   "purchaseUpdate",
		Update: &PurchaseUpdate{Code: CodeOK},
	})

	select {
	case u := <-updates:
		assert.Equal(t, CodeOK, u.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("purchase update was not delivered")
	}
}

func TestWSClientDisconnectFailsPendingAndNotifies(t *testing.T) {
	gate := make(chan struct{})
	backend := newFakeBackend(t, func(req frame) frame {
		<-gate // hold the request so the drop races ahead of the response
		return frame{Type: req.Type}
	})

	disconnected := make(chan error, 1)
	client := connectClient(t, backend, Events{
		Disconnected: func(err error) { disconnected <- err },
	})

	errs := make(chan error, 1)
	go func() {
		_, err := client.QueryEntitlements(context.Background())
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	backend.dropConnection()
	close(gate)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail on disconnect")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback was not invoked")
	}
}

func TestWSClientCloseFailsPending(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	backend := newFakeBackend(t, func(req frame) frame {
		<-gate // never answer; the request must be failed by Close
		return frame{Type: req.Type}
	})
	client := connectClient(t, backend, Events{})

	errs := make(chan error, 1)
	go func() {
		_, err := client.QueryEntitlements(context.Background())
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail on close")
	}
}

func TestWSClientRequestWhileDisconnected(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1/ws", zerolog.Nop())
	_, err := client.QueryEntitlements(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}
