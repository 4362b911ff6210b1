package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when issuing a request on a disconnected client.
var ErrNotConnected = errors.New("store client not connected")

const (
	wsHandshakeWait  = 15 * time.Second
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 70 * time.Second
	wsPingInterval   = 25 * time.Second
	wsMaxMessageSize = 1 << 20
)

// frame is the JSON envelope for every message on the socket. Exactly one
// request kind is populated per frame.
type frame struct {
	Type       string           `json:"type"`
	ID         string           `json:"id,omitempty"`
	ProductIDs []string         `json:"productIds,omitempty"`
	Ref        *PurchaseRef     `json:"ref,omitempty"`
	Token      string           `json:"token,omitempty"`
	Products   []ProductDetails `json:"products,omitempty"`
	Receipts   []RawEntitlement `json:"receipts,omitempty"`
	Update     *PurchaseUpdate  `json:"update,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// WSClient implements Client over a persistent websocket. One request/response
// exchange per query; purchase updates arrive as unsolicited server pushes.
type WSClient struct {
	url    string
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	events    Events
	pending   map[string]chan frame
}

// NewWSClient creates a websocket-backed store client for the given URL.
func NewWSClient(url string, logger zerolog.Logger) *WSClient {
	return &WSClient{
		url:     url,
		logger:  logger.With().Str("component", "storeapi").Logger(),
		pending: make(map[string]chan frame),
	}
}

// Connect dials the backend. It returns once the socket is established or
// the dial has terminally failed; it does not retry.
func (c *WSClient) Connect(ctx context.Context, ev Events) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeWait}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial store backend: %w", err)
	}

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.events = ev
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info().Str("url", c.url).Msg("Connected to store backend")
	return nil
}

// QueryOffers resolves offer metadata for the given product IDs.
// Unresolvable IDs are absent from the result, not an error.
func (c *WSClient) QueryOffers(ctx context.Context, productIDs []string) ([]ProductDetails, error) {
	resp, err := c.roundTrip(ctx, frame{Type: "queryOffers", ProductIDs: productIDs})
	if err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// QueryEntitlements returns the full current entitlement set.
func (c *WSClient) QueryEntitlements(ctx context.Context) ([]RawEntitlement, error) {
	resp, err := c.roundTrip(ctx, frame{Type: "queryEntitlements"})
	if err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// SubmitPurchase launches a purchase transaction. The response only confirms
// the flow was launched; the outcome arrives via Events.PurchaseUpdate.
func (c *WSClient) SubmitPurchase(ctx context.Context, ref PurchaseRef) error {
	_, err := c.roundTrip(ctx, frame{Type: "submitPurchase", Ref: &ref})
	return err
}

// Acknowledge confirms receipt of an entitlement. Safe to call on an
// already-acknowledged token.
func (c *WSClient) Acknowledge(ctx context.Context, token string) error {
	_, err := c.roundTrip(ctx, frame{Type: "acknowledge", Token: token})
	return err
}

// Close tears down the connection. Pending requests fail with ErrNotConnected.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.events = Events{}
	pending := c.pending
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *WSClient) roundTrip(ctx context.Context, req frame) (frame, error) {
	req.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return frame{}, ErrNotConnected
	}
	conn := c.conn
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		return frame{}, fmt.Errorf("write %s: %w", req.Type, err)
	}

	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return frame{}, ErrNotConnected
		}
		if resp.Error != "" {
			return frame{}, fmt.Errorf("%s: %s", req.Type, resp.Error)
		}
		return resp, nil
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed frame from store backend")
			continue
		}

		switch {
		case f.Type == "purchaseUpdate" && f.Update != nil:
			c.mu.Lock()
			ev := c.events
			c.mu.Unlock()
			if ev.PurchaseUpdate != nil {
				ev.PurchaseUpdate(*f.Update)
			}
		case f.ID != "":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		default:
			c.logger.Debug().Str("type", f.Type).Msg("Ignoring unexpected frame")
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		active := c.conn == conn && c.connected
		c.mu.Unlock()
		if !active {
			return
		}
		c.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// handleDisconnect fails all pending requests and notifies the supervisor.
// Only the goroutine owning the current connection reports; a stale readLoop
// from a replaced connection exits silently.
func (c *WSClient) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	ev := c.events
	pending := c.pending
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.logger.Warn().Err(err).Msg("Store backend connection lost")
	} else {
		c.logger.Debug().Err(err).Msg("Store backend connection closed")
	}

	if ev.Disconnected != nil {
		ev.Disconnected(err)
	}
}
