// Package history journals purchase attempt outcomes to SQLite so the host
// can audit what the engine did across sessions. Only attempt outcomes are
// persisted; cached offer and entitlement state never is.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Event is one recorded purchase attempt outcome.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	ProductID string    `json:"product_id"`
	Outcome   string    `json:"outcome"` // success, error, cancelled, already_owned
	OrderID   string    `json:"order_id,omitempty"`
	Token     string    `json:"token,omitempty"`
	Code      int       `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Filter narrows Recent queries. Zero values match everything.
type Filter struct {
	ProductID string
	Outcome   string
	Limit     int
}

const defaultLimit = 100

// Store is the purchase event journal.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	// WAL keeps readers from blocking the single writer.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Purchase history journal opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS purchase_events (
			event_id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			order_id TEXT,
			token TEXT,
			code INTEGER,
			message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_purchase_events_product
			ON purchase_events(product_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_purchase_events_outcome
			ON purchase_events(outcome, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends an event and returns its event ID, generating one when the
// caller did not.
func (s *Store) Record(ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.EventID == "" {
		ev.EventID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO purchase_events (event_id, timestamp, product_id, outcome, order_id, token, code, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Timestamp.UnixMilli(), ev.ProductID, ev.Outcome, ev.OrderID, ev.Token, ev.Code, ev.Message,
	)
	if err != nil {
		return "", fmt.Errorf("record purchase event: %w", err)
	}

	log.Debug().
		Str("event_id", ev.EventID).
		Str("product", ev.ProductID).
		Str("outcome", ev.Outcome).
		Msg("Recorded purchase event")

	return ev.EventID, nil
}

// Recent returns events newest-first, narrowed by the filter.
func (s *Store) Recent(filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conds []string
	var args []any
	if filter.ProductID != "" {
		conds = append(conds, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	query := "SELECT event_id, timestamp, product_id, outcome, order_id, token, code, message FROM purchase_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query purchase events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var millis int64
		var orderID, token, message sql.NullString
		var code sql.NullInt64
		if err := rows.Scan(&ev.EventID, &millis, &ev.ProductID, &ev.Outcome, &orderID, &token, &code, &message); err != nil {
			return nil, fmt.Errorf("scan purchase event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(millis)
		ev.OrderID = orderID.String
		ev.Token = token.String
		ev.Message = message.String
		ev.Code = int(code.Int64)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
