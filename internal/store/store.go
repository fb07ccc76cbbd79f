// Package store provides storage backends for the KeepInTouch outreach log.
//
// Receipts record every outbound send (touchpoints, birthday greetings,
// scheduled messages, manual sends) and responses record inbound messages
// from contacts. An in-memory store backs tests and stateless deployments;
// SQLite and PostgreSQL stores persist across restarts.
package store

import (
	"strings"
	"sync"

	"github.com/keepintouch-app/keepintouch/internal/models"
)

// Store is the persistence abstraction for the outreach log.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)
	Close() error
}

// Opts holds configuration options for persistent stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for persistent stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-memory outreach log.
type InMemoryStore struct {
	mu        sync.Mutex
	receipts  []models.Receipt
	responses []models.Response
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddReceipt appends a receipt to the log.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns a copy of the receipt log.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddResponse appends an inbound response to the log.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns a copy of the response log.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
