package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/adaspace/chatcore/internal/bus"
	"go.uber.org/zap"
)

// ErrConstraint wraps SQLite constraint violations (duplicate primary key,
// broken uniqueness) so callers can distinguish them from I/O failures.
var ErrConstraint = errors.New("constraint violation")

// DB wraps the SQLite connection for the app-owned chat.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Store performs all durable reads and writes and announces every externally
// visible mutation on the change bus. Events are published only after the
// owning transaction has committed, so a subscriber never sees a
// notification for rows that are not durable yet.
//
// writeMu is held from transaction begin through commit and event emission,
// so concurrent writers publish in commit order: SQLite's writer lock alone
// does not stop a later-committing transaction from publishing first.
type Store struct {
	writeMu sync.Mutex
	db      *DB
	bus     *bus.Bus
	logger  *zap.Logger
}

// New creates a store over an open database.
func New(db *DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{db: db, bus: b, logger: logger}
}

// DB exposes the underlying connection, mainly for tests.
func (s *Store) DB() *DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize migrates the schema and seeds quick replies on first run. Safe
// to call on every startup: migrations are versioned and the seed is guarded
// by a count check rather than a flag.
func (s *Store) Initialize() error {
	result, err := s.db.Migrate()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if result.Changed {
		s.logger.Info("migrations applied", zap.Uint("version", result.Version))
	}
	if err := s.seedQuickReplies(); err != nil {
		return fmt.Errorf("seed quick replies: %w", err)
	}
	return nil
}

// Logout clears all conversational state (contacts, dialogs, messages,
// outbox) while keeping quick replies. No event is emitted: on an identity
// change callers discard their in-memory state wholesale instead of reacting
// incrementally.
func (s *Store) Logout() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"outbox", "messages", "dialogs", "contacts"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, mapErr(err))
		}
	}
	return tx.Commit()
}

func (s *Store) publish(kind string, payload any) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// mapErr tags SQLite constraint errors with ErrConstraint.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}
