// Package identity holds the locally authenticated account. The account
// lives outside the store (it survives store logout wipes) and its changes
// drive the transport and store lifecycle through bus notifications.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/adaspace/chatcore/internal/bus"
)

// Event kinds published on identity changes.
const (
	// EventLogin carries the Account that became current.
	EventLogin = "identity.login"
	// EventLogout carries no payload.
	EventLogout = "identity.logout"
)

// Account is the locally authenticated user driving the session.
type Account struct {
	ID   uuid.UUID `toml:"id"`
	Name string    `toml:"name"`
}

// Provider persists the current account to a file in the profile directory
// and announces changes on the bus. At most one account is current at a
// time.
type Provider struct {
	mu   sync.Mutex
	path string
	bus  *bus.Bus
}

// NewProvider creates a provider over the given account file path.
func NewProvider(path string, b *bus.Bus) *Provider {
	return &Provider{path: path, bus: b}
}

// Current returns the current account, or nil when logged out.
func (p *Provider) Current() (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// Login makes acct the current account and announces it.
func (p *Provider) Login(acct Account) error {
	if acct.ID == uuid.Nil {
		return errors.New("login: account id required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(acct)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		return fmt.Errorf("persist account: %w", encErr)
	}

	p.bus.Publish(bus.Event{Kind: EventLogin, Timestamp: time.Now(), Payload: acct})
	return nil
}

// Logout clears the current account and announces it. A no-op when already
// logged out.
func (p *Provider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.load()
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear account: %w", err)
	}

	p.bus.Publish(bus.Event{Kind: EventLogout, Timestamp: time.Now()})
	return nil
}

func (p *Provider) load() (*Account, error) {
	var acct Account
	if _, err := toml.DecodeFile(p.path, &acct); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if acct.ID == uuid.Nil {
		return nil, nil
	}
	return &acct, nil
}
