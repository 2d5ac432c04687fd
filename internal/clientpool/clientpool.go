// Package clientpool implements the Client Pool: lazy, per-provider
// creation and caching of exactly one Sender per provider id, with sticky
// provider_unavailable on missing credentials. Creation is guarded by a
// per-provider sync.Once, so concurrent Get calls for the same provider
// produce at most one client; callers that lose the race wait for the
// winner's result and never build an instance of their own.
package clientpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/austenvale/modelmux/internal/providers"
)

// ErrProviderUnavailable is returned by Get when a provider's credentials
// were missing at first-use time. Unavailability is sticky for the process
// lifetime.
var ErrProviderUnavailable = fmt.Errorf("clientpool: provider unavailable")

// Credentials is the resolved key-value bag for one provider.
type Credentials map[string]string

// CredentialProvider resolves credentials for a provider id. A provider
// with no configured credentials returns ok=false.
type CredentialProvider interface {
	GetCredentials(providerID string) (Credentials, bool)
}

// Factory builds a Sender for providerID from its resolved credentials.
// Registered once per provider id at pool construction time; Factory itself
// makes no network calls — only New's first Get for that provider does.
type Factory func(creds Credentials) (providers.Sender, error)

type entry struct {
	once   sync.Once
	sender providers.Sender
	err    error
}

// Pool lazily creates and caches one Sender per provider id.
type Pool struct {
	creds     CredentialProvider
	factories map[string]Factory

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Pool. factories maps provider id -> Factory; creds resolves
// credentials for each provider at first use.
func New(creds CredentialProvider, factories map[string]Factory) *Pool {
	return &Pool{
		creds:     creds,
		factories: factories,
		entries:   make(map[string]*entry, len(factories)),
	}
}

// Get returns the cached Sender for providerID, creating it on first call.
// Concurrent calls for the same providerID block on the same *entry's
// sync.Once, so exactly one Factory invocation happens per provider
// regardless of how many goroutines race to call Get first — the loser
// never runs its own creation attempt, it just waits for the winner's
// result. A provider with no registered Factory, or whose credentials are
// missing, returns ErrProviderUnavailable, and that result is cached too:
// future Get calls for that provider id never retry creation.
func (p *Pool) Get(ctx context.Context, providerID string) (providers.Sender, error) {
	e := p.entryFor(providerID)
	e.once.Do(func() {
		factory, ok := p.factories[providerID]
		if !ok {
			e.err = fmt.Errorf("%w: %s (no factory registered)", ErrProviderUnavailable, providerID)
			return
		}
		creds, ok := p.creds.GetCredentials(providerID)
		if !ok {
			e.err = fmt.Errorf("%w: %s (no credentials configured)", ErrProviderUnavailable, providerID)
			return
		}
		sender, err := factory(creds)
		if err != nil {
			e.err = fmt.Errorf("%w: %s (%v)", ErrProviderUnavailable, providerID, err)
			return
		}
		e.sender = sender
	})
	return e.sender, e.err
}

// entryFor returns the (possibly just-created) *entry for providerID,
// guaranteeing the same pointer is returned to every concurrent caller.
func (p *Pool) entryFor(providerID string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[providerID]
	if !ok {
		e = &entry{}
		p.entries[providerID] = e
	}
	return e
}

// IsAvailable reports whether providerID has a successfully created (or
// not-yet-attempted) client. It never triggers creation itself.
func (p *Pool) IsAvailable(providerID string) bool {
	p.mu.Lock()
	e, attempted := p.entries[providerID]
	p.mu.Unlock()
	if !attempted {
		return true // not yet attempted: optimistically available
	}
	return e.err == nil
}

// Shutdown closes every client that was successfully created.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, e := range p.entries {
		if e.sender == nil {
			continue
		}
		if err := e.sender.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
