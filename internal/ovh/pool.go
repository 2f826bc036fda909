package ovh

import (
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/woodchen-ink/OVH/internal/api"
)

// Pool caches one Client per account. Clients are shared read-only after
// creation; removing an account evicts its client.
type Pool struct {
	clients cmap.ConcurrentMap[string, *Client]
	options []ClientOption
}

// NewPool creates a Pool. The given options apply to every client the pool
// creates.
func NewPool(options ...ClientOption) *Pool {
	return &Pool{
		clients: cmap.New[*Client](),
		options: options,
	}
}

// Get returns the cached client for the account, creating one on first use.
func (p *Pool) Get(account api.Account) (*Client, error) {
	if client, ok := p.clients.Get(account.ID); ok {
		return client, nil
	}

	client, err := NewClient(account, p.options...)
	if err != nil {
		return nil, err
	}

	p.clients.SetIfAbsent(account.ID, client)
	client, _ = p.clients.Get(account.ID)
	return client, nil
}

// Evict drops the cached client for an account, if any.
func (p *Pool) Evict(accountID string) {
	p.clients.Remove(accountID)
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	return p.clients.Count()
}
