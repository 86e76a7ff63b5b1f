package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/mcpay/gateway/internal/cacheutil"
)

// cachedTools bundles one server's tool list and pricing index; the whole
// entry is rebuilt on expiry rather than per-tool.
type cachedTools struct {
	tools      []Tool
	pricingIdx map[string][]PricingEntry // toolName -> pricing
	fetchedAt  time.Time
}

// CachedRepository wraps a Repository with a TTL read-through cache over the
// hot read path: server lookup, tool list, and per-tool pricing. Write paths
// (CreateServer/UpdateServer) invalidate the relevant server's cache entry.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu          sync.RWMutex
	servers     map[string]cacheutil.CachedValue[RegisteredServer]
	serverTools map[string]cachedTools
}

// NewCachedRepository wraps a repository with a caching layer. cacheTTL of 0
// disables caching (pass-through mode).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying:  underlying,
		cacheTTL:    cacheTTL,
		servers:     make(map[string]cacheutil.CachedValue[RegisteredServer]),
		serverTools: make(map[string]cachedTools),
	}
}

func (r *CachedRepository) GetServerByServerID(ctx context.Context, serverID string) (RegisteredServer, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetServerByServerID(ctx, serverID)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (RegisteredServer, bool) {
			entry, ok := r.servers[serverID]
			if ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return RegisteredServer{}, false
		},
		func(now time.Time) (RegisteredServer, error) {
			server, err := r.underlying.GetServerByServerID(ctx, serverID)
			if err != nil {
				return RegisteredServer{}, err
			}
			r.servers[serverID] = cacheutil.CachedValue[RegisteredServer]{Value: server, FetchedAt: now}
			return server, nil
		},
	)
}

// ListServers is an admin read; it always goes to the backing repository.
func (r *CachedRepository) ListServers(ctx context.Context) ([]RegisteredServer, error) {
	return r.underlying.ListServers(ctx)
}

func (r *CachedRepository) ListToolsByServer(ctx context.Context, serverID string) ([]Tool, error) {
	if r.cacheTTL == 0 {
		return r.underlying.ListToolsByServer(ctx, serverID)
	}

	entry, err := r.ensureServerTools(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return entry.tools, nil
}

func (r *CachedRepository) GetToolPricing(ctx context.Context, serverID, toolName string) (Tool, []PricingEntry, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetToolPricing(ctx, serverID, toolName)
	}

	entry, err := r.ensureServerTools(ctx, serverID)
	if err != nil {
		return Tool{}, nil, err
	}

	for _, t := range entry.tools {
		if t.Name == toolName {
			return t, entry.pricingIdx[toolName], nil
		}
	}
	return Tool{}, nil, ErrNotFound
}

// ensureServerTools rebuilds the tool+pricing cache for one server when
// expired, with a double-checked lock so concurrent misses fetch once.
func (r *CachedRepository) ensureServerTools(ctx context.Context, serverID string) (cachedTools, error) {
	r.mu.RLock()
	entry, ok := r.serverTools[serverID]
	valid := ok && time.Now().Sub(entry.fetchedAt) < r.cacheTTL
	r.mu.RUnlock()
	if valid {
		return entry, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok = r.serverTools[serverID]
	if ok && time.Now().Sub(entry.fetchedAt) < r.cacheTTL {
		return entry, nil
	}

	tools, err := r.underlying.ListToolsByServer(ctx, serverID)
	if err != nil {
		return cachedTools{}, err
	}

	pricingIdx := make(map[string][]PricingEntry, len(tools))
	for _, t := range tools {
		_, pricing, err := r.underlying.GetToolPricing(ctx, serverID, t.Name)
		if err != nil {
			return cachedTools{}, err
		}
		pricingIdx[t.Name] = pricing
	}

	fresh := cachedTools{tools: tools, pricingIdx: pricingIdx, fetchedAt: time.Now()}
	r.serverTools[serverID] = fresh
	return fresh, nil
}

// InvalidateServer clears the cached entry for one server, forcing the next
// read to go to the underlying repository.
func (r *CachedRepository) InvalidateServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, serverID)
	delete(r.serverTools, serverID)
}

func (r *CachedRepository) CreateServer(ctx context.Context, server RegisteredServer) error {
	return cacheutil.WriteThrough(func() { r.InvalidateServer(server.ServerID) }, func() error {
		return r.underlying.CreateServer(ctx, server)
	})
}

func (r *CachedRepository) UpdateServer(ctx context.Context, server RegisteredServer) error {
	return cacheutil.WriteThrough(func() { r.InvalidateServer(server.ServerID) }, func() error {
		return r.underlying.UpdateServer(ctx, server)
	})
}

func (r *CachedRepository) UpsertTool(ctx context.Context, tool Tool, pricing []PricingEntry) error {
	return cacheutil.WriteThrough(func() { r.InvalidateServer(tool.ServerID) }, func() error {
		return r.underlying.UpsertTool(ctx, tool, pricing)
	})
}

func (r *CachedRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	return r.underlying.GetUserByID(ctx, userID)
}

func (r *CachedRepository) GetUserByAPIKeyHash(ctx context.Context, hash string) (User, error) {
	return r.underlying.GetUserByAPIKeyHash(ctx, hash)
}

func (r *CachedRepository) GetUserByWalletAddress(ctx context.Context, address string) (User, error) {
	return r.underlying.GetUserByWalletAddress(ctx, address)
}

func (r *CachedRepository) CreateUserWithWallet(ctx context.Context, address, chain string) (User, error) {
	return r.underlying.CreateUserWithWallet(ctx, address, chain)
}

func (r *CachedRepository) TouchUserLogin(ctx context.Context, userID string) error {
	return r.underlying.TouchUserLogin(ctx, userID)
}

func (r *CachedRepository) GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	return r.underlying.GetUserWallets(ctx, userID, activeOnly)
}

func (r *CachedRepository) CreatePayment(ctx context.Context, record PaymentRecord) error {
	return r.underlying.CreatePayment(ctx, record)
}

func (r *CachedRepository) GetPaymentBySignature(ctx context.Context, signature string) (PaymentRecord, error) {
	return r.underlying.GetPaymentBySignature(ctx, signature)
}

func (r *CachedRepository) RecordToolUsage(ctx context.Context, event UsageEvent) error {
	return r.underlying.RecordToolUsage(ctx, event)
}

func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
