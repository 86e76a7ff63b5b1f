package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository, the default backend for
// tests and local development: a mutex-guarded set of maps, no external
// dependency.
type MemoryRepository struct {
	mu sync.RWMutex

	servers  map[string]RegisteredServer
	tools    map[string]Tool            // toolID -> Tool
	toolsBy  map[string]map[string]string // serverID -> toolName -> toolID
	pricing  map[string][]PricingEntry  // toolID -> pricing rows

	usersByID     map[string]User
	usersByAPIKey map[string]string // hash -> userID
	usersByWallet map[string]string // address -> userID
	wallets       map[string][]Wallet // userID -> wallets

	payments       map[string]PaymentRecord // signature -> record
	usageEvents    []UsageEvent
}

// NewMemoryRepository builds an empty in-memory catalog.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		servers:       make(map[string]RegisteredServer),
		tools:         make(map[string]Tool),
		toolsBy:       make(map[string]map[string]string),
		pricing:       make(map[string][]PricingEntry),
		usersByID:     make(map[string]User),
		usersByAPIKey: make(map[string]string),
		usersByWallet: make(map[string]string),
		wallets:       make(map[string][]Wallet),
		payments:      make(map[string]PaymentRecord),
	}
}

// Seed registers a server and its tools/pricing in one call, for tests and
// for bootstrapping local development without a Postgres catalog.
func (m *MemoryRepository) Seed(server RegisteredServer, tools []Tool, pricing map[string][]PricingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers[server.ServerID] = server
	if m.toolsBy[server.ServerID] == nil {
		m.toolsBy[server.ServerID] = make(map[string]string)
	}
	for _, t := range tools {
		m.tools[t.ToolID] = t
		m.toolsBy[server.ServerID][t.Name] = t.ToolID
		if rows, ok := pricing[t.ToolID]; ok {
			m.pricing[t.ToolID] = rows
		}
	}
}

func (m *MemoryRepository) GetServerByServerID(_ context.Context, serverID string) (RegisteredServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return RegisteredServer{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryRepository) ListServers(_ context.Context) ([]RegisteredServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	servers := make([]RegisteredServer, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	return servers, nil
}

func (m *MemoryRepository) ListToolsByServer(_ context.Context, serverID string) ([]Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names, ok := m.toolsBy[serverID]
	if !ok {
		return nil, nil
	}
	tools := make([]Tool, 0, len(names))
	for _, toolID := range names {
		tools = append(tools, m.tools[toolID])
	}
	return tools, nil
}

func (m *MemoryRepository) GetToolPricing(_ context.Context, serverID, toolName string) (Tool, []PricingEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names, ok := m.toolsBy[serverID]
	if !ok {
		return Tool{}, nil, ErrNotFound
	}
	toolID, ok := names[toolName]
	if !ok {
		return Tool{}, nil, ErrNotFound
	}
	return m.tools[toolID], m.pricing[toolID], nil
}

func (m *MemoryRepository) CreateServer(_ context.Context, server RegisteredServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if server.RegisteredAt.IsZero() {
		server.RegisteredAt = now
	}
	server.UpdatedAt = now
	m.servers[server.ServerID] = server
	if m.toolsBy[server.ServerID] == nil {
		m.toolsBy[server.ServerID] = make(map[string]string)
	}
	return nil
}

func (m *MemoryRepository) UpdateServer(_ context.Context, server RegisteredServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.servers[server.ServerID]
	if !ok {
		return ErrNotFound
	}
	server.RegisteredAt = existing.RegisteredAt
	server.UpdatedAt = time.Now()
	m.servers[server.ServerID] = server
	return nil
}

func (m *MemoryRepository) UpsertTool(_ context.Context, tool Tool, pricing []PricingEntry) error {
	if tool.ServerID == "" || tool.Name == "" {
		return fmt.Errorf("catalog: tool requires server id and name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[tool.ServerID]; !ok {
		return ErrNotFound
	}
	if tool.ToolID == "" {
		tool.ToolID = uuid.NewString()
	}
	if m.toolsBy[tool.ServerID] == nil {
		m.toolsBy[tool.ServerID] = make(map[string]string)
	}
	if existing, ok := m.toolsBy[tool.ServerID][tool.Name]; ok {
		tool.ToolID = existing
	}
	m.tools[tool.ToolID] = tool
	m.toolsBy[tool.ServerID][tool.Name] = tool.ToolID

	rows := make([]PricingEntry, len(pricing))
	copy(rows, pricing)
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		rows[i].ToolID = tool.ToolID
	}
	m.pricing[tool.ToolID] = rows
	return nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryRepository) GetUserByAPIKeyHash(_ context.Context, hash string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.usersByAPIKey[hash]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.usersByID[userID], nil
}

func (m *MemoryRepository) GetUserByWalletAddress(_ context.Context, address string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.usersByWallet[address]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.usersByID[userID], nil
}

func (m *MemoryRepository) CreateUserWithWallet(_ context.Context, address, chain string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userID, ok := m.usersByWallet[address]; ok {
		return m.usersByID[userID], nil
	}

	u := User{
		ID:                   uuid.NewString(),
		PrimaryWalletAddress: address,
		DisplayName:          fmt.Sprintf("%s:%s", chain, address),
	}
	m.usersByID[u.ID] = u
	m.usersByWallet[address] = u.ID
	return u, nil
}

func (m *MemoryRepository) TouchUserLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	u.LastLoginAt = now
	u.LastUsedAt = now
	m.usersByID[userID] = u
	return nil
}

func (m *MemoryRepository) GetUserWallets(_ context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.wallets[userID]
	if !activeOnly {
		return append([]Wallet(nil), all...), nil
	}
	out := make([]Wallet, 0, len(all))
	for _, w := range all {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

// SeedUser registers a user directly, indexing the API-key hash and wallet
// address when present.
func (m *MemoryRepository) SeedUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.usersByID[u.ID] = u
	if u.APIKeyHash != "" {
		m.usersByAPIKey[u.APIKeyHash] = u.ID
	}
	if u.PrimaryWalletAddress != "" {
		m.usersByWallet[u.PrimaryWalletAddress] = u.ID
	}
}

// SeedWallet registers a managed wallet for a user, used by tests and the
// managed-wallet signer strategy's local development fixtures.
func (m *MemoryRepository) SeedWallet(w Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	m.wallets[w.UserID] = append(m.wallets[w.UserID], w)
}

func (m *MemoryRepository) CreatePayment(_ context.Context, record PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[record.Signature]; exists {
		return ErrSignatureExists
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	m.payments[record.Signature] = record
	return nil
}

func (m *MemoryRepository) GetPaymentBySignature(_ context.Context, signature string) (PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.payments[signature]
	if !ok {
		return PaymentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) RecordToolUsage(_ context.Context, event UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = time.Now()
	m.usageEvents = append(m.usageEvents, event)
	return nil
}

// UsageEvents returns a snapshot of recorded usage events, for tests and
// the admin dashboard read path.
func (m *MemoryRepository) UsageEvents() []UsageEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]UsageEvent(nil), m.usageEvents...)
}

func (m *MemoryRepository) Close() error { return nil }
