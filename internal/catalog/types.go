// Package catalog resolves registered MCP servers, their tools, and pricing.
package catalog

import "time"

// RegisteredServer is one upstream MCP endpoint addressable at /mcp/<serverId>.
type RegisteredServer struct {
	ServerID        string
	OriginURL       string // scheme+host+port+base-path
	ReceiverAddress string // payee for priced tool calls on this server
	AuthHeaders     map[string]string
	Status          string // "active", "disabled"
	Metadata        map[string]string
	RegisteredAt    time.Time
	UpdatedAt       time.Time
}

// Tool is one row per tool name per server.
type Tool struct {
	ToolID      string
	ServerID    string
	Name        string
	InputSchema []byte // opaque JSON schema blob
}

// PricingEntry is one priced offer for a tool on a given network.
type PricingEntry struct {
	ID                   string
	ToolID               string
	AssetAddress         string
	Network              string
	MaxAmountRequiredRaw string // decimal string, smallest-unit base units
	TokenDecimals        uint8
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// User is a resolved identity. The catalog only reads pre-existing users,
// except for the wallet-header auto-provisioning path in internal/auth.
type User struct {
	ID                   string
	Email                string
	DisplayName          string
	PrimaryWalletAddress string
	APIKeyHash           string
	LastLoginAt          time.Time
	LastUsedAt           time.Time
}

// Wallet is a custodial/managed wallet owned by a User, consulted by the
// signer registry's managed-wallet strategy.
type Wallet struct {
	ID              string
	UserID          string
	Address         string
	Network         string
	IsSmartAccount  bool // gas-sponsored managed wallet
	Active          bool
}

// PaymentRecord is the ledger entry written when a valid X-PAYMENT is first seen.
type PaymentRecord struct {
	ID             string
	ToolID         string
	UserID         string // empty if unauthenticated
	AmountRaw      string
	TokenDecimals  uint8
	AssetAddress   string
	Network        string
	Status         string // "pending", "settled", "failed"
	Signature      string
	PayerAddress   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment record statuses.
const (
	PaymentStatusPending = "pending"
	PaymentStatusSettled = "settled"
	PaymentStatusFailed  = "failed"
)

// UsageEvent is written post-response for every request that reached upstream.
type UsageEvent struct {
	ID              string
	ToolID          string
	ServerID        string
	UserID          string
	ResponseStatus  int
	ExecutionTimeMs int64
	IPAddress       string
	UserAgent       string
	RequestSnapshot []byte
	ResultSnapshot  []byte
	CreatedAt       time.Time
}
