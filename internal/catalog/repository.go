package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("catalog: not found")

// ErrSignatureExists is returned by CreatePayment when the signature has
// already been recorded, letting callers treat the write as idempotent.
var ErrSignatureExists = errors.New("catalog: payment signature already recorded")

// Repository is the persistence seam the proxy pipeline consumes. It is the
// only way pipeline steps reach the catalog/ledger; concrete backends
// (memory, Postgres) are selected by config.Catalog.Backend and may be
// wrapped by CachedRepository for hot read paths.
type Repository interface {
	// GetServerByServerID resolves the public server-id to its registration.
	GetServerByServerID(ctx context.Context, serverID string) (RegisteredServer, error)
	// ListServers returns every registration, for the discovery document and
	// the admin surface. Not on the proxy's hot path.
	ListServers(ctx context.Context) ([]RegisteredServer, error)
	// ListToolsByServer returns every tool registered for a server. Pricing
	// rows are not loaded; GetToolPricing returns them per tool.
	ListToolsByServer(ctx context.Context, serverID string) ([]Tool, error)
	// GetToolPricing returns the pricing rows for one tool by name on a server.
	GetToolPricing(ctx context.Context, serverID, toolName string) (Tool, []PricingEntry, error)

	// CreateServer / UpdateServer / UpsertTool are the admin-path write
	// operations; they sit outside the proxy's hot path.
	CreateServer(ctx context.Context, server RegisteredServer) error
	UpdateServer(ctx context.Context, server RegisteredServer) error
	// UpsertTool registers or replaces a tool and its pricing rows.
	UpsertTool(ctx context.Context, tool Tool, pricing []PricingEntry) error

	// User identity lookups consumed by the auth resolver.
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByAPIKeyHash(ctx context.Context, hash string) (User, error)
	GetUserByWalletAddress(ctx context.Context, address string) (User, error)
	CreateUserWithWallet(ctx context.Context, address, chain string) (User, error)
	TouchUserLogin(ctx context.Context, userID string) error

	// GetUserWallets returns a user's managed wallets, consulted by the
	// signer registry's managed-wallet strategy.
	GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error)

	// CreatePayment persists a pending payment record keyed by signature.
	// Returns ErrSignatureExists (not an error the caller should surface) on
	// a duplicate signature, matching the payment gate's idempotence rule.
	CreatePayment(ctx context.Context, record PaymentRecord) error
	GetPaymentBySignature(ctx context.Context, signature string) (PaymentRecord, error)

	// RecordToolUsage writes one usage event; failures are best-effort from
	// the caller's perspective (the analytics recorder never fails a request).
	RecordToolUsage(ctx context.Context, event UsageEvent) error

	Close() error
}
