package x402

// SupportedVersion is the x402 protocol version the gateway speaks.
const SupportedVersion = 1

// SchemeExact is the only payment scheme the gateway accepts: a signed
// EIP-3009 authorization for an exact amount.
const SchemeExact = "exact"

// Networks the catalog may price tools on. "base" wins pricing tie-breaks.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
	NetworkSeiTestnet  = "sei-testnet"
)

// DefaultMaxTimeoutSeconds is advertised in every PaymentRequirement: how
// long the payer's authorization must remain valid for.
const DefaultMaxTimeoutSeconds = 60

// ResourceScheme prefixes the resource identifier in a PaymentRequirement,
// e.g. "mcpay://myTool".
const ResourceScheme = "mcpay://"
