package money

import (
	"fmt"
	"sync"
)

// Asset represents a priced token with its on-chain properties.
type Asset struct {
	Code     string // token symbol (USDC, USDT, ...)
	Decimals uint8  // number of decimal places (6 for USDC)
	Metadata AssetMetadata
}

// AssetMetadata carries per-network contract addresses for a token.
type AssetMetadata struct {
	ContractsByNetwork map[string]string // network -> 0x-hex contract address
}

var (
	assetRegistry = map[string]Asset{
		"USDC": {
			Code:     "USDC",
			Decimals: 6,
			Metadata: AssetMetadata{
				ContractsByNetwork: map[string]string{
					"base":         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
					"base-sepolia": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				},
			},
		},
		"USDT": {
			Code:     "USDT",
			Decimals: 6,
			Metadata: AssetMetadata{
				ContractsByNetwork: map[string]string{
					"base": "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
				},
			},
		},
	}
	assetRegistryMu sync.RWMutex
)

// GetAsset retrieves an asset from the registry.
func GetAsset(code string) (Asset, error) {
	assetRegistryMu.RLock()
	asset, ok := assetRegistry[code]
	assetRegistryMu.RUnlock()

	if !ok {
		return Asset{}, fmt.Errorf("money: unknown asset: %s", code)
	}
	return asset, nil
}

// RegisterAsset adds a new asset to the registry (for tests or dynamically priced tokens).
func RegisterAsset(asset Asset) error {
	if asset.Code == "" {
		return fmt.Errorf("money: asset code required")
	}
	if asset.Decimals > 18 {
		return fmt.Errorf("money: decimals must be <= 18")
	}

	assetRegistryMu.Lock()
	assetRegistry[asset.Code] = asset
	assetRegistryMu.Unlock()

	return nil
}

// ListAssets returns all registered assets.
func ListAssets() []Asset {
	assetRegistryMu.RLock()
	assets := make([]Asset, 0, len(assetRegistry))
	for _, asset := range assetRegistry {
		assets = append(assets, asset)
	}
	assetRegistryMu.RUnlock()

	return assets
}

// ContractAddress returns the token's contract address on the given network.
func (a Asset) ContractAddress(network string) (string, error) {
	addr, ok := a.Metadata.ContractsByNetwork[network]
	if !ok {
		return "", fmt.Errorf("money: %s has no contract on network %s", a.Code, network)
	}
	return addr, nil
}
