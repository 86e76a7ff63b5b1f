package catalog

import (
	"fmt"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/metrics"
)

// NewRepository builds the Repository selected by cfg.Catalog.Backend,
// wrapping it in a CachedRepository when CacheTTL > 0.
func NewRepository(cfg config.CatalogConfig, m *metrics.Metrics) (Repository, error) {
	var repo Repository

	switch cfg.Backend {
	case "", "memory":
		repo = NewMemoryRepository()
	case "postgres":
		pg, err := NewPostgresRepository(cfg)
		if err != nil {
			return nil, fmt.Errorf("create postgres catalog repository: %w", err)
		}
		repo = pg.WithMetrics(m)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Backend)
	}

	if cfg.CacheTTL.Duration > 0 {
		repo = NewCachedRepository(repo, cfg.CacheTTL.Duration)
	}

	return repo, nil
}
