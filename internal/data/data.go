// Package data provides data access layer implementations.
// It handles outbound transport to the configured inference backends.
package data

import (
	"Parley/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewClientPool,
)

// Data contains all data layer dependencies.
type Data struct {
	pool *ClientPool
}

// NewData creates a new Data instance with all data layer dependencies.
func NewData(providers []*conf.Provider, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	pool, err := newClientPool(providers, logger)
	if err != nil {
		return nil, nil, err
	}

	d := &Data{pool: pool}

	cleanup := func() {
		helper.Info("closing the data resources")
		pool.Close()
	}

	return d, cleanup, nil
}

// NewClientPool exposes the provider adapter pool for injection.
func NewClientPool(d *Data) *ClientPool {
	return d.pool
}
