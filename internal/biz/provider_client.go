package biz

import (
	"context"

	"Parley/internal/model"
)

// ProviderClient is the narrow interface a backend adapter implements.
// The core never constructs the underlying inference call itself; it only
// consumes this interface. Implementations live in the data layer.
type ProviderClient interface {
	Consult(ctx context.Context, query string) (*model.RawResult, error)
}

// ClientPool resolves a provider id to its adapter.
type ClientPool interface {
	Client(providerID string) (ProviderClient, error)
}
