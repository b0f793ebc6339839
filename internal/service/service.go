// Package service exposes the dispatch layer's operations over transport.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewConsultService)
