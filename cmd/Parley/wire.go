//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"Parley/internal/biz"
	"Parley/internal/conf"
	"Parley/internal/data"
	"Parley/internal/server"
	"Parley/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Consult, *conf.Breaker, []*conf.Provider, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newProviderRegistry,
		newBreakerConfig,
		newConsultDefaults,
		NewHealthSweeper,
		wire.Bind(new(biz.ClientPool), new(*data.ClientPool)),
		newApp,
	))
}
