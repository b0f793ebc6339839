package server

import (
	"context"

	"Parley/internal/conf"
	"Parley/internal/server/middleware"
	"Parley/internal/service"
	pkglog "Parley/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.ConsultService, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper), // 请求日志中间件：记录请求方法、路径、耗时
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, svc)

	return srv
}

// registerRoutes wires the consultation API onto the server.
func registerRoutes(srv *http.Server, svc *service.ConsultService) {
	r := srv.Route("/v1")

	r.POST("/consult", func(ctx http.Context) error {
		var in service.ConsultRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Consult/Consult")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.Consult(c, req.(*service.ConsultRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/multi-consult", func(ctx http.Context) error {
		var in service.MultiConsultRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Consult/MultiConsult")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.MultiConsult(c, req.(*service.MultiConsultRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/fallback-chain", func(ctx http.Context) error {
		var in service.FallbackChainRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Consult/ExecuteFallbackChain")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.ExecuteFallbackChain(c, req.(*service.FallbackChainRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/select", func(ctx http.Context) error {
		var in service.SelectProviderRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Consult/SelectProvider")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.SelectProvider(c, req.(*service.SelectProviderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/providers", func(ctx http.Context) error {
		var in service.RegisterProviderRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Consult/RegisterProvider")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.RegisterProvider(c, req.(*service.RegisterProviderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/providers", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Consult/ListProviders")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ListProviders(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.PATCH("/providers/{id}/enabled", func(ctx http.Context) error {
		var in service.SetEnabledRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		providerID := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/v1.Consult/SetProviderEnabled")
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.SetProviderEnabled(c, providerID, req.(*service.SetEnabledRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/providers/health", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Consult/AllProviderHealth")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.AllProviderHealth(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/providers/health/{id}", func(ctx http.Context) error {
		providerID := ctx.Vars().Get("id")
		http.SetOperation(ctx, "/v1.Consult/ProviderHealth")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ProviderHealth(c, providerID)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/providers/usage", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Consult/ProviderUsage")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ProviderUsage(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
