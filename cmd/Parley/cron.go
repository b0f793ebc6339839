package main

import (
	"Parley/internal/biz"
	pkglog "Parley/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// HealthSweeper 定期巡检所有 Provider 的健康状态
// 执行频率：每分钟执行一次
// 巡检内容：熔断器状态、错误率、降级 Provider 告警
type HealthSweeper struct {
	cron *cron.Cron
}

// NewHealthSweeper 创建并启动健康巡检定时任务
func NewHealthSweeper(handler *biz.ErrorHandler, logger log.Logger) (*HealthSweeper, error) {
	helper := pkglog.NewLogHelper(logger)

	c := cron.New(cron.WithSeconds())

	// 每分钟执行一次（整分执行）
	// Cron 表达式：0 * * * * * （秒 分 时 日 月 周）
	_, err := c.AddFunc("0 * * * * *", func() {
		snapshots := handler.AllProviderHealth()
		if len(snapshots) == 0 {
			return
		}

		healthy := 0
		for _, snap := range snapshots {
			switch snap.Health.Status {
			case "healthy":
				healthy++
			case "degraded", "unhealthy":
				helper.Scheduler("provider degraded during health sweep",
					"provider_id", snap.ProviderID,
					"status", string(snap.Health.Status),
					"error_rate", snap.Health.ErrorRate,
					"breaker_state", snap.Breaker.State,
				)
			}

			if snap.Breaker.State != biz.BreakerClosed.String() {
				helper.Breaker("breaker not closed during health sweep",
					"provider_id", snap.ProviderID,
					"breaker_state", snap.Breaker.State,
					"consecutive_failures", snap.Breaker.ConsecutiveFailures,
				)
			}
		}

		helper.Scheduler("health sweep completed",
			"providers", len(snapshots),
			"healthy", healthy,
		)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	helper.Startup("health sweep cron job started: runs every minute")

	return &HealthSweeper{cron: c}, nil
}

// Stop 停止巡检任务，等待执行中的任务完成
func (s *HealthSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
