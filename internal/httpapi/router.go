package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"rewardplane/pkg/config"
	"rewardplane/pkg/health"
	"rewardplane/pkg/middleware"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

func NewRouter(cfg *config.Config, h *Handler, healthSvc health.HealthService) http.Handler {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", healthSvc.Liveness)
	r.GET("/readyz", healthSvc.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/events", h.SubmitEvent)

		v1.GET("/users/:user_id/balance", h.GetBalance)
		v1.GET("/users/:user_id/ledger", h.ListLedger)
		v1.GET("/users/:user_id/settlement", h.GetSettlement)
		v1.GET("/users/:user_id/stakes", h.ListStakes)

		v1.POST("/stakes", h.CreateStake)
		v1.POST("/stakes/:stake_id/unstake", h.RequestUnstake)
		v1.POST("/stakes/:stake_id/complete", h.CompleteUnstake)
		v1.POST("/stakes/:stake_id/revoke", h.RevokeStake)

		v1.POST("/actions/check", h.CheckAction)
	}

	return r
}
