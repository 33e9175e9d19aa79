package main

import (
	"log/slog"

	"voicegate/internal/auth"
	"voicegate/internal/calls"
	"voicegate/internal/httpapi"
	"voicegate/internal/lifecycle"
	"voicegate/internal/rbac"
	"voicegate/internal/reporting"
	"voicegate/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth      *auth.Manager
	Provider  telephony.Provider
	Lifecycle *lifecycle.Manager
	Store     *calls.PostgresStore
	Logger    *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; protected by signature verification inside
	// the provider adapter).
	wh := httpapi.WebhookHandler{
		Provider:  deps.Provider,
		Lifecycle: deps.Lifecycle,
		Logger:    deps.Logger,
	}
	r.POST("/webhooks/twilio/voice", wh.HandleInboundVoice)
	r.POST("/webhooks/twilio/events", wh.HandleEvents)

	h := httpapi.Handlers{
		Auth:      deps.Auth,
		Lifecycle: deps.Lifecycle,
		Reports:   reporting.NewService(deps.Store),
	}

	// token issuance is public; everything else under /v1 requires an access token
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	v1.Use(rbac.RequireAccount())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			aid, _ := auth.AccountID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "account_id": aid, "role": role})
		})

		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator))
		{
			callsGroup.POST("", h.InitiateCall)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.GET("/by-provider/:provider_call_id", h.GetCallByProviderID)
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleViewer))
		{
			reports.GET("/calls", h.CallsSummary)
		}
	}
}
