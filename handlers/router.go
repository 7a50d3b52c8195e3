package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"printshop/analytics/logging"
	"printshop/analytics/metrics"
	"printshop/analytics/middleware"
	"printshop/analytics/utils"
)

// RouterDeps is everything the HTTP boundary is wired with. Auth may be nil
// when no operator store is configured; the dashboard endpoints then accept
// only the service API key.
type RouterDeps struct {
	Analytics      *AnalyticsHandlers
	Auth           *AuthHandlers
	Tokens         *utils.TokenIssuer
	APIKey         string
	AllowedOrigins []string
	Logger         *zap.Logger
	Health         func() error
	// TrustedProxies lists the addresses or CIDRs allowed to set
	// X-Forwarded-For. Empty trusts no proxy and ClientIP is the peer address.
	TrustedProxies []string
}

func NewRouter(d RouterDeps) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), logging.RequestLogger(d.Logger), metrics.Middleware())
	r.Use(middleware.CORSMiddleware(d.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	authRequired := middleware.AuthRequired(d.Tokens, d.APIKey, d.Logger)

	api := r.Group("/api")
	{
		if d.Auth != nil {
			api.POST("/login", d.Auth.Login)
			api.POST("/logout", d.Auth.Logout)
			api.POST("/operators", authRequired, d.Auth.CreateOperator)
		}

		// Collection endpoints are public: the storefront calls them for
		// anonymous visitors, including through navigator.sendBeacon.
		track := api.Group("/analytics")
		{
			track.POST("/session", d.Analytics.StartSession)
			track.POST("/pageview", d.Analytics.RecordPageView)
			track.POST("/heartbeat", d.Analytics.Heartbeat)
			track.POST("/event", d.Analytics.TrackEvent)
		}

		dashboard := api.Group("/analytics")
		dashboard.Use(authRequired)
		{
			dashboard.GET("/stats", d.Analytics.GetStats)
			dashboard.GET("/session/:id", d.Analytics.GetSession)
		}
	}

	return r, nil
}
