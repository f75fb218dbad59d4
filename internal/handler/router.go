package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/auth"
	"faceattend/internal/httpmiddleware"
)

// RouterOptions configure the middleware stack.
type RouterOptions struct {
	RateLimitPerMin int
	AllowOrigins    []string
	LogOutput       io.Writer
}

// Router builds the gin engine with all routes.
func Router(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	logCfg := gin.LoggerConfig{SkipPaths: []string{"/healthz", "/metrics"}}
	if opts.LogOutput != nil {
		logCfg.Output = opts.LogOutput
	}
	r.Use(gin.LoggerWithConfig(logCfg))

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	if opts.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin).Middleware(nil))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/kiosks/token", h.KioskToken)
		v1.POST("/admin/token", h.AdminToken)
		v1.POST("/tokens/refresh", h.Refresh)
	}

	kiosk := v1.Group("", auth.RequireRole(h.Issuer, auth.RoleKiosk, auth.RoleAdmin))
	{
		kiosk.POST("/attendance", h.MarkAttendance)
		kiosk.POST("/attendance/async", h.MarkAttendanceAsync)
		kiosk.GET("/attempts/:id", h.GetAttempt)
	}

	admin := v1.Group("", auth.RequireRole(h.Issuer, auth.RoleAdmin))
	{
		admin.GET("/attendance/today", h.Today)
		admin.GET("/attendance/count", h.Count)
		admin.GET("/attendance/:year/:month", h.Monthly)
		admin.GET("/employees", h.Employees)
		admin.POST("/employees", h.Enroll)
		admin.DELETE("/employees/:id", h.Unenroll)
		admin.POST("/staging/clear", h.ClearStaging)
	}
	return r
}
