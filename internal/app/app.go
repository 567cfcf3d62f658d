// Package app holds the HTTP handlers and the route table
package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"booking-service/internal/apperr"
	"booking-service/internal/audit"
	"booking-service/internal/booking"
	"booking-service/internal/ratelimit"
	"booking-service/internal/scheduling"
)

// App carries the services the handlers call
type App struct {
	Availability      *scheduling.Service
	Bookings          *booking.Orchestrator
	Audit             *audit.Log
	SchedulingEnabled bool
	Now               func() time.Time
}

// RouterOptions are the cross-cutting middlewares
type RouterOptions struct {
	Throttle       *ratelimit.IPThrottle
	BookingLimiter *ratelimit.Limiter
	StaticTokens   []string
	JWTSecret      string
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// NewRouter builds the gin engine
func NewRouter(a *App, opt RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog())
	if opt.Throttle != nil {
		router.Use(opt.Throttle.Middleware())
	}

	router.GET("/healthz", a.HealthzHandler)

	api := router.Group("/api")
	{
		api.GET("/availability", a.AvailabilityHandler)

		bookings := api.Group("/bookings")
		{
			bookings.POST("/confirm", a.ConfirmHandler)
			bookings.POST("/lookup", a.LookupHandler)
			create := []gin.HandlerFunc{}
			if opt.BookingLimiter != nil {
				create = append(create, opt.BookingLimiter.Middleware())
			}
			create = append(create, a.CreateBookingHandler)
			bookings.POST("", create...)
		}

		admin := api.Group("/admin", AuthMiddleware(opt.StaticTokens, opt.JWTSecret))
		{
			admin.GET("/bookings", a.ListBookingsHandler)
			admin.GET("/bookings/:id", a.GetBookingHandler)
			admin.DELETE("/bookings/:id", a.CancelBookingHandler)
			admin.GET("/busy", a.BusyHandler)
			admin.GET("/health", a.AdminHealthHandler)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, apperr.New(apperr.KindNotFound, "route not found"))
	})
	return router
}
