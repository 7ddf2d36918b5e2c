package di

import (
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/prohmpiriya/facility-rental/internal/worker"
	"github.com/prohmpiriya/facility-rental/pkg/middleware"
)

// RouteConfig holds the middleware applied to the API groups
type RouteConfig struct {
	// Auth authenticates the caller and sets user_id and role
	Auth gin.HandlerFunc
	// Idempotency guards write operations; nil disables it
	Idempotency gin.HandlerFunc
}

// RegisterRoutes mounts the reservation API on v1
func (c *Container) RegisterRoutes(v1 *gin.RouterGroup, cfg *RouteConfig) {
	write := []gin.HandlerFunc{}
	if cfg.Idempotency != nil {
		write = append(write, cfg.Idempotency)
	}
	withWrite := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, write...), h)
	}

	// Public calendar
	availability := v1.Group("/availability")
	{
		availability.GET("/booked", c.AvailabilityHandler.BookedIntervals)
		availability.GET("/dates", c.AvailabilityHandler.OpenDates)
		availability.GET("/check", c.AvailabilityHandler.CheckSlot)
	}
	v1.GET("/resources", c.AvailabilityHandler.ListResources)
	v1.GET("/resources/:id", c.AvailabilityHandler.GetResource)

	authed := v1.Group("")
	authed.Use(cfg.Auth)

	reservations := authed.Group("/reservations")
	{
		reservations.POST("", withWrite(c.ReservationHandler.CreateReservation)...)
		reservations.GET("", c.ReservationHandler.ListReservations)
		reservations.GET("/:id", c.ReservationHandler.GetReservation)
		reservations.POST("/:id/cancel", withWrite(c.ReservationHandler.CancelReservation)...)
	}

	payments := authed.Group("/payments")
	{
		payments.POST("/checkout", withWrite(c.PaymentHandler.Checkout)...)
		payments.POST("/complete", withWrite(c.PaymentHandler.CompletePayment)...)
		payments.POST("/fail", withWrite(c.PaymentHandler.FailPayment)...)
	}

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/dashboard", c.AdminHandler.Dashboard)
		admin.GET("/reservations", c.AdminHandler.ListReservations)
		admin.POST("/reservations/:id/status", withWrite(c.AdminHandler.UpdateReservationStatus)...)
		admin.GET("/schedule", c.AdminHandler.Schedule)
		admin.GET("/rules", c.AdminHandler.ListRules)
		admin.POST("/rules", withWrite(c.AdminHandler.CreateRule)...)
		admin.DELETE("/rules/:id", c.AdminHandler.DeleteRule)
		admin.GET("/holidays", c.AdminHandler.ListHolidays)
		admin.PUT("/holidays", c.AdminHandler.UpsertHoliday)
		admin.DELETE("/holidays/:date", c.AdminHandler.DeleteHoliday)
	}
}

// NewTaskMux routes background tasks to the container's handlers
func NewTaskMux(c *Container) *asynq.ServeMux {
	return worker.NewServeMux(c.HoldExpiryHandler)
}
