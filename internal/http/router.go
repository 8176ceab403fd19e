// README: HTTP router registration for the dev order store.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridesync/internal/http/handlers"
	"ridesync/internal/http/middleware"
	"ridesync/internal/logging"
	"ridesync/internal/modules/orderstore"
)

type RouterDeps struct {
	Store  *orderstore.Service
	Logger *zap.Logger
}

// NewRouter mounts the order REST contract under /api. Reads are public,
// writes need a bearer token.
func NewRouter(deps RouterDeps) *gin.Engine {
	log := logging.OrNop(deps.Logger).Named("http")

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	users := handlers.NewUserHandler(deps.Store)
	orders := handlers.NewOrderHandler(deps.Store)
	drivers := handlers.NewDriverHandler(deps.Store)

	api := r.Group("/api")
	api.POST("/users/register", users.Register)
	api.POST("/users/login", users.Login)

	api.GET("/user/:id", orders.ListByRider)
	api.GET("/driver/:id", drivers.ListBoard)
	api.GET("/driver-history/:id", drivers.History)

	authed := api.Group("", middleware.Auth(deps.Store))
	authed.POST("/orders", orders.Create)
	authed.PUT("/edit-orders/:id", orders.UpdateStatus)
	authed.PUT("/orders-arrival/:id", drivers.Arrive)

	return r
}
