package router

import (
	"github.com/taesoo1298/coupon-indexer/app"
	"github.com/taesoo1298/coupon-indexer/internal/handler"
	"github.com/taesoo1298/coupon-indexer/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

func Setup(query *handler.Query, events *handler.Events, admin *handler.Admin) {
	web := fiber.New(fiber.Config{})
	web.Use(cors.New())
	web.Use(recover.New())
	setupRouter(web, query, events, admin)

	port := app.Config("WEB_PORT")
	if len(port) == 0 {
		port = "3636"
	}
	logrus.WithField("port", port).Info("Starting http server")
	if err := web.Listen(":" + port); err != nil {
		logrus.WithError(err).Fatal("http server stopped")
	}
}

func setupRouter(fiberApp *fiber.App, query *handler.Query, events *handler.Events, admin *handler.Admin) {
	api := fiberApp.Group("/api", logger.New())

	api.Get("/test.json", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": true, "message": "Pong"})
	})

	// Event ingest
	api.Post("/events", events.LogEvent)
	api.Get("/events/:type/:id", events.EntityHistory)

	// Index reads
	api.Get("/coupons/user/:id/active", query.UserActiveCoupons)
	api.Get("/coupons/expiring", query.ExpiringCoupons)
	api.Get("/promotions/:id/eligible-users", query.EligibleUsers)

	// Operational controls
	adm := api.Group("/admin", middleware.APIKeyAuth())
	adm.Post("/resync", admin.Resync)
	adm.Post("/events/retry", admin.RetryEvents)
	adm.Get("/events/stats", admin.EventStats)
	adm.Get("/consistency", admin.Consistency)
	adm.Get("/integrity", admin.Integrity)
	adm.Post("/cleanup", admin.Cleanup)
	adm.Get("/health", admin.Health)
	adm.Get("/metrics", admin.Metrics)
	adm.Get("/fanout/channel", admin.FanoutChannel)
}
