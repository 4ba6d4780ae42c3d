package handler

import (
	"strconv"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/indexer"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Query serves read traffic straight from the index; it never touches the
// source database.
type Query struct {
	queries *indexer.Queries
}

func NewQuery(queries *indexer.Queries) *Query {
	return &Query{queries: queries}
}

func (h *Query) UserActiveCoupons(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "invalid user id"})
	}

	coupons, err := h.queries.UserAvailableCoupons(c.Context(), userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to read user coupons")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": "index read failed"})
	}
	return c.JSON(fiber.Map{"status": true, "data": coupons, "count": len(coupons)})
}

func (h *Query) ExpiringCoupons(c *fiber.Ctx) error {
	hours := c.QueryInt("hours", 24)
	if hours <= 0 || hours > 24*30 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "hours must be between 1 and 720"})
	}

	coupons, err := h.queries.ExpiringCoupons(c.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		logrus.WithError(err).Error("Failed to read expiring coupons")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": "index read failed"})
	}
	return c.JSON(fiber.Map{"status": true, "data": coupons, "count": len(coupons)})
}

func (h *Query) EligibleUsers(c *fiber.Ctx) error {
	promotionID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "invalid promotion id"})
	}

	users, err := h.queries.EligibleUsersForPromotion(c.Context(), promotionID)
	if err != nil {
		logrus.WithError(err).WithField("promotion_id", promotionID).Error("Failed to read eligible users")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": "index read failed"})
	}
	return c.JSON(fiber.Map{"status": true, "data": users, "count": len(users)})
}
