package handler

import (
	"github.com/taesoo1298/coupon-indexer/internal/fanout"
	"github.com/taesoo1298/coupon-indexer/internal/monitor"
	"github.com/taesoo1298/coupon-indexer/internal/repo/ledger"
	"github.com/taesoo1298/coupon-indexer/internal/resync"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Admin exposes the operational controls. All routes sit behind the API-key
// middleware.
type Admin struct {
	events   *ledger.Repo
	resyncer *resync.Resyncer
	cleaner  *resync.Cleaner
	monitor  *monitor.Monitor
	health   *monitor.Health
	pubsub   *fanout.PubSub
}

func NewAdmin(events *ledger.Repo, resyncer *resync.Resyncer, cleaner *resync.Cleaner, mon *monitor.Monitor, health *monitor.Health, pubsub *fanout.PubSub) *Admin {
	return &Admin{events: events, resyncer: resyncer, cleaner: cleaner, monitor: mon, health: health, pubsub: pubsub}
}

type resyncRequest struct {
	Kinds     []string `json:"kinds"`
	IDs       []uint64 `json:"ids"`
	FromID    uint64   `json:"from_id"`
	ChunkSize int      `json:"chunk_size"`
}

func (h *Admin) Resync(c *fiber.Ctx) error {
	var req resyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "invalid request body"})
		}
	}

	opts := resync.Options{IDs: req.IDs, FromID: req.FromID, ChunkSize: req.ChunkSize}
	for _, k := range req.Kinds {
		switch kind := resync.Kind(k); kind {
		case resync.KindCoupons, resync.KindPromotions, resync.KindUsers:
			opts.Kinds = append(opts.Kinds, kind)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "unknown kind: " + k})
		}
	}
	if len(opts.IDs) > 0 && len(opts.Kinds) != 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "ids require exactly one kind"})
	}

	logrus.WithField("kinds", req.Kinds).Info("Admin resync requested")
	report, err := h.resyncer.Resync(c.Context(), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": report})
}

func (h *Admin) RetryEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "limit must be between 1 and 1000"})
	}

	requeued, err := h.monitor.RetryFailedEvents(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "requeued": requeued})
}

func (h *Admin) Consistency(c *fiber.Ctx) error {
	report, err := h.monitor.CheckConsistency(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}

	var actions []string
	if c.QueryBool("fix", false) && report.Total > 0 {
		actions, err = h.monitor.AttemptAutoFix(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": true, "data": report, "actions": actions})
}

func (h *Admin) Integrity(c *fiber.Ctx) error {
	report, err := h.monitor.CheckIntegrity(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": report})
}

func (h *Admin) Cleanup(c *fiber.Ctx) error {
	report, err := h.cleaner.Run(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error(), "partial": report})
	}
	return c.JSON(fiber.Map{"status": true, "data": report})
}

func (h *Admin) Health(c *fiber.Ctx) error {
	report := h.health.Check(c.Context())
	code := fiber.StatusOK
	if report.Status == monitor.StatusCritical {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": report.Status != monitor.StatusCritical, "data": report})
}

func (h *Admin) Metrics(c *fiber.Ctx) error {
	snapshot, err := h.health.Metrics(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": snapshot})
}

func (h *Admin) EventStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days <= 0 || days > 90 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "days must be between 1 and 90"})
	}

	stats, err := h.events.Stats(c.Context(), days)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": stats})
}

func (h *Admin) FanoutChannel(c *fiber.Ctx) error {
	info, err := h.pubsub.ChannelInfo(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": info})
}
