package handler

import (
	"strconv"

	"github.com/taesoo1298/coupon-indexer/internal/model"
	"github.com/taesoo1298/coupon-indexer/internal/repo/ledger"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// Events is the write-side ingest for upstream systems that mutate coupons,
// promotions or users and need the index to follow.
type Events struct {
	logger *ledger.Logger
	events *ledger.Repo
}

func NewEvents(logger *ledger.Logger, events *ledger.Repo) *Events {
	return &Events{logger: logger, events: events}
}

type logEventRequest struct {
	EventType     string         `json:"event_type"`
	EntityID      uint64         `json:"entity_id"`
	UserID        *uint64        `json:"user_id"`
	EventData     datatypes.JSON `json:"event_data"`
	PreviousState datatypes.JSON `json:"previous_state"`
	CurrentState  datatypes.JSON `json:"current_state"`
}

func (h *Events) LogEvent(c *fiber.Ctx) error {
	var req logEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "invalid request body"})
	}

	if !model.EventType(req.EventType).Known() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "unknown event_type: " + req.EventType})
	}
	if req.EntityID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "entity_id is required"})
	}

	event, err := h.logger.LogEvent(c.Context(), ledger.AppendInput{
		EventType:     model.EventType(req.EventType),
		EntityID:      req.EntityID,
		UserID:        req.UserID,
		Payload:       req.EventData,
		PreviousState: req.PreviousState,
		CurrentState:  req.CurrentState,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": "failed to record event"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": true, "data": event})
}

// EntityHistory lists the recorded events for one entity, newest first.
func (h *Events) EntityHistory(c *fiber.Ctx) error {
	entityType := c.Params("type")
	switch entityType {
	case model.EntityCoupon, model.EntityPromotion, model.EntityUser:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "unknown entity type: " + entityType})
	}

	entityID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "invalid entity id"})
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "error": "limit must be between 1 and 500"})
	}

	events, err := h.events.EventsForEntity(c.Context(), entityType, entityID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": true, "data": events, "count": len(events)})
}
