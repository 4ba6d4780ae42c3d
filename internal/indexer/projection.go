package indexer

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/shopspring/decimal"
)

// CouponProjection is the denormalized coupon read back from the index.
type CouponProjection struct {
	ID                uint64          `json:"id"`
	Code              string          `json:"code"`
	Status            string          `json:"status"`
	UserID            *uint64         `json:"user_id"`
	PromotionID       uint64          `json:"promotion_id"`
	ExpiresAt         time.Time       `json:"expires_at"`
	IssuedAt          time.Time       `json:"issued_at"`
	UsedAt            *time.Time      `json:"used_at"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	UsageRestrictions json.RawMessage `json:"usage_restrictions"`
	Metadata          json.RawMessage `json:"metadata"`
	IndexedAt         time.Time       `json:"indexed_at"`
}

// Valid reports whether the projected coupon is usable right now.
func (p *CouponProjection) Valid() bool {
	return p.Status == model.CouponStatusActive && p.ExpiresAt.After(time.Now())
}

func couponFields(c *model.Coupon, indexedAt time.Time) map[string]interface{} {
	fields := map[string]interface{}{
		"id":                 c.ID,
		"code":               c.Code,
		"status":             c.Status,
		"user_id":            encodeOptionalID(c.UserID),
		"promotion_id":       c.PromotionID,
		"expires_at":         c.ExpiresAt.Unix(),
		"issued_at":          c.IssuedAt.Unix(),
		"used_at":            encodeOptionalTime(c.UsedAt),
		"discount_amount":    encodeDecimal(c.DiscountAmount),
		"usage_restrictions": encodeJSON(c.UsageRestrictions),
		"metadata":           encodeJSON(c.Metadata),
		"indexed_at":         indexedAt.Unix(),
	}
	return fields
}

// ParseCouponProjection decodes a coupon hash. An empty map yields (nil, nil):
// the caller treats absence as "needs resync".
func ParseCouponProjection(fields map[string]string) (*CouponProjection, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	p := &CouponProjection{
		Code:              fields["code"],
		Status:            fields["status"],
		UsageRestrictions: json.RawMessage(orEmptyJSON(fields["usage_restrictions"])),
		Metadata:          json.RawMessage(orEmptyJSON(fields["metadata"])),
	}
	p.ID, _ = strconv.ParseUint(fields["id"], 10, 64)
	p.PromotionID, _ = strconv.ParseUint(fields["promotion_id"], 10, 64)
	if v := fields["user_id"]; v != "" && v != "0" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err == nil {
			p.UserID = &id
		}
	}
	p.ExpiresAt = parseUnix(fields["expires_at"])
	p.IssuedAt = parseUnix(fields["issued_at"])
	if v := fields["used_at"]; v != "" && v != "0" {
		t := parseUnix(v)
		p.UsedAt = &t
	}
	if v := fields["discount_amount"]; v != "" {
		d, err := decimal.NewFromString(v)
		if err == nil {
			p.DiscountAmount = d
		}
	}
	p.IndexedAt = parseUnix(fields["indexed_at"])
	return p, nil
}

func promotionFields(p *model.Promotion, indexedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                  p.ID,
		"name":                p.Name,
		"type":                p.Type,
		"value":               encodeDecimal(p.Value),
		"conditions":          encodeJSON(p.Conditions),
		"targeting_rules":     encodeJSON(p.TargetingRules),
		"start_date":          p.StartDate.Unix(),
		"end_date":            p.EndDate.Unix(),
		"is_active":           boolToInt(p.IsActive),
		"has_available_usage": boolToInt(p.HasAvailableUsage()),
		"max_usage_count":     encodeOptionalInt(p.MaxUsageCount),
		"max_usage_per_user":  encodeOptionalInt(p.MaxUsagePerUser),
		"current_usage_count": p.CurrentUsageCount,
		"priority":            p.Priority,
		"indexed_at":          indexedAt.Unix(),
	}
}

func userFields(u *model.User, indexedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                    u.ID,
		"email":                 u.Email,
		"user_level_id":         encodeOptionalID(u.UserLevelID),
		"points":                u.Points,
		"total_purchase_amount": u.TotalPurchaseAmount.String(),
		"preferences":           encodeJSON(u.Preferences),
		"indexed_at":            indexedAt.Unix(),
	}
}

// PointRange buckets a points balance for the coarse targeting sets.
func PointRange(points int) string {
	switch {
	case points < 1000:
		return "low"
	case points < 5000:
		return "medium"
	case points < 10000:
		return "high"
	default:
		return "premium"
	}
}

func encodeOptionalID(id *uint64) uint64 {
	if id == nil {
		return 0
	}
	return *id
}

func encodeOptionalInt(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}

func encodeOptionalTime(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func encodeDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func encodeJSON(raw []byte) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
