package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Coupon status values. Terminal states are everything except active.
const (
	CouponStatusActive  = "active"
	CouponStatusUsed    = "used"
	CouponStatusExpired = "expired"
	CouponStatusRevoked = "revoked"
)

type Coupon struct {
	ID                uint64              `json:"id" gorm:"primaryKey"`
	PromotionID       uint64              `json:"promotion_id" gorm:"index:idx_coupons_promotion_status"`
	Code              string              `json:"code" gorm:"uniqueIndex;size:64"`
	Status            string              `json:"status" gorm:"default:'active';index:idx_coupons_status_expires;index:idx_coupons_promotion_status,priority:2"`
	UserID            *uint64             `json:"user_id" gorm:"index"`
	IssuedAt          time.Time           `json:"issued_at"`
	ExpiresAt         time.Time           `json:"expires_at" gorm:"index:idx_coupons_status_expires,priority:2"`
	UsedAt            *time.Time          `json:"used_at"`
	UsageRestrictions datatypes.JSON      `json:"usage_restrictions"`
	DiscountAmount    decimal.NullDecimal `json:"discount_amount" gorm:"type:decimal(10,2)"`
	Metadata          datatypes.JSON      `json:"metadata"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`

	Promotion *Promotion `json:"promotion,omitempty" gorm:"foreignKey:PromotionID"`
	User      *User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// IsExpired reports whether the coupon is past its validity window or already
// in the expired state.
func (c *Coupon) IsExpired() bool {
	return c.Status == CouponStatusExpired || !c.ExpiresAt.After(time.Now())
}

// IsUsable reports whether the coupon can still be applied right now.
func (c *Coupon) IsUsable() bool {
	return c.Status == CouponStatusActive && c.ExpiresAt.After(time.Now())
}
