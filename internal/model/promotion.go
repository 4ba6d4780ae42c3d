package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Promotion discount types.
const (
	PromotionTypePercentage   = "percentage"
	PromotionTypeFixedAmount  = "fixed_amount"
	PromotionTypeFreeShipping = "free_shipping"
	PromotionTypeBuyXGetY     = "buy_x_get_y"
)

type Promotion struct {
	ID                uint64              `json:"id" gorm:"primaryKey"`
	Name              string              `json:"name"`
	Description       string              `json:"description,omitempty" gorm:"type:text"`
	Type              string              `json:"type" gorm:"index;size:32"`
	Value             decimal.NullDecimal `json:"value" gorm:"type:decimal(10,2)"`
	Conditions        datatypes.JSON      `json:"conditions"`
	TargetingRules    datatypes.JSON      `json:"targeting_rules"`
	StartDate         time.Time           `json:"start_date"`
	EndDate           time.Time           `json:"end_date"`
	IsActive          bool                `json:"is_active" gorm:"default:true"`
	MaxUsageCount     *int                `json:"max_usage_count"`
	MaxUsagePerUser   *int                `json:"max_usage_per_user"`
	CurrentUsageCount int                 `json:"current_usage_count" gorm:"default:0"`
	Priority          int                 `json:"priority" gorm:"default:0;index"`
	Metadata          datatypes.JSON      `json:"metadata"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`

	Coupons []Coupon `json:"coupons,omitempty" gorm:"foreignKey:PromotionID"`
}

// IsCurrentlyActive reports whether the promotion is switched on and inside
// its date window.
func (p *Promotion) IsCurrentlyActive() bool {
	now := time.Now()
	return p.IsActive && !p.StartDate.After(now) && !p.EndDate.Before(now)
}

// HasAvailableUsage reports whether the global usage cap leaves room.
func (p *Promotion) HasAvailableUsage() bool {
	if p.MaxUsageCount == nil {
		return true
	}
	return p.CurrentUsageCount < *p.MaxUsageCount
}
