package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type User struct {
	ID                  uint64          `json:"id" gorm:"primaryKey"`
	Name                string          `json:"name"`
	Email               string          `json:"email" gorm:"uniqueIndex;size:191"`
	UserLevelID         *uint64         `json:"user_level_id" gorm:"index"`
	Points              int             `json:"points" gorm:"default:0"`
	TotalPurchaseAmount decimal.Decimal `json:"total_purchase_amount" gorm:"type:decimal(12,2);default:0"`
	LevelUpdatedAt      *time.Time      `json:"level_updated_at"`
	Preferences         datatypes.JSON  `json:"preferences"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`

	UserLevel *UserLevel `json:"user_level,omitempty" gorm:"foreignKey:UserLevelID"`
	Coupons   []Coupon   `json:"coupons,omitempty" gorm:"foreignKey:UserID"`
}
