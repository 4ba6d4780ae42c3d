package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UserLevel là cấp bậc thành viên (bronze, silver, gold, ...)
type UserLevel struct {
	ID                uint64          `json:"id" gorm:"primaryKey"`
	Name              string          `json:"name"`
	Code              string          `json:"code" gorm:"uniqueIndex;size:32"`
	MinPoints         int             `json:"min_points" gorm:"default:0"`
	MinPurchaseAmount decimal.Decimal `json:"min_purchase_amount" gorm:"type:decimal(12,2);default:0"`
	Benefits          datatypes.JSON  `json:"benefits"`
	SortOrder         int             `json:"sort_order" gorm:"default:0"`
	IsActive          bool            `json:"is_active" gorm:"default:true"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
