package indexer

import (
	"fmt"
)

// Keys builds every redis key the index uses, under one configured prefix.
// Key shapes:
//
//	coupon:{id}                                projection hash
//	promotion:{id}                             projection hash
//	user:{id}                                  projection hash
//	user_coupons:{user_id}:{status}            set of coupon ids
//	promotion_coupons:{promotion_id}:{status}  set of coupon ids
//	expiring_coupons                           zset scored by expires_at
//	active_promotions                          zset scored by priority
//	promotions_by_type:{type}                  set of promotion ids
//	users_by_level:{level_id}                  set of user ids
//	users_by_point_range:{range}               set of user ids
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

func (k Keys) Coupon(id uint64) string {
	return fmt.Sprintf("%scoupon:%d", k.prefix, id)
}

func (k Keys) Promotion(id uint64) string {
	return fmt.Sprintf("%spromotion:%d", k.prefix, id)
}

func (k Keys) User(id uint64) string {
	return fmt.Sprintf("%suser:%d", k.prefix, id)
}

func (k Keys) UserCoupons(userID uint64, status string) string {
	return fmt.Sprintf("%suser_coupons:%d:%s", k.prefix, userID, status)
}

func (k Keys) PromotionCoupons(promotionID uint64, status string) string {
	return fmt.Sprintf("%spromotion_coupons:%d:%s", k.prefix, promotionID, status)
}

func (k Keys) ExpiringCoupons() string {
	return k.prefix + "expiring_coupons"
}

func (k Keys) ActivePromotions() string {
	return k.prefix + "active_promotions"
}

func (k Keys) PromotionsByType(promotionType string) string {
	return k.prefix + "promotions_by_type:" + promotionType
}

func (k Keys) UsersByLevel(levelID uint64) string {
	return fmt.Sprintf("%susers_by_level:%d", k.prefix, levelID)
}

func (k Keys) UsersByPointRange(pointRange string) string {
	return k.prefix + "users_by_point_range:" + pointRange
}
