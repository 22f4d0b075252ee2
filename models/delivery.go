package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusMissed    = "missed"
)

// Delivery is one required meal drop for one child on one date. Rows are
// created only by the scheduler; the composite unique index keeps repeated
// materialization from ever inserting duplicates.
type Delivery struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ChildID        uint           `gorm:"not null;uniqueIndex:idx_child_date_meal" json:"child_id"`
	Child          *Child         `gorm:"foreignKey:ChildID" json:"child,omitempty"`
	SubscriptionID uint           `gorm:"not null;index" json:"subscription_id"`
	Subscription   *Subscription  `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	DeliveryDate   time.Time      `gorm:"not null;uniqueIndex:idx_child_date_meal;index" json:"delivery_date"`
	MealType       string         `gorm:"type:varchar(20);not null;uniqueIndex:idx_child_date_meal" json:"meal_type"`
	Status         string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	DeliveredBy    *uint          `json:"delivered_by,omitempty"`
	QRScanned      bool           `gorm:"not null;default:false" json:"qr_scanned"`
	Comment        string         `gorm:"type:varchar(500)" json:"comment"`
	StatusHistory  datatypes.JSON `json:"status_history"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}
