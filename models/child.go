package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	FoodPreferenceVeg     = "veg"
	FoodPreferenceNonVeg  = "non-veg"
	FoodPreferenceVegOnly = "veg-only"
)

// Child is a meal recipient owned by a parent account. The QR token is
// generated once at creation and never changes afterwards.
type Child struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ParentID         uint           `gorm:"not null;index" json:"parent_id"`
	Parent           *User          `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Name             string         `gorm:"type:varchar(255);not null" json:"name"`
	Age              int            `gorm:"not null" json:"age"`
	Grade            string         `gorm:"type:varchar(50);not null" json:"grade"`
	Allergies        datatypes.JSON `json:"allergies"`
	FoodPreference   string         `gorm:"type:varchar(20);not null;default:'veg'" json:"food_preference"`
	DeliveryLocation string         `gorm:"type:varchar(255);not null" json:"delivery_location"`
	QRCodeData       string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"qr_code_data"`
	IsActive         bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}
