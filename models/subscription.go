package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPaused    = "paused"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

const (
	PlanTypeWeekly  = "weekly"
	PlanTypeMonthly = "monthly"
)

const (
	MealTypeLunch  = "lunch"
	MealTypeSnacks = "snacks"
	MealTypeBoth   = "both"
)

// Subscription covers one child for one billing period. Price is snapshotted
// at creation and never recomputed.
//
// ActiveChildID mirrors ChildID while the subscription still claims the child
// (active or paused) and is NULL once cancelled or expired. The unique index
// on it makes "at most one live subscription per child" a database guarantee
// rather than a read-then-write check.
type Subscription struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ParentID      uint           `gorm:"not null;index" json:"parent_id"`
	ChildID       uint           `gorm:"not null;index" json:"child_id"`
	Child         *Child         `gorm:"foreignKey:ChildID" json:"child,omitempty"`
	ActiveChildID *uint          `gorm:"uniqueIndex" json:"-"`
	PlanType      string         `gorm:"type:varchar(20);not null" json:"plan_type"`
	MealType      string         `gorm:"type:varchar(20);not null" json:"meal_type"`
	Status        string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	StartDate     time.Time      `gorm:"not null;index" json:"start_date"`
	EndDate       time.Time      `gorm:"not null;index" json:"end_date"`
	PausedAt      *time.Time     `json:"paused_at,omitempty"`
	CancelledAt   *time.Time     `json:"cancelled_at,omitempty"`
	Price         float64        `gorm:"type:decimal(10,2);not null" json:"price"`
	DeliveryDays  datatypes.JSON `json:"delivery_days"`
	StatusHistory datatypes.JSON `json:"status_history"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

// DefaultDeliveryDays is Monday through Friday (time.Weekday numbering).
func DefaultDeliveryDays() datatypes.JSON {
	raw, _ := json.Marshal([]int{1, 2, 3, 4, 5})
	return datatypes.JSON(raw)
}

// DeliversOn reports whether the subscription's delivery-day set contains the
// given weekday. An empty set means every day.
func (s *Subscription) DeliversOn(day time.Weekday) bool {
	var days []int
	if len(s.DeliveryDays) > 0 {
		_ = json.Unmarshal(s.DeliveryDays, &days)
	}
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == int(day) {
			return true
		}
	}
	return false
}

// CoversDate reports whether date falls inside [StartDate, EndDate] by
// calendar day.
func (s *Subscription) CoversDate(date time.Time) bool {
	day := Midnight(date)
	start := Midnight(s.StartDate)
	end := Midnight(s.EndDate)
	return !day.Before(start) && !day.After(end)
}

// RequiredMeals expands the subscription's meal type into concrete delivery
// meals (both -> lunch and snacks).
func (s *Subscription) RequiredMeals() []string {
	switch s.MealType {
	case MealTypeBoth:
		return []string{MealTypeLunch, MealTypeSnacks}
	case MealTypeLunch, MealTypeSnacks:
		return []string{s.MealType}
	}
	return nil
}

// Midnight normalizes a timestamp to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
