package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const (
	PaymentMethodCard       = "card"
	PaymentMethodUPI        = "upi"
	PaymentMethodNetbanking = "netbanking"
	PaymentMethodWallet     = "wallet"
)

// PriceBreakdown is the snapshot of how a payment amount was composed.
type PriceBreakdown struct {
	PlanType   string  `json:"plan_type"`
	MealType   string  `json:"meal_type"`
	Duration   string  `json:"duration"`
	BasePrice  float64 `json:"base_price"`
	Tax        float64 `json:"tax"`
	Discount   float64 `json:"discount"`
	TotalPrice float64 `json:"total_price"`
}

// PaymentAttempt is one entry in the append-only attempts log.
type PaymentAttempt struct {
	AttemptedAt     time.Time `json:"attempted_at"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	GatewayResponse string    `json:"gateway_response,omitempty"`
}

// Payment ties 1:1 to a subscription. OpenSubscriptionID mirrors
// SubscriptionID while the payment is pending or completed and is NULL once
// failed, so the unique index rejects a second live payment atomically.
type Payment struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	ParentID           uint           `gorm:"not null;index" json:"parent_id"`
	SubscriptionID     uint           `gorm:"not null;index" json:"subscription_id"`
	Subscription       *Subscription  `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	OpenSubscriptionID *uint          `gorm:"uniqueIndex" json:"-"`
	ChildID            uint           `gorm:"not null" json:"child_id"`
	Child              *Child         `gorm:"foreignKey:ChildID" json:"child,omitempty"`
	Amount             float64        `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string         `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Status             string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod      string         `gorm:"type:varchar(20);not null" json:"payment_method"`
	TransactionID      string         `gorm:"type:varchar(64);index" json:"transaction_id"`
	PaymentGateway     string         `gorm:"type:varchar(50)" json:"payment_gateway"`
	PaymentDate        *time.Time     `json:"payment_date,omitempty"`
	Breakdown          datatypes.JSON `json:"breakdown"`
	Notes              string         `gorm:"type:varchar(500)" json:"notes"`
	Attempts           datatypes.JSON `json:"attempts"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
}

// AppendAttempt returns the attempts column with one more entry.
func AppendAttempt(attempts datatypes.JSON, attempt PaymentAttempt) datatypes.JSON {
	var entries []PaymentAttempt
	if len(attempts) > 0 {
		_ = json.Unmarshal(attempts, &entries)
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}
	entries = append(entries, attempt)
	raw, err := json.Marshal(entries)
	if err != nil {
		return attempts
	}
	return datatypes.JSON(raw)
}
