package services

import (
	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// TaxRate is the flat tax applied on every plan.
const TaxRate = 0.05

// PriceTable maps (plan type, meal type) to a base price in INR. It is an
// immutable value injected into the subscription service at construction;
// existing subscriptions keep the price snapshotted at creation no matter how
// the table changes later.
type PriceTable map[string]map[string]float64

// DefaultPriceTable returns the current published rates.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		models.PlanTypeWeekly: {
			models.MealTypeLunch:  500,
			models.MealTypeSnacks: 300,
			models.MealTypeBoth:   750,
		},
		models.PlanTypeMonthly: {
			models.MealTypeLunch:  2000,
			models.MealTypeSnacks: 1200,
			models.MealTypeBoth:   3000,
		},
	}
}

// PriceQuote is the full pricing result for a plan/meal combination.
type PriceQuote struct {
	PlanType   string  `json:"plan_type"`
	MealType   string  `json:"meal_type"`
	BasePrice  float64 `json:"base_price"`
	Tax        float64 `json:"tax"`
	Discount   float64 `json:"discount"`
	TotalPrice float64 `json:"total_price"`
	Duration   string  `json:"duration"`
}

// Quote computes the price for a plan/meal combination.
func (pt PriceTable) Quote(planType, mealType string) (*PriceQuote, error) {
	meals, ok := pt[planType]
	if !ok {
		return nil, utils.NewValidationError("Invalid plan type or meal type")
	}
	base, ok := meals[mealType]
	if !ok {
		return nil, utils.NewValidationError("Invalid plan type or meal type")
	}

	tax := base * TaxRate
	return &PriceQuote{
		PlanType:   planType,
		MealType:   mealType,
		BasePrice:  base,
		Tax:        tax,
		Discount:   0,
		TotalPrice: base + tax,
		Duration:   PlanDuration(planType),
	}, nil
}

// PlanDuration describes the billing period of a plan type.
func PlanDuration(planType string) string {
	if planType == models.PlanTypeWeekly {
		return "7 days"
	}
	return "30 days"
}

// PlanDays is the number of calendar days a plan covers.
func PlanDays(planType string) int {
	if planType == models.PlanTypeWeekly {
		return 7
	}
	return 30
}
