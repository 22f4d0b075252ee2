package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/middlewares"
	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

type SubscriptionController struct {
	DB            *gorm.DB
	Subscriptions *services.SubscriptionService
	Deliveries    *services.DeliveryService
	Payments      *services.PaymentService
}

func NewSubscriptionController(db *gorm.DB, subs *services.SubscriptionService, deliveries *services.DeliveryService, payments *services.PaymentService) *SubscriptionController {
	return &SubscriptionController{
		DB:            db,
		Subscriptions: subs,
		Deliveries:    deliveries,
		Payments:      payments,
	}
}

func (sc *SubscriptionController) GetSubscriptions(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)
	childID, _ := strconv.Atoi(c.Query("child_id"))

	subs, err := sc.Subscriptions.List(parentID, c.Query("status"), uint(childID))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of subscriptions", gin.H{
		"count":         len(subs),
		"subscriptions": subs,
	})
}

func (sc *SubscriptionController) GetSubscription(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	sub, err := sc.Subscriptions.Get(paramID(c, "subscription_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	// Per-subscription delivery counts ride along on the detail view.
	var rows []struct {
		Status string
		Count  int64
	}
	sc.DB.Table("deliveries").
		Select("status, COUNT(*) as count").
		Where("subscription_id = ?", sub.ID).
		Group("status").
		Scan(&rows)

	stats := gin.H{"total": int64(0), "pending": int64(0), "delivered": int64(0), "missed": int64(0)}
	var total int64
	for _, row := range rows {
		stats[row.Status] = row.Count
		total += row.Count
	}
	stats["total"] = total

	utils.RespondJSON(c, http.StatusOK, "Subscription detail", gin.H{
		"subscription":   sub,
		"delivery_stats": stats,
	})
}

// CalculatePrice -> pure pricing, no persistence
func (sc *SubscriptionController) CalculatePrice(c *gin.Context) {
	var input struct {
		PlanType string `json:"plan_type" binding:"required"`
		MealType string `json:"meal_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	quote, err := sc.Subscriptions.Prices().Quote(input.PlanType, input.MealType)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Price calculated", quote)
}

func (sc *SubscriptionController) CreateSubscription(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input struct {
		ChildID       uint   `json:"child_id" binding:"required"`
		PlanType      string `json:"plan_type" binding:"required"`
		MealType      string `json:"meal_type" binding:"required"`
		PaymentMethod string `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	sub, err := sc.Subscriptions.Create(parentID, input.ChildID, input.PlanType, input.MealType)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	payment, err := sc.Payments.CreatePayment(sub.ID, parentID, input.PaymentMethod)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	// Seed today's deliveries so the meal can ship without waiting for the
	// next scheduler tick.
	if _, err := sc.Deliveries.MaterializeForDate(time.Now()); err != nil {
		utils.ErrorLogger.Printf("Error materializing deliveries after subscribe: %v", err)
	}

	utils.RespondJSON(c, http.StatusCreated, "Subscription created successfully", gin.H{
		"subscription": sub,
		"payment":      payment,
	})
}

func (sc *SubscriptionController) PauseSubscription(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	sub, err := sc.Subscriptions.Pause(paramID(c, "subscription_id"), parentID, input.Reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Subscription paused successfully", gin.H{"subscription": sub})
}

func (sc *SubscriptionController) ResumeSubscription(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	sub, err := sc.Subscriptions.Resume(paramID(c, "subscription_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Subscription resumed successfully", gin.H{"subscription": sub})
}

func (sc *SubscriptionController) CancelSubscription(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	sub, err := sc.Subscriptions.Cancel(paramID(c, "subscription_id"), parentID, input.Reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Subscription cancelled successfully. No refund will be processed.", gin.H{"subscription": sub})
}

func (sc *SubscriptionController) GetChildSubscriptionHistory(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	subs, err := sc.Subscriptions.ChildHistory(paramID(c, "child_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Subscription history", gin.H{
		"count":         len(subs),
		"subscriptions": subs,
	})
}

// ExpireSubscriptions -> admin batch sweep trigger
func (sc *SubscriptionController) ExpireSubscriptions(c *gin.Context) {
	expired, err := sc.Subscriptions.ExpireOldSubscriptions()
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Expiry sweep completed", gin.H{"expired": expired})
}
