package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/middlewares"
	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

type PaymentController struct {
	DB       *gorm.DB
	Payments *services.PaymentService
}

func NewPaymentController(db *gorm.DB, payments *services.PaymentService) *PaymentController {
	return &PaymentController{DB: db, Payments: payments}
}

func (pc *PaymentController) GetPayments(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	payments, total, err := pc.Payments.List(parentID, c.Query("status"), page, limit)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of payments", gin.H{
		"count":    len(payments),
		"total":    total,
		"page":     page,
		"payments": payments,
	})
}

func (pc *PaymentController) GetPayment(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	payment, err := pc.Payments.Get(paramID(c, "payment_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment detail", gin.H{"payment": payment})
}

func (pc *PaymentController) GetPaymentSummary(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	summary, err := pc.Payments.Summary(parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment summary", gin.H{"summary": summary})
}

// ProcessPayment -> open a pending payment for a subscription; settlement
// happens asynchronously.
func (pc *PaymentController) ProcessPayment(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input struct {
		SubscriptionID uint   `json:"subscription_id" binding:"required"`
		PaymentMethod  string `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	payment, err := pc.Payments.CreatePayment(input.SubscriptionID, parentID, input.PaymentMethod)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Payment initiated successfully", gin.H{"payment": payment})
}

func (pc *PaymentController) RequestRefund(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	payment, err := pc.Payments.RecordRefundRequest(paramID(c, "payment_id"), parentID, input.Reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK,
		"Refund request noted. However, as per our policy, we do not provide refunds for subscriptions.",
		gin.H{"payment": payment})
}
