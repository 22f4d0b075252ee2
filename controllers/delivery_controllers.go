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

type DeliveryController struct {
	DB         *gorm.DB
	Deliveries *services.DeliveryService
	Children   *services.ChildService
}

func NewDeliveryController(db *gorm.DB, deliveries *services.DeliveryService, children *services.ChildService) *DeliveryController {
	return &DeliveryController{
		DB:         db,
		Deliveries: deliveries,
		Children:   children,
	}
}

// GetTodaysMeals -> parent view of today's deliveries for all their children
func (dc *DeliveryController) GetTodaysMeals(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	deliveries, err := dc.Deliveries.TodayForParent(parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Today's meals", gin.H{
		"count":      len(deliveries),
		"deliveries": deliveries,
	})
}

func (dc *DeliveryController) GetChildDeliveries(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	deliveries, total, err := dc.Deliveries.ChildHistory(paramID(c, "child_id"), parentID, c.Query("status"), page, limit)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Delivery history", gin.H{
		"count":      len(deliveries),
		"total":      total,
		"page":       page,
		"deliveries": deliveries,
	})
}

func (dc *DeliveryController) GetUpcomingMeals(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	deliveries, err := dc.Deliveries.Upcoming(paramID(c, "child_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Upcoming meals", gin.H{
		"count":      len(deliveries),
		"deliveries": deliveries,
	})
}

// GetTodaysBoard -> admin view of every delivery due today
func (dc *DeliveryController) GetTodaysBoard(c *gin.Context) {
	deliveries, err := dc.Deliveries.DayBoard(time.Now(), c.Query("status"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Today's deliveries", gin.H{
		"count":      len(deliveries),
		"deliveries": deliveries,
	})
}

func (dc *DeliveryController) GetDeliveryStats(c *gin.Context) {
	targetDate := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			utils.RespondAppError(c, utils.NewValidationError("Date must be YYYY-MM-DD"))
			return
		}
		targetDate = parsed
	}

	stats, err := dc.Deliveries.StatsForDate(targetDate)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Delivery stats", gin.H{
		"date":  targetDate.Format("2006-01-02"),
		"stats": stats,
	})
}

func (dc *DeliveryController) MarkDelivered(c *gin.Context) {
	adminID := middlewares.CurrentUserID(c)

	var input struct {
		Comment   string `json:"comment"`
		QRScanned bool   `json:"qr_scanned"`
	}
	_ = c.ShouldBindJSON(&input)

	delivery, err := dc.Deliveries.MarkDelivered(paramID(c, "delivery_id"), adminID, input.Comment, input.QRScanned)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Delivery marked as delivered", gin.H{"delivery": delivery})
}

func (dc *DeliveryController) MarkMissed(c *gin.Context) {
	adminID := middlewares.CurrentUserID(c)

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	delivery, err := dc.Deliveries.MarkMissed(paramID(c, "delivery_id"), adminID, input.Reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Delivery marked as missed", gin.H{"delivery": delivery})
}

// VerifyAndDeliver -> scan a child's QR, find today's pending delivery for
// the requested meal and confirm it in one step. An invalid token and a
// missing delivery are distinct failures so the scanner can tell a wrong
// child from an already-served one.
func (dc *DeliveryController) VerifyAndDeliver(c *gin.Context) {
	adminID := middlewares.CurrentUserID(c)

	var input struct {
		QRCodeData string `json:"qr_code_data" binding:"required"`
		MealType   string `json:"meal_type" binding:"required"`
		Comment    string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	child, err := dc.Children.VerifyToken(input.QRCodeData)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	delivery, err := dc.Deliveries.FindPendingForChildMeal(child.ID, time.Now(), input.MealType)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	confirmed, err := dc.Deliveries.MarkDelivered(delivery.ID, adminID, input.Comment, true)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Delivery verified and marked as delivered", gin.H{"delivery": confirmed})
}

// CreateDeliveries -> manual materialization trigger
func (dc *DeliveryController) CreateDeliveries(c *gin.Context) {
	var input struct {
		Date string `json:"date"`
	}
	_ = c.ShouldBindJSON(&input)

	targetDate := time.Now()
	if input.Date != "" {
		parsed, err := time.Parse("2006-01-02", input.Date)
		if err != nil {
			utils.RespondAppError(c, utils.NewValidationError("Date must be YYYY-MM-DD"))
			return
		}
		targetDate = parsed
	}

	created, err := dc.Deliveries.MaterializeForDate(targetDate)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Deliveries created", gin.H{
		"date":    targetDate.Format("2006-01-02"),
		"created": created,
	})
}
