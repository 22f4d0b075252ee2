package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/middlewares"
	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

type ChildController struct {
	DB       *gorm.DB
	Children *services.ChildService
}

func NewChildController(db *gorm.DB, children *services.ChildService) *ChildController {
	return &ChildController{
		DB:       db,
		Children: children,
	}
}

func paramID(c *gin.Context, name string) uint {
	id, _ := strconv.Atoi(c.Param(name))
	return uint(id)
}

// GetChildren -> list the parent's active children
func (cc *ChildController) GetChildren(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	children, err := cc.Children.List(parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of children", gin.H{"children": children})
}

// GetChild -> one child with its live subscriptions
func (cc *ChildController) GetChild(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	child, err := cc.Children.Get(paramID(c, "child_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	var activeSubscriptions []models.Subscription
	cc.DB.Where("child_id = ? AND status = ?", child.ID, models.SubscriptionStatusActive).
		Find(&activeSubscriptions)

	utils.RespondJSON(c, http.StatusOK, "Child detail", gin.H{
		"child":                child,
		"active_subscriptions": activeSubscriptions,
	})
}

func (cc *ChildController) CreateChild(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input services.ChildInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	child, err := cc.Children.Create(parentID, input)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Child profile created successfully", gin.H{"child": child})
}

func (cc *ChildController) UpdateChild(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	var input services.ChildInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	child, err := cc.Children.Update(paramID(c, "child_id"), parentID, input)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Child profile updated successfully", gin.H{"child": child})
}

func (cc *ChildController) DeleteChild(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	if err := cc.Children.SoftDelete(paramID(c, "child_id"), parentID); err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Child profile deleted successfully", nil)
}

// GetQRCode -> the token to encode; image rendering happens client side
func (cc *ChildController) GetQRCode(c *gin.Context) {
	parentID := middlewares.CurrentUserID(c)

	child, err := cc.Children.Get(paramID(c, "child_id"), parentID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	utils.RespondJSON(c, http.StatusOK, "QR code", gin.H{
		"qr_code_data": child.QRCodeData,
		"child_name":   child.Name,
	})
}

// VerifyQRCode -> admin-side token check ahead of a delivery
func (cc *ChildController) VerifyQRCode(c *gin.Context) {
	var input struct {
		QRCodeData string `json:"qr_code_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	child, err := cc.Children.VerifyToken(input.QRCodeData)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	utils.RespondJSON(c, http.StatusOK, "QR code verified", gin.H{"child": child})
}
