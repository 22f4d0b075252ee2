package services

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// allowed subscription status transitions; terminal states map to nothing
var subscriptionTransitions = map[string][]string{
	models.SubscriptionStatusActive:    {models.SubscriptionStatusPaused, models.SubscriptionStatusCancelled, models.SubscriptionStatusExpired},
	models.SubscriptionStatusPaused:    {models.SubscriptionStatusActive, models.SubscriptionStatusCancelled, models.SubscriptionStatusExpired},
	models.SubscriptionStatusCancelled: {},
	models.SubscriptionStatusExpired:   {},
}

func canTransition(from, to string) bool {
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubscriptionService owns the subscription lifecycle. The price table is an
// immutable snapshot taken at construction.
type SubscriptionService struct {
	db     *gorm.DB
	prices PriceTable
}

func NewSubscriptionService(db *gorm.DB, prices PriceTable) *SubscriptionService {
	return &SubscriptionService{db: db, prices: prices}
}

func (s *SubscriptionService) Prices() PriceTable {
	return s.prices
}

// isDuplicateKey reports whether an insert failed on a unique index.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique constraint")
}

// Create activates a new subscription for a child. The unique claim column
// active_child_id turns a concurrent double-create into a duplicate-key
// failure instead of a lost race.
func (s *SubscriptionService) Create(parentID, childID uint, planType, mealType string) (*models.Subscription, error) {
	quote, err := s.prices.Quote(planType, mealType)
	if err != nil {
		return nil, err
	}

	var child models.Child
	if err := s.db.Where("id = ? AND parent_id = ?", childID, parentID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Child not found")
		}
		return nil, utils.NewInternalError(err)
	}
	if !child.IsActive {
		return nil, utils.NewConflictError("Child profile is deactivated")
	}

	startDate := models.Midnight(time.Now())
	endDate := startDate.AddDate(0, 0, PlanDays(planType))

	claim := childID
	sub := models.Subscription{
		ParentID:      parentID,
		ChildID:       childID,
		ActiveChildID: &claim,
		PlanType:      planType,
		MealType:      mealType,
		Status:        models.SubscriptionStatusActive,
		StartDate:     startDate,
		EndDate:       endDate,
		Price:         quote.TotalPrice,
		DeliveryDays:  models.DefaultDeliveryDays(),
		StatusHistory: models.AppendStatusChange(nil, models.StatusChange{
			Status: models.SubscriptionStatusActive,
			Reason: "Subscription created",
		}),
	}

	if err := s.db.Create(&sub).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, utils.NewConflictError("Child already has an active subscription")
		}
		return nil, utils.NewInternalError(err)
	}

	utils.InfoLogger.Printf("Subscription %d created for child %d (%s/%s, %.2f INR)",
		sub.ID, childID, planType, mealType, sub.Price)
	return &sub, nil
}

// transition applies one state-machine step with an optimistic conditional
// update keyed on the expected prior status. All guard checking lives here;
// callers never re-check statuses themselves.
func (s *SubscriptionService) transition(sub *models.Subscription, to, reason string, changedBy *uint) error {
	if !canTransition(sub.Status, to) {
		if sub.Status == models.SubscriptionStatusCancelled || sub.Status == models.SubscriptionStatusExpired {
			return utils.NewInvalidStateError("Subscription is already " + sub.Status)
		}
		return utils.NewInvalidStateError("Cannot move subscription from " + sub.Status + " to " + to)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status": to,
		"status_history": models.AppendStatusChange(sub.StatusHistory, models.StatusChange{
			Status:    to,
			Reason:    reason,
			ChangedAt: now,
			ChangedBy: changedBy,
		}),
	}

	switch to {
	case models.SubscriptionStatusPaused:
		updates["paused_at"] = now
	case models.SubscriptionStatusActive:
		updates["paused_at"] = nil
	case models.SubscriptionStatusCancelled:
		updates["cancelled_at"] = now
		updates["active_child_id"] = nil
	case models.SubscriptionStatusExpired:
		updates["active_child_id"] = nil
	}

	res := s.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, sub.Status).
		Updates(updates)
	if res.Error != nil {
		return utils.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("Subscription was modified concurrently, retry")
	}

	return s.db.First(sub, sub.ID).Error
}

func (s *SubscriptionService) get(id, parentID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Where("id = ? AND parent_id = ?", id, parentID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Subscription not found")
		}
		return nil, utils.NewInternalError(err)
	}
	return &sub, nil
}

// Pause moves an active subscription to paused. The child claim stays held so
// a second subscription cannot be created while paused.
func (s *SubscriptionService) Pause(id, parentID uint, reason string) (*models.Subscription, error) {
	sub, err := s.get(id, parentID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return nil, utils.NewInvalidStateError("Can only pause active subscriptions")
	}
	if reason == "" {
		reason = "Paused by user"
	}
	if err := s.transition(sub, models.SubscriptionStatusPaused, reason, &parentID); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume moves a paused subscription back to active.
func (s *SubscriptionService) Resume(id, parentID uint) (*models.Subscription, error) {
	sub, err := s.get(id, parentID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPaused {
		return nil, utils.NewInvalidStateError("Can only resume paused subscriptions")
	}
	if err := s.transition(sub, models.SubscriptionStatusActive, "Resumed by user", &parentID); err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel terminates a subscription. Terminal: no further transitions, and the
// child becomes free for a new subscription.
func (s *SubscriptionService) Cancel(id, parentID uint, reason string) (*models.Subscription, error) {
	sub, err := s.get(id, parentID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Cancelled by user"
	}
	if err := s.transition(sub, models.SubscriptionStatusCancelled, reason, &parentID); err != nil {
		return nil, err
	}
	return sub, nil
}

// ExpireOldSubscriptions is the batch sweep an external scheduler invokes.
// Every active or paused subscription whose end date has passed becomes
// expired and releases its child claim.
func (s *SubscriptionService) ExpireOldSubscriptions() (int, error) {
	var due []models.Subscription
	now := time.Now()
	err := s.db.
		Where("status IN ? AND end_date < ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPaused}, now).
		Find(&due).Error
	if err != nil {
		return 0, utils.NewInternalError(err)
	}

	expired := 0
	for i := range due {
		sub := &due[i]
		if err := s.transition(sub, models.SubscriptionStatusExpired, "Subscription period ended", nil); err != nil {
			// Lost a race with a concurrent cancel; the row is terminal either way.
			utils.ErrorLogger.Printf("Error expiring subscription %d: %v", sub.ID, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		utils.InfoLogger.Printf("Expired %d subscriptions", expired)
	}
	return expired, nil
}

// List returns a parent's subscriptions, optionally filtered by status and
// child.
func (s *SubscriptionService) List(parentID uint, status string, childID uint) ([]models.Subscription, error) {
	query := s.db.Preload("Child").Where("parent_id = ?", parentID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if childID != 0 {
		query = query.Where("child_id = ?", childID)
	}

	var subs []models.Subscription
	if err := query.Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return subs, nil
}

// Get returns one subscription owned by the parent.
func (s *SubscriptionService) Get(id, parentID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Preload("Child").Where("id = ? AND parent_id = ?", id, parentID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Subscription not found")
		}
		return nil, utils.NewInternalError(err)
	}
	return &sub, nil
}

// ChildHistory returns every subscription a child has ever had, newest first.
func (s *SubscriptionService) ChildHistory(childID, parentID uint) ([]models.Subscription, error) {
	var child models.Child
	if err := s.db.Where("id = ? AND parent_id = ?", childID, parentID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Child not found")
		}
		return nil, utils.NewInternalError(err)
	}

	var subs []models.Subscription
	if err := s.db.Where("child_id = ?", childID).Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return subs, nil
}
