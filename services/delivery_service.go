package services

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// DeliveryService derives delivery rows from active subscriptions and
// advances them through the pending -> delivered|missed state machine.
type DeliveryService struct {
	db *gorm.DB
}

func NewDeliveryService(db *gorm.DB) *DeliveryService {
	return &DeliveryService{db: db}
}

// MaterializeForDate inserts the pending deliveries required on the given
// date by every active subscription covering it. Idempotent: the composite
// unique key on (child, date, meal) plus ON CONFLICT DO NOTHING makes a
// duplicate insert a benign no-op, so repeated or concurrent invocations for
// the same date never grow the delivery set. Returns the number of rows
// actually created.
//
// Dates outside a subscription's delivery-day set are skipped. The upstream
// system only consulted the set in an unused validity helper and shipped
// Saturday deliveries for Mon-Fri plans; the check belongs here.
func (s *DeliveryService) MaterializeForDate(date time.Time) (int, error) {
	targetDate := models.Midnight(date)

	var subs []models.Subscription
	err := s.db.
		Where("status = ? AND start_date <= ? AND end_date >= ?",
			models.SubscriptionStatusActive, targetDate, targetDate).
		Find(&subs).Error
	if err != nil {
		return 0, utils.NewInternalError(err)
	}

	created := 0
	for i := range subs {
		sub := &subs[i]
		if !sub.DeliversOn(targetDate.Weekday()) {
			continue
		}
		for _, meal := range sub.RequiredMeals() {
			delivery := models.Delivery{
				ChildID:        sub.ChildID,
				SubscriptionID: sub.ID,
				DeliveryDate:   targetDate,
				MealType:       meal,
				Status:         models.DeliveryStatusPending,
				StatusHistory: models.AppendStatusChange(nil, models.StatusChange{
					Status: models.DeliveryStatusPending,
					Reason: "Delivery scheduled",
				}),
			}
			res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&delivery)
			if res.Error != nil {
				if isDuplicateKey(res.Error) {
					continue
				}
				return created, utils.NewInternalError(res.Error)
			}
			if res.RowsAffected > 0 {
				created++
			}
		}
	}

	if created > 0 {
		utils.InfoLogger.Printf("Materialized %d deliveries for %s", created, targetDate.Format("2006-01-02"))
	}
	return created, nil
}

func (s *DeliveryService) find(id uint) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := s.db.Preload("Child").First(&delivery, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Delivery not found")
		}
		return nil, utils.NewInternalError(err)
	}
	return &delivery, nil
}

// MarkDelivered moves a pending delivery to delivered. Delivered is terminal.
func (s *DeliveryService) MarkDelivered(id, actorID uint, comment string, qrScanned bool) (*models.Delivery, error) {
	delivery, err := s.find(id)
	if err != nil {
		return nil, err
	}

	switch delivery.Status {
	case models.DeliveryStatusDelivered:
		return nil, utils.NewConflictError("Delivery already marked as delivered")
	case models.DeliveryStatusMissed:
		return nil, utils.NewInvalidStateError("Delivery was marked as missed and cannot change")
	}

	now := time.Now()
	reason := comment
	if reason == "" {
		reason = "Marked as delivered"
	}
	res := s.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusPending).
		Updates(map[string]interface{}{
			"status":       models.DeliveryStatusDelivered,
			"delivered_at": now,
			"delivered_by": actorID,
			"qr_scanned":   qrScanned,
			"comment":      comment,
			"status_history": models.AppendStatusChange(delivery.StatusHistory, models.StatusChange{
				Status:    models.DeliveryStatusDelivered,
				Reason:    reason,
				ChangedAt: now,
				ChangedBy: &actorID,
			}),
		})
	if res.Error != nil {
		return nil, utils.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, utils.NewConflictError("Delivery was updated concurrently")
	}

	if err := s.db.Preload("Child").First(delivery, id).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	BroadcastDeliveryUpdate(*delivery)
	return delivery, nil
}

// MarkMissed moves a pending delivery to missed. Missed is terminal. A reason
// is required because a missed meal feeds parent-facing history.
func (s *DeliveryService) MarkMissed(id, actorID uint, reason string) (*models.Delivery, error) {
	if reason == "" {
		return nil, utils.NewValidationError("Please provide a reason for marking as missed")
	}

	delivery, err := s.find(id)
	if err != nil {
		return nil, err
	}

	switch delivery.Status {
	case models.DeliveryStatusMissed:
		return nil, utils.NewConflictError("Delivery already marked as missed")
	case models.DeliveryStatusDelivered:
		return nil, utils.NewInvalidStateError("Delivery was marked as delivered and cannot change")
	}

	now := time.Now()
	res := s.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusPending).
		Updates(map[string]interface{}{
			"status":  models.DeliveryStatusMissed,
			"comment": reason,
			"status_history": models.AppendStatusChange(delivery.StatusHistory, models.StatusChange{
				Status:    models.DeliveryStatusMissed,
				Reason:    reason,
				ChangedAt: now,
				ChangedBy: &actorID,
			}),
		})
	if res.Error != nil {
		return nil, utils.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, utils.NewConflictError("Delivery was updated concurrently")
	}

	if err := s.db.Preload("Child").First(delivery, id).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	BroadcastDeliveryUpdate(*delivery)
	return delivery, nil
}

// DeliveryStats aggregates a day's deliveries by status.
type DeliveryStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Missed    int64 `json:"missed"`
}

// StatsForDate counts the day's deliveries by status. Pure read.
func (s *DeliveryService) StatsForDate(date time.Time) (*DeliveryStats, error) {
	start := models.Midnight(date)
	end := start.AddDate(0, 0, 1)

	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.Model(&models.Delivery{}).
		Select("status, COUNT(*) as count").
		Where("delivery_date >= ? AND delivery_date < ?", start, end).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}

	stats := &DeliveryStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.DeliveryStatusPending:
			stats.Pending = row.Count
		case models.DeliveryStatusDelivered:
			stats.Delivered = row.Count
		case models.DeliveryStatusMissed:
			stats.Missed = row.Count
		}
	}
	return stats, nil
}

// FindPendingForChildMeal locates today's pending delivery for a child and
// meal type. Used by the QR verification flow.
func (s *DeliveryService) FindPendingForChildMeal(childID uint, date time.Time, mealType string) (*models.Delivery, error) {
	start := models.Midnight(date)
	end := start.AddDate(0, 0, 1)

	var delivery models.Delivery
	err := s.db.Preload("Child").
		Where("child_id = ? AND delivery_date >= ? AND delivery_date < ? AND meal_type = ? AND status = ?",
			childID, start, end, mealType, models.DeliveryStatusPending).
		First(&delivery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("No pending delivery found for this child and meal type today")
		}
		return nil, utils.NewInternalError(err)
	}
	return &delivery, nil
}

// TodayForParent lists today's deliveries across all of a parent's active
// children.
func (s *DeliveryService) TodayForParent(parentID uint) ([]models.Delivery, error) {
	start := models.Midnight(time.Now())
	end := start.AddDate(0, 0, 1)

	var childIDs []uint
	err := s.db.Model(&models.Child{}).
		Where("parent_id = ? AND is_active = ?", parentID, true).
		Pluck("id", &childIDs).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}
	if len(childIDs) == 0 {
		return []models.Delivery{}, nil
	}

	var deliveries []models.Delivery
	err = s.db.Preload("Child").Preload("Subscription").
		Where("child_id IN ? AND delivery_date >= ? AND delivery_date < ?", childIDs, start, end).
		Order("meal_type ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}
	return deliveries, nil
}

// ChildHistory pages through a child's past deliveries, newest first.
func (s *DeliveryService) ChildHistory(childID, parentID uint, status string, page, limit int) ([]models.Delivery, int64, error) {
	var child models.Child
	if err := s.db.Where("id = ? AND parent_id = ?", childID, parentID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, utils.NewNotFoundError("Child not found")
		}
		return nil, 0, utils.NewInternalError(err)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	query := s.db.Model(&models.Delivery{}).Where("child_id = ?", childID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.NewInternalError(err)
	}

	var deliveries []models.Delivery
	err := query.Preload("Subscription").
		Order("delivery_date DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, 0, utils.NewInternalError(err)
	}
	return deliveries, total, nil
}

// Upcoming lists a child's pending deliveries over the next seven days.
func (s *DeliveryService) Upcoming(childID, parentID uint) ([]models.Delivery, error) {
	var child models.Child
	if err := s.db.Where("id = ? AND parent_id = ?", childID, parentID).First(&child).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Child not found")
		}
		return nil, utils.NewInternalError(err)
	}

	start := models.Midnight(time.Now())
	end := start.AddDate(0, 0, 7)

	var deliveries []models.Delivery
	err := s.db.Preload("Subscription").
		Where("child_id = ? AND delivery_date >= ? AND delivery_date < ? AND status = ?",
			childID, start, end, models.DeliveryStatusPending).
		Order("delivery_date ASC, meal_type ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}
	return deliveries, nil
}

// DayBoard lists every delivery on a date for the admin board, optionally
// filtered by status.
func (s *DeliveryService) DayBoard(date time.Time, status string) ([]models.Delivery, error) {
	start := models.Midnight(date)
	end := start.AddDate(0, 0, 1)

	query := s.db.Preload("Child").Preload("Subscription").
		Where("delivery_date >= ? AND delivery_date < ?", start, end)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var deliveries []models.Delivery
	if err := query.Order("status ASC, id ASC").Find(&deliveries).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return deliveries, nil
}
