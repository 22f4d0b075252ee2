package services

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// PaymentService records payments 1:1 against subscriptions and reconciles
// them to completed or failed through the simulated gateway.
type PaymentService struct {
	db      *gorm.DB
	gateway *SimulatedGateway
}

func NewPaymentService(db *gorm.DB, gateway *SimulatedGateway) *PaymentService {
	return &PaymentService{db: db, gateway: gateway}
}

// CreatePayment opens a pending payment for a subscription and kicks off
// asynchronous settlement. The unique claim column open_subscription_id
// rejects a second pending or completed payment for the same subscription at
// the database, so double submission is a ConflictError even under races.
func (s *PaymentService) CreatePayment(subscriptionID, parentID uint, method string) (*models.Payment, error) {
	if !validPaymentMethods[method] {
		return nil, utils.NewValidationError("Invalid payment method")
	}

	var sub models.Subscription
	err := s.db.Where("id = ? AND parent_id = ?", subscriptionID, parentID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Subscription not found")
		}
		return nil, utils.NewInternalError(err)
	}

	base := sub.Price / (1 + TaxRate)
	breakdown, _ := json.Marshal(models.PriceBreakdown{
		PlanType:   sub.PlanType,
		MealType:   sub.MealType,
		Duration:   PlanDuration(sub.PlanType),
		BasePrice:  base,
		Tax:        sub.Price - base,
		Discount:   0,
		TotalPrice: sub.Price,
	})

	claim := subscriptionID
	payment := models.Payment{
		ParentID:           parentID,
		SubscriptionID:     subscriptionID,
		OpenSubscriptionID: &claim,
		ChildID:            sub.ChildID,
		Amount:             sub.Price,
		Currency:           "INR",
		Status:             models.PaymentStatusPending,
		PaymentMethod:      method,
		PaymentGateway:     s.gateway.Name(),
		Breakdown:          breakdown,
		Attempts: models.AppendAttempt(nil, models.PaymentAttempt{
			Status: models.PaymentStatusPending,
		}),
	}

	if err := s.db.Create(&payment).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, utils.NewConflictError("Payment already processed for this subscription")
		}
		return nil, utils.NewInternalError(err)
	}

	utils.InfoLogger.Printf("Payment %d created for subscription %d (%.2f INR via %s)",
		payment.ID, subscriptionID, payment.Amount, method)

	// Fire-and-forget settlement; the pending sweeper recovers anything lost
	// to a restart because the pending row is already durable.
	go func(id uint) {
		time.Sleep(s.gateway.SettleDelay())
		if err := s.settle(id); err != nil && !utils.IsKind(err, utils.KindConflict) {
			utils.ErrorLogger.Printf("Error settling payment %d: %v", id, err)
		}
	}(payment.ID)

	return &payment, nil
}

// settle asks the gateway for the outcome of a pending payment and records it.
func (s *PaymentService) settle(paymentID uint) error {
	var payment models.Payment
	if err := s.db.First(&payment, paymentID).Error; err != nil {
		return utils.NewInternalError(err)
	}
	if payment.Status != models.PaymentStatusPending {
		return nil
	}

	result, err := s.gateway.Charge(payment.Amount, payment.PaymentMethod)
	if err != nil {
		return utils.NewInternalError(err)
	}

	if result.Status == models.PaymentStatusCompleted {
		_, err = s.Complete(paymentID, result.TransactionID, result.RawResponse)
	} else {
		_, err = s.Fail(paymentID, result.RawResponse)
	}
	return err
}

// Complete moves a pending payment to completed. Completing twice is a
// ConflictError, never a silent success: revenue must not double-count.
func (s *PaymentService) Complete(paymentID uint, transactionID, gatewayResponse string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Payment not found")
		}
		return nil, utils.NewInternalError(err)
	}

	switch payment.Status {
	case models.PaymentStatusCompleted:
		return nil, utils.NewConflictError("Payment already completed")
	case models.PaymentStatusFailed, models.PaymentStatusRefunded:
		return nil, utils.NewInvalidStateError("Payment is " + payment.Status + " and cannot complete")
	}

	now := time.Now()
	res := s.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusCompleted,
			"transaction_id": transactionID,
			"payment_date":   now,
			"attempts": models.AppendAttempt(payment.Attempts, models.PaymentAttempt{
				AttemptedAt:     now,
				Status:          models.PaymentStatusCompleted,
				GatewayResponse: gatewayResponse,
			}),
		})
	if res.Error != nil {
		return nil, utils.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, utils.NewConflictError("Payment was settled concurrently")
	}

	if err := s.db.First(&payment, paymentID).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	utils.InfoLogger.Printf("Payment %d completed (txn %s)", paymentID, transactionID)
	BroadcastPaymentUpdate(payment)
	return &payment, nil
}

// Fail moves a pending payment to failed and releases the subscription claim
// so the parent can retry with a new payment.
func (s *PaymentService) Fail(paymentID uint, errorMessage string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Payment not found")
		}
		return nil, utils.NewInternalError(err)
	}

	if payment.Status != models.PaymentStatusPending {
		return nil, utils.NewInvalidStateError("Can only fail pending payments")
	}

	now := time.Now()
	res := s.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":               models.PaymentStatusFailed,
			"open_subscription_id": nil,
			"attempts": models.AppendAttempt(payment.Attempts, models.PaymentAttempt{
				AttemptedAt:  now,
				Status:       models.PaymentStatusFailed,
				ErrorMessage: errorMessage,
			}),
		})
	if res.Error != nil {
		return nil, utils.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, utils.NewConflictError("Payment was settled concurrently")
	}

	if err := s.db.First(&payment, paymentID).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	utils.InfoLogger.Printf("Payment %d failed: %s", paymentID, errorMessage)
	BroadcastPaymentUpdate(payment)
	return &payment, nil
}

// RecordRefundRequest notes a refund request on a completed payment. Policy
// is no refunds, so no status transition happens; the request is kept for
// audit.
func (s *PaymentService) RecordRefundRequest(paymentID, parentID uint, reason string) (*models.Payment, error) {
	if reason == "" {
		return nil, utils.NewValidationError("Please provide a reason for refund request")
	}

	var payment models.Payment
	err := s.db.Where("id = ? AND parent_id = ?", paymentID, parentID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Payment not found")
		}
		return nil, utils.NewInternalError(err)
	}

	if payment.Status != models.PaymentStatusCompleted {
		return nil, utils.NewInvalidStateError("Can only request refund for completed payments")
	}

	payment.Notes = "Refund requested: " + reason + ". Note: As per policy, refunds are not provided."
	if err := s.db.Model(&payment).Update("notes", payment.Notes).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return &payment, nil
}

// SweepPending settles pending payments older than the gateway delay. Run on
// a ticker so a payment whose fire-and-forget goroutine died with the process
// still reaches a terminal status.
func (s *PaymentService) SweepPending() {
	cutoff := time.Now().Add(-s.gateway.SettleDelay())

	var pending []models.Payment
	err := s.db.
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, cutoff).
		Find(&pending).Error
	if err != nil {
		utils.ErrorLogger.Printf("Error sweeping pending payments: %v", err)
		return
	}

	for _, payment := range pending {
		if err := s.settle(payment.ID); err != nil && !utils.IsKind(err, utils.KindConflict) {
			utils.ErrorLogger.Printf("Error settling payment %d during sweep: %v", payment.ID, err)
		}
	}
}

// StartPendingSweeper runs SweepPending on a fixed interval until stop is
// closed.
func (s *PaymentService) StartPendingSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepPending()
			case <-stop:
				return
			}
		}
	}()
	utils.InfoLogger.Println("Payment pending sweeper started")
}

// List pages a parent's payments, newest first.
func (s *PaymentService) List(parentID uint, status string, page, limit int) ([]models.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	query := s.db.Model(&models.Payment{}).Where("parent_id = ?", parentID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.NewInternalError(err)
	}

	var payments []models.Payment
	err := query.Preload("Child").Preload("Subscription").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, 0, utils.NewInternalError(err)
	}
	return payments, total, nil
}

// Get returns one payment owned by the parent.
func (s *PaymentService) Get(id, parentID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Preload("Child").Preload("Subscription").
		Where("id = ? AND parent_id = ?", id, parentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Payment not found")
		}
		return nil, utils.NewInternalError(err)
	}
	return &payment, nil
}

// PaymentSummary aggregates a parent's payments by status.
type PaymentSummary struct {
	Total    float64              `json:"total"`
	ByStatus map[string]StatusSum `json:"by_status"`
}

type StatusSum struct {
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// Summary computes a parent's payment totals grouped by status.
func (s *PaymentService) Summary(parentID uint) (*PaymentSummary, error) {
	var rows []struct {
		Status string
		Count  int64
		Amount float64
	}
	err := s.db.Model(&models.Payment{}).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount), 0) as amount").
		Where("parent_id = ?", parentID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}

	summary := &PaymentSummary{ByStatus: map[string]StatusSum{
		models.PaymentStatusPending:   {},
		models.PaymentStatusCompleted: {},
		models.PaymentStatusFailed:    {},
		models.PaymentStatusRefunded:  {},
	}}
	for _, row := range rows {
		summary.ByStatus[row.Status] = StatusSum{Count: row.Count, Amount: row.Amount}
		summary.Total += row.Amount
	}
	return summary, nil
}
