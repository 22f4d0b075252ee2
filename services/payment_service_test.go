package services

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

func testGateway(delay time.Duration) *SimulatedGateway {
	return NewSimulatedGateway(&GatewayConfig{
		Name:        "demo",
		MerchantID:  "test-merchant-id",
		SettleDelay: delay,
	})
}

func seedActiveSubscription(t *testing.T, db *gorm.DB, parentID, childID uint) models.Subscription {
	t.Helper()
	start := models.Midnight(time.Now())
	return seedSubscription(t, db, parentID, childID, models.MealTypeLunch, start, start.AddDate(0, 0, 7))
}

// waitForStatus polls until the payment leaves pending or the deadline hits.
func waitForStatus(t *testing.T, db *gorm.DB, paymentID uint, want string) models.Payment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var payment models.Payment
	for time.Now().Before(deadline) {
		if err := db.First(&payment, paymentID).Error; err != nil {
			t.Fatalf("failed to reload payment: %v", err)
		}
		if payment.Status == want {
			return payment
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("payment %d never reached %s, still %s", paymentID, want, payment.Status)
	return payment
}

func TestPaymentService_CreateAndSettle(t *testing.T) {
	db := newTestDB(t, "payment_settle")
	parent := seedParent(t, db, "settle@test.com")
	child := seedChild(t, db, parent.ID, "Aarav")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	svc := NewPaymentService(db, testGateway(10*time.Millisecond))

	payment, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodUPI)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, 525.0, payment.Amount)
	assert.Equal(t, "INR", payment.Currency)

	var breakdown models.PriceBreakdown
	assert.NoError(t, json.Unmarshal(payment.Breakdown, &breakdown))
	assert.InDelta(t, 500.0, breakdown.BasePrice, 0.01)
	assert.InDelta(t, 25.0, breakdown.Tax, 0.01)
	assert.Equal(t, 525.0, breakdown.TotalPrice)

	settled := waitForStatus(t, db, payment.ID, models.PaymentStatusCompleted)
	assert.True(t, strings.HasPrefix(settled.TransactionID, "TXN-"))
	assert.NotNil(t, settled.PaymentDate)
}

func TestPaymentService_OnePaymentPerSubscription(t *testing.T) {
	db := newTestDB(t, "payment_one_per_sub")
	parent := seedParent(t, db, "onepay@test.com")
	child := seedChild(t, db, parent.ID, "Diya")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	svc := NewPaymentService(db, testGateway(time.Hour))

	_, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.NoError(t, err)

	_, err = svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.True(t, utils.IsKind(err, utils.KindConflict))
}

func TestPaymentService_CreateValidation(t *testing.T) {
	db := newTestDB(t, "payment_validation")
	parent := seedParent(t, db, "payvalid@test.com")
	child := seedChild(t, db, parent.ID, "Kabir")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	svc := NewPaymentService(db, testGateway(time.Hour))

	_, err := svc.CreatePayment(sub.ID, parent.ID, "cheque")
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = svc.CreatePayment(sub.ID+99, parent.ID, models.PaymentMethodCard)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestPaymentService_CompleteIsFinal(t *testing.T) {
	db := newTestDB(t, "payment_complete_final")
	parent := seedParent(t, db, "complete@test.com")
	child := seedChild(t, db, parent.ID, "Meera")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	// Long settle delay keeps the background goroutine out of the way.
	svc := NewPaymentService(db, testGateway(time.Hour))

	payment, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.NoError(t, err)

	completed, err := svc.Complete(payment.ID, "TXN-MANUAL", `{"status":"success"}`)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, completed.Status)
	assert.Equal(t, "TXN-MANUAL", completed.TransactionID)

	// Completing twice must surface, not silently succeed.
	_, err = svc.Complete(payment.ID, "TXN-AGAIN", "")
	assert.True(t, utils.IsKind(err, utils.KindConflict))

	_, err = svc.Fail(payment.ID, "too late")
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	attempts := paymentAttempts(t, completed)
	assert.Len(t, attempts, 2)
	assert.Equal(t, models.PaymentStatusCompleted, attempts[1].Status)
}

func TestPaymentService_FailReleasesSubscription(t *testing.T) {
	db := newTestDB(t, "payment_fail_release")
	parent := seedParent(t, db, "failpay@test.com")
	child := seedChild(t, db, parent.ID, "Ishaan")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	svc := NewPaymentService(db, testGateway(time.Hour))

	payment, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodWallet)
	assert.NoError(t, err)

	failed, err := svc.Fail(payment.ID, "insufficient balance")
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, failed.Status)
	assert.Nil(t, failed.OpenSubscriptionID)

	// The subscription is open for a retry with a fresh payment.
	retry, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, retry.Status)
}

func TestPaymentService_SweepPending(t *testing.T) {
	db := newTestDB(t, "payment_sweep")
	parent := seedParent(t, db, "sweep@test.com")
	child := seedChild(t, db, parent.ID, "Anaya")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)

	// Simulate a restart: the payment was created by a process whose
	// settlement goroutine never ran.
	stuck := NewPaymentService(db, testGateway(time.Hour))
	payment, err := stuck.CreatePayment(sub.ID, parent.ID, models.PaymentMethodUPI)
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	sweeper := NewPaymentService(db, testGateway(time.Millisecond))
	sweeper.SweepPending()

	var reloaded models.Payment
	assert.NoError(t, db.First(&reloaded, payment.ID).Error)
	assert.Equal(t, models.PaymentStatusCompleted, reloaded.Status)
}

func TestPaymentService_RefundRequestIsNoteOnly(t *testing.T) {
	db := newTestDB(t, "payment_refund")
	parent := seedParent(t, db, "refund@test.com")
	child := seedChild(t, db, parent.ID, "Vivaan")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	svc := NewPaymentService(db, testGateway(time.Hour))

	payment, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.NoError(t, err)

	// Only completed payments can ask for a refund.
	_, err = svc.RecordRefundRequest(payment.ID, parent.ID, "changed my mind")
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	_, err = svc.Complete(payment.ID, "TXN-REFUND", "")
	assert.NoError(t, err)

	_, err = svc.RecordRefundRequest(payment.ID, parent.ID, "")
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	noted, err := svc.RecordRefundRequest(payment.ID, parent.ID, "changed my mind")
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, noted.Status)
	assert.Contains(t, noted.Notes, "refunds are not provided")
}

func TestPaymentService_Summary(t *testing.T) {
	db := newTestDB(t, "payment_summary")
	parent := seedParent(t, db, "summary@test.com")
	child := seedChild(t, db, parent.ID, "Aditi")
	other := seedChild(t, db, parent.ID, "Rohan")
	sub := seedActiveSubscription(t, db, parent.ID, child.ID)
	sub2 := seedActiveSubscription(t, db, parent.ID, other.ID)
	svc := NewPaymentService(db, testGateway(time.Hour))

	first, err := svc.CreatePayment(sub.ID, parent.ID, models.PaymentMethodCard)
	assert.NoError(t, err)
	_, err = svc.Complete(first.ID, "TXN-SUM", "")
	assert.NoError(t, err)
	_, err = svc.CreatePayment(sub2.ID, parent.ID, models.PaymentMethodUPI)
	assert.NoError(t, err)

	summary, err := svc.Summary(parent.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1050.0, summary.Total)
	assert.Equal(t, int64(1), summary.ByStatus[models.PaymentStatusCompleted].Count)
	assert.Equal(t, 525.0, summary.ByStatus[models.PaymentStatusCompleted].Amount)
	assert.Equal(t, int64(1), summary.ByStatus[models.PaymentStatusPending].Count)
	assert.Equal(t, int64(0), summary.ByStatus[models.PaymentStatusFailed].Count)
}

func paymentAttempts(t *testing.T, payment *models.Payment) []models.PaymentAttempt {
	t.Helper()
	var attempts []models.PaymentAttempt
	if len(payment.Attempts) > 0 {
		assert.NoError(t, json.Unmarshal(payment.Attempts, &attempts))
	}
	return attempts
}
