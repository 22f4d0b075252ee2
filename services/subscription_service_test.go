package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// newTestDB opens a named in-memory database so each test gets its own
// isolated schema while gorm's pooled connections still see the same data.
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	utils.InitLogger()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Child{},
		&models.Subscription{},
		&models.Delivery{},
		&models.Payment{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedParent(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	parent := models.User{
		Name:     "Test Parent",
		Email:    email,
		Phone:    "98" + email[:8],
		Password: "irrelevant",
		Role:     models.RoleParent,
		IsActive: true,
	}
	if err := db.Create(&parent).Error; err != nil {
		t.Fatalf("failed to seed parent: %v", err)
	}
	return parent
}

func seedChild(t *testing.T, db *gorm.DB, parentID uint, name string) models.Child {
	t.Helper()
	child := models.Child{
		ParentID:         parentID,
		Name:             name,
		Age:              8,
		Grade:            "3rd",
		FoodPreference:   models.FoodPreferenceVeg,
		DeliveryLocation: "Sunshine School, Gate 2",
		QRCodeData:       utils.NewChildQRToken(),
		IsActive:         true,
	}
	if err := db.Create(&child).Error; err != nil {
		t.Fatalf("failed to seed child: %v", err)
	}
	return child
}

func TestSubscriptionService_Create(t *testing.T) {
	db := newTestDB(t, "subscription_create")
	parent := seedParent(t, db, "create@test.com")
	child := seedChild(t, db, parent.ID, "Aarav")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	sub, err := svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 525.0, sub.Price)
	if assert.NotNil(t, sub.ActiveChildID) {
		assert.Equal(t, child.ID, *sub.ActiveChildID)
	}
	assert.Equal(t, sub.StartDate.AddDate(0, 0, 7), sub.EndDate)

	history := models.ParseStatusHistory(sub.StatusHistory)
	if assert.Len(t, history, 1) {
		assert.Equal(t, models.SubscriptionStatusActive, history[0].Status)
	}
}

func TestSubscriptionService_CreateValidation(t *testing.T) {
	db := newTestDB(t, "subscription_create_validation")
	parent := seedParent(t, db, "validate@test.com")
	other := seedParent(t, db, "stranger@test.com")
	child := seedChild(t, db, parent.ID, "Diya")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	_, err := svc.Create(parent.ID, child.ID, "yearly", models.MealTypeLunch)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	// Another parent cannot subscribe someone else's child.
	_, err = svc.Create(other.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestSubscriptionService_OneLiveSubscriptionPerChild(t *testing.T) {
	db := newTestDB(t, "subscription_one_live")
	parent := seedParent(t, db, "onelive@test.com")
	child := seedChild(t, db, parent.ID, "Kabir")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	first, err := svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.NoError(t, err)

	_, err = svc.Create(parent.ID, child.ID, models.PlanTypeMonthly, models.MealTypeBoth)
	assert.True(t, utils.IsKind(err, utils.KindConflict))

	// A paused subscription still claims the child.
	_, err = svc.Pause(first.ID, parent.ID, "exam week")
	assert.NoError(t, err)
	_, err = svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.True(t, utils.IsKind(err, utils.KindConflict))

	// Cancelling releases the claim and a fresh subscription goes through.
	_, err = svc.Cancel(first.ID, parent.ID, "switching schools")
	assert.NoError(t, err)
	_, err = svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.NoError(t, err)
}

func TestSubscriptionService_Lifecycle(t *testing.T) {
	db := newTestDB(t, "subscription_lifecycle")
	parent := seedParent(t, db, "lifecycle@test.com")
	child := seedChild(t, db, parent.ID, "Meera")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	sub, err := svc.Create(parent.ID, child.ID, models.PlanTypeMonthly, models.MealTypeBoth)
	assert.NoError(t, err)

	// Resuming an active subscription is rejected.
	_, err = svc.Resume(sub.ID, parent.ID)
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	paused, err := svc.Pause(sub.ID, parent.ID, "")
	assert.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, paused.Status)
	assert.NotNil(t, paused.PausedAt)

	_, err = svc.Pause(sub.ID, parent.ID, "again")
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	resumed, err := svc.Resume(sub.ID, parent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)

	cancelled, err := svc.Cancel(sub.ID, parent.ID, "")
	assert.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Nil(t, cancelled.ActiveChildID)

	// Cancelled is terminal.
	_, err = svc.Pause(sub.ID, parent.ID, "too late")
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))
	_, err = svc.Resume(sub.ID, parent.ID)
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))
	_, err = svc.Cancel(sub.ID, parent.ID, "twice")
	assert.True(t, utils.IsKind(err, utils.KindInvalidState))

	history := models.ParseStatusHistory(cancelled.StatusHistory)
	assert.Len(t, history, 4)
}

func TestSubscriptionService_ExpireOldSubscriptions(t *testing.T) {
	db := newTestDB(t, "subscription_expire")
	parent := seedParent(t, db, "expire@test.com")
	child := seedChild(t, db, parent.ID, "Ishaan")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	sub, err := svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.NoError(t, err)

	// Nothing due yet.
	expired, err := svc.ExpireOldSubscriptions()
	assert.NoError(t, err)
	assert.Equal(t, 0, expired)

	db.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("end_date", time.Now().AddDate(0, 0, -1))

	expired, err = svc.ExpireOldSubscriptions()
	assert.NoError(t, err)
	assert.Equal(t, 1, expired)

	var reloaded models.Subscription
	assert.NoError(t, db.First(&reloaded, sub.ID).Error)
	assert.Equal(t, models.SubscriptionStatusExpired, reloaded.Status)
	assert.Nil(t, reloaded.ActiveChildID)

	// The child is free again after expiry.
	_, err = svc.Create(parent.ID, child.ID, models.PlanTypeMonthly, models.MealTypeLunch)
	assert.NoError(t, err)
}

func TestSubscriptionService_ChildHistory(t *testing.T) {
	db := newTestDB(t, "subscription_history")
	parent := seedParent(t, db, "history@test.com")
	child := seedChild(t, db, parent.ID, "Anaya")
	svc := NewSubscriptionService(db, DefaultPriceTable())

	first, err := svc.Create(parent.ID, child.ID, models.PlanTypeWeekly, models.MealTypeLunch)
	assert.NoError(t, err)
	_, err = svc.Cancel(first.ID, parent.ID, "trying monthly instead")
	assert.NoError(t, err)
	_, err = svc.Create(parent.ID, child.ID, models.PlanTypeMonthly, models.MealTypeLunch)
	assert.NoError(t, err)

	subs, err := svc.ChildHistory(child.ID, parent.ID)
	assert.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = svc.ChildHistory(child.ID+99, parent.ID)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}
