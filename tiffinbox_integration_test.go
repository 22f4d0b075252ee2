package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/database"
	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/router"
	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	os.Exit(m.Run())
}

// TestEndToEndIntegration walks the main flow:
// 0. Register parent and admin, login -> tokens
// 1. Parent creates a child profile (QR token minted)
// 2. Parent subscribes the child => payment pending => settles async
// 3. Admin scans the QR => today's lunch confirmed
// 4. Second scan finds nothing pending
// 5. Pause and cancel close the subscription out
func TestEndToEndIntegration(t *testing.T) {
	db := setupIntegrationDB()
	r := setupIntegrationRouter(db)

	parentToken := registerAndLogin(t, r, "Priya Sharma", "priya@example.com", "9876543210", "parent")
	adminToken := registerAndLogin(t, r, "Delivery Admin", "admin@example.com", "9876500000", "admin")

	// Admins have no access to the parent surface.
	code, _ := request(t, r, "POST", "/children", adminToken, map[string]interface{}{})
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin on /children, got %d", code)
	}

	childID, qrToken := createChildTest(t, r, parentToken)
	subID, paymentID := createSubscriptionTest(t, r, parentToken, childID)

	// Put today's meals on the board whatever weekday it is.
	allDays := datatypes.JSON([]byte("[0,1,2,3,4,5,6]"))
	db.Model(&models.Subscription{}).Where("id = ?", subID).Update("delivery_days", allDays)
	code, _ = request(t, r, "POST", "/deliveries/admin/create", adminToken, map[string]interface{}{})
	if code != http.StatusOK {
		t.Fatalf("materialize trigger: expected 200, got %d", code)
	}

	scanAndDeliverTest(t, r, adminToken, qrToken)
	waitForPaymentCompleted(t, r, parentToken, paymentID)

	// A second subscription for the same child is rejected while this one lives.
	code, body := request(t, r, "POST", "/subscriptions", parentToken, map[string]interface{}{
		"child_id":       childID,
		"plan_type":      "weekly",
		"meal_type":      "lunch",
		"payment_method": "card",
	})
	if code != http.StatusConflict {
		t.Fatalf("duplicate subscription: expected 409, got %d, body=%s", code, body)
	}

	pauseAndCancelTest(t, r, parentToken, subID)
}

func setupIntegrationDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open in-memory sqlite: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Child{},
		&models.Subscription{},
		&models.Delivery{},
		&models.Payment{},
	)
	if err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	if err := database.EnsureConstraints(db); err != nil {
		log.Fatalf("failed to ensure constraints: %v", err)
	}
	return db
}

func setupIntegrationRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)

	gateway := services.NewSimulatedGateway(&services.GatewayConfig{
		Name:        "demo",
		MerchantID:  "integration-test",
		SettleDelay: 10 * time.Millisecond,
	})
	return router.SetupRouter(db, router.Services{
		Children:      services.NewChildService(db),
		Subscriptions: services.NewSubscriptionService(db, services.DefaultPriceTable()),
		Deliveries:    services.NewDeliveryService(db),
		Payments:      services.NewPaymentService(db, gateway),
	})
}

// request fires one JSON request and returns the status code and parsed body.
func request(t *testing.T, r *gin.Engine, method, url, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func registerAndLogin(t *testing.T, r *gin.Engine, name, email, phone, role string) string {
	code, body := request(t, r, "POST", "/register", "", map[string]interface{}{
		"name":     name,
		"email":    email,
		"phone":    phone,
		"password": "secret123",
		"role":     role,
	})
	if code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d, body=%v", email, code, body)
	}

	code, body = request(t, r, "POST", "/login", "", map[string]interface{}{
		"email":    email,
		"password": "secret123",
	})
	if code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d, body=%v", email, code, body)
	}
	token, _ := body["data"].(map[string]interface{})["token"].(string)
	if token == "" {
		t.Fatalf("login %s: token empty", email)
	}
	return token
}

func createChildTest(t *testing.T, r *gin.Engine, token string) (uint, string) {
	code, body := request(t, r, "POST", "/children", token, map[string]interface{}{
		"name":              "Aarav",
		"age":               8,
		"grade":             "3rd",
		"allergies":         []string{"peanuts"},
		"food_preference":   "veg",
		"delivery_location": "Sunshine School, Gate 2",
	})
	if code != http.StatusCreated {
		t.Fatalf("createChildTest: expected 201, got %d, body=%v", code, body)
	}

	child := body["data"].(map[string]interface{})["child"].(map[string]interface{})
	qrToken, _ := child["qr_code_data"].(string)
	if qrToken == "" {
		t.Fatalf("createChildTest: qr token empty")
	}
	return uint(child["id"].(float64)), qrToken
}

func createSubscriptionTest(t *testing.T, r *gin.Engine, token string, childID uint) (uint, uint) {
	code, body := request(t, r, "POST", "/subscriptions", token, map[string]interface{}{
		"child_id":       childID,
		"plan_type":      "weekly",
		"meal_type":      "lunch",
		"payment_method": "upi",
	})
	if code != http.StatusCreated {
		t.Fatalf("createSubscriptionTest: expected 201, got %d, body=%v", code, body)
	}

	data := body["data"].(map[string]interface{})
	sub := data["subscription"].(map[string]interface{})
	payment := data["payment"].(map[string]interface{})
	if sub["status"] != "active" {
		t.Fatalf("createSubscriptionTest: expected subscription active, got %v", sub["status"])
	}
	if sub["price"].(float64) != 525.0 {
		t.Fatalf("createSubscriptionTest: expected price 525, got %v", sub["price"])
	}
	if payment["status"] != "pending" {
		t.Fatalf("createSubscriptionTest: expected payment pending, got %v", payment["status"])
	}
	return uint(sub["id"].(float64)), uint(payment["id"].(float64))
}

func scanAndDeliverTest(t *testing.T, r *gin.Engine, token, qrToken string) {
	code, body := request(t, r, "POST", "/deliveries/verify-and-deliver", token, map[string]interface{}{
		"qr_code_data": qrToken,
		"meal_type":    "lunch",
	})
	if code != http.StatusOK {
		t.Fatalf("scanAndDeliverTest: expected 200, got %d, body=%v", code, body)
	}
	delivery := body["data"].(map[string]interface{})["delivery"].(map[string]interface{})
	if delivery["status"] != "delivered" {
		t.Fatalf("scanAndDeliverTest: expected delivered, got %v", delivery["status"])
	}
	if delivery["qr_scanned"] != true {
		t.Fatalf("scanAndDeliverTest: expected qr_scanned=true")
	}

	// The meal is already served; a repeat scan finds nothing pending.
	code, body = request(t, r, "POST", "/deliveries/verify-and-deliver", token, map[string]interface{}{
		"qr_code_data": qrToken,
		"meal_type":    "lunch",
	})
	if code != http.StatusNotFound {
		t.Fatalf("scanAndDeliverTest repeat: expected 404, got %d, body=%v", code, body)
	}
}

func waitForPaymentCompleted(t *testing.T, r *gin.Engine, token string, paymentID uint) {
	url := "/payments/" + strconv.FormatUint(uint64(paymentID), 10)
	deadline := time.Now().Add(3 * time.Second)
	var last interface{}
	for time.Now().Before(deadline) {
		code, body := request(t, r, "GET", url, token, nil)
		if code != http.StatusOK {
			t.Fatalf("waitForPaymentCompleted: expected 200, got %d, body=%v", code, body)
		}
		payment := body["data"].(map[string]interface{})["payment"].(map[string]interface{})
		last = payment["status"]
		if payment["status"] == "completed" {
			if payment["transaction_id"] == "" {
				t.Fatalf("waitForPaymentCompleted: transaction id empty")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("waitForPaymentCompleted: payment never completed, last status %v", last)
}

func pauseAndCancelTest(t *testing.T, r *gin.Engine, token string, subID uint) {
	url := "/subscriptions/" + strconv.FormatUint(uint64(subID), 10)

	code, body := request(t, r, "PUT", url+"/pause", token, map[string]interface{}{
		"reason": "exam week",
	})
	if code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d, body=%v", code, body)
	}

	code, body = request(t, r, "PUT", url+"/cancel", token, map[string]interface{}{
		"reason": "switching schools",
	})
	if code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d, body=%v", code, body)
	}

	// Terminal state: nothing moves a cancelled subscription.
	code, body = request(t, r, "PUT", url+"/resume", token, nil)
	if code != http.StatusConflict {
		t.Fatalf("resume after cancel: expected 409, got %d, body=%v", code, body)
	}
}
