package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/config"
	"github.com/example/tiffinbox/database"
	"github.com/example/tiffinbox/middlewares"
	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/router"
	"github.com/example/tiffinbox/services"
	"github.com/example/tiffinbox/utils"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or error loading: %v", err)
	}

	utils.InfoLogger = logrus.New()
	utils.ErrorLogger = logrus.New()

	utils.InfoLogger.SetOutput(os.Stdout)
	utils.ErrorLogger.SetOutput(os.Stderr)

	utils.InfoLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
	utils.ErrorLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
}

func main() {
	cfg := config.Load()

	db, err := config.InitDB()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	utils.InitDB(db)

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	autoMigrate(db)

	gateway := services.NewSimulatedGateway(&services.GatewayConfig{
		Name:        "demo",
		MerchantID:  "tiffinbox-demo",
		SettleDelay: time.Duration(cfg.GatewaySettleMs) * time.Millisecond,
	})
	if err := gateway.ValidateConfig(); err != nil {
		utils.ErrorLogger.Fatalf("Invalid gateway config: %v", err)
	}

	svc := router.Services{
		Children:      services.NewChildService(db),
		Subscriptions: services.NewSubscriptionService(db, services.DefaultPriceTable()),
		Deliveries:    services.NewDeliveryService(db),
		Payments:      services.NewPaymentService(db, gateway),
	}

	// Expiry sweep + daily materialization run off this ticker; deployments
	// with a real cron can set the interval high and call the admin trigger.
	scheduler := services.NewScheduler(db, svc.Subscriptions, svc.Deliveries)
	scheduler.Interval = cfg.SchedulerInterval
	scheduler.Start()
	defer scheduler.Stop()

	sweeperStop := make(chan struct{})
	defer close(sweeperStop)
	svc.Payments.StartPendingSweeper(time.Minute, sweeperStop)

	r := router.SetupRouter(db, svc)

	rateLimiter := middlewares.NewRateLimiter(50, 1)
	r.Use(rateLimiter.RateLimit())

	r.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	utils.InfoLogger.Printf("Listening on port %s", cfg.AppPort)
	if err := r.Run(":" + cfg.AppPort); err != nil {
		utils.ErrorLogger.Fatal(err)
	}
}

func autoMigrate(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.User{},
		&models.Child{},
		&models.Subscription{},
		&models.Delivery{},
		&models.Payment{},
	)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")

	if err := database.EnsureConstraints(db); err != nil {
		utils.ErrorLogger.Printf("Error ensuring constraints: %v", err)
	}
}
