package router

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/controllers"
	"github.com/example/tiffinbox/middlewares"
	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/services"
)

// Services groups the constructed core services the routes delegate to.
type Services struct {
	Children      *services.ChildService
	Subscriptions *services.SubscriptionService
	Deliveries    *services.DeliveryService
	Payments      *services.PaymentService
}

func SetupRouter(db *gorm.DB, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares())
	r.Use(middlewares.LoggerMiddleware())

	authCtrl := controllers.NewAuthController(db)
	childCtrl := controllers.NewChildController(db, svc.Children)
	subCtrl := controllers.NewSubscriptionController(db, svc.Subscriptions, svc.Deliveries, svc.Payments)
	deliveryCtrl := controllers.NewDeliveryController(db, svc.Deliveries, svc.Children)
	paymentCtrl := controllers.NewPaymentController(db, svc.Payments)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	public := r.Group("/")
	public.Use(middlewares.NewStrictRateLimiter())
	{
		public.POST("/register", authCtrl.Register)
		public.POST("/login", authCtrl.Login)
	}

	// ----------------------------------------------------------------
	//                      PARENT ROUTES
	// ----------------------------------------------------------------
	parent := r.Group("/")
	parent.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(models.RoleParent))
	{
		parent.GET("/children", childCtrl.GetChildren)
		parent.POST("/children", childCtrl.CreateChild)
		parent.GET("/children/:child_id", childCtrl.GetChild)
		parent.PUT("/children/:child_id", childCtrl.UpdateChild)
		parent.DELETE("/children/:child_id", childCtrl.DeleteChild)
		parent.GET("/children/:child_id/qr-code", childCtrl.GetQRCode)

		parent.GET("/subscriptions", subCtrl.GetSubscriptions)
		parent.POST("/subscriptions", subCtrl.CreateSubscription)
		parent.POST("/subscriptions/calculate-price", subCtrl.CalculatePrice)
		parent.GET("/subscriptions/:subscription_id", subCtrl.GetSubscription)
		parent.PUT("/subscriptions/:subscription_id/pause", subCtrl.PauseSubscription)
		parent.PUT("/subscriptions/:subscription_id/resume", subCtrl.ResumeSubscription)
		parent.PUT("/subscriptions/:subscription_id/cancel", subCtrl.CancelSubscription)
		parent.GET("/subscriptions/child/:child_id/history", subCtrl.GetChildSubscriptionHistory)

		parent.GET("/payments", paymentCtrl.GetPayments)
		parent.GET("/payments/summary", paymentCtrl.GetPaymentSummary)
		parent.GET("/payments/:payment_id", paymentCtrl.GetPayment)
		parent.POST("/payments/process", paymentCtrl.ProcessPayment)
		parent.POST("/payments/:payment_id/refund-request", paymentCtrl.RequestRefund)

		parent.GET("/deliveries/today", deliveryCtrl.GetTodaysMeals)
		parent.GET("/deliveries/child/:child_id", deliveryCtrl.GetChildDeliveries)
		parent.GET("/deliveries/child/:child_id/upcoming", deliveryCtrl.GetUpcomingMeals)
	}

	// ----------------------------------------------------------------
	//                      AUTHENTICATED (ANY ROLE)
	// ----------------------------------------------------------------
	account := r.Group("/")
	account.Use(middlewares.AuthMiddleware())
	{
		account.GET("/profile", authCtrl.GetProfile)
		account.POST("/logout", authCtrl.Logout)
	}

	// ----------------------------------------------------------------
	//                      ADMIN ROUTES
	// ----------------------------------------------------------------
	admin := r.Group("/")
	admin.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(models.RoleAdmin))
	{
		admin.POST("/children/verify-qr", childCtrl.VerifyQRCode)

		admin.GET("/deliveries/admin/today", deliveryCtrl.GetTodaysBoard)
		admin.GET("/deliveries/admin/stats", deliveryCtrl.GetDeliveryStats)
		admin.POST("/deliveries/admin/create", deliveryCtrl.CreateDeliveries)
		admin.PUT("/deliveries/:delivery_id/delivered", deliveryCtrl.MarkDelivered)
		admin.PUT("/deliveries/:delivery_id/missed", deliveryCtrl.MarkMissed)
		admin.POST("/deliveries/verify-and-deliver", deliveryCtrl.VerifyAndDeliver)

		admin.POST("/subscriptions/admin/expire", subCtrl.ExpireSubscriptions)

		admin.GET("/ws", controllers.BoardHandler)
	}

	return r
}
