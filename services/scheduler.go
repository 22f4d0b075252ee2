package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/example/tiffinbox/utils"
)

// Scheduler is the periodic driver for the batch operations the core does
// not schedule itself: expiring overdue subscriptions and materializing the
// current day's deliveries. It stands in for an external cron in deployments
// that do not have one.
type Scheduler struct {
	db            *gorm.DB
	subscriptions *SubscriptionService
	deliveries    *DeliveryService
	Interval      time.Duration
	stop          chan struct{}
}

func NewScheduler(db *gorm.DB, subs *SubscriptionService, deliveries *DeliveryService) *Scheduler {
	return &Scheduler{
		db:            db,
		subscriptions: subs,
		deliveries:    deliveries,
		Interval:      time.Hour,
		stop:          make(chan struct{}),
	}
}

func (sc *Scheduler) Start() {
	go sc.run()
	utils.InfoLogger.Printf("Scheduler started (interval %s)", sc.Interval)
}

func (sc *Scheduler) Stop() {
	close(sc.stop)
}

func (sc *Scheduler) run() {
	// First pass immediately so a restart does not wait a full interval.
	sc.Tick()

	ticker := time.NewTicker(sc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Tick()
		case <-sc.stop:
			return
		}
	}
}

// Tick runs one sweep: expire, then materialize today. Expiry first so a
// subscription that lapsed since the last tick gets no delivery today.
func (sc *Scheduler) Tick() {
	if _, err := sc.subscriptions.ExpireOldSubscriptions(); err != nil {
		utils.ErrorLogger.Printf("Scheduler: expire sweep failed: %v", err)
	}
	if _, err := sc.deliveries.MaterializeForDate(time.Now()); err != nil {
		utils.ErrorLogger.Printf("Scheduler: delivery materialization failed: %v", err)
	}
	utils.CleanupBlacklist()
}
