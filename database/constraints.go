package database

import (
	"strings"

	"github.com/example/tiffinbox/utils"
	"gorm.io/gorm"
)

// Schema-level guards the request path relies on. AutoMigrate creates these
// from model tags; EnsureConstraints re-asserts them so a hand-managed
// production schema cannot silently drop the race protection.
var constraintIndexes = []struct {
	Table string
	Name  string
	DDL   string
}{
	{
		Table: "deliveries",
		Name:  "idx_child_date_meal",
		DDL:   "CREATE UNIQUE INDEX idx_child_date_meal ON deliveries (child_id, delivery_date, meal_type)",
	},
	{
		Table: "subscriptions",
		Name:  "idx_subscriptions_active_child_id",
		DDL:   "CREATE UNIQUE INDEX idx_subscriptions_active_child_id ON subscriptions (active_child_id)",
	},
	{
		Table: "payments",
		Name:  "idx_payments_open_subscription_id",
		DDL:   "CREATE UNIQUE INDEX idx_payments_open_subscription_id ON payments (open_subscription_id)",
	},
	{
		Table: "children",
		Name:  "idx_children_qr_code_data",
		DDL:   "CREATE UNIQUE INDEX idx_children_qr_code_data ON children (qr_code_data)",
	},
}

// EnsureConstraints creates any missing uniqueness guard and logs what is in
// place. Errors on individual statements are logged and skipped so an
// already-present index never blocks startup.
func EnsureConstraints(db *gorm.DB) error {
	for _, idx := range constraintIndexes {
		if db.Migrator().HasIndex(idx.Table, idx.Name) {
			continue
		}
		if err := db.Exec(idx.DDL).Error; err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") ||
				strings.Contains(strings.ToLower(err.Error()), "already exists") {
				continue
			}
			utils.ErrorLogger.Printf("Error creating index %s on %s: %v", idx.Name, idx.Table, err)
			continue
		}
		utils.InfoLogger.Printf("Created unique index %s on %s", idx.Name, idx.Table)
	}

	for _, idx := range constraintIndexes {
		if !db.Migrator().HasIndex(idx.Table, idx.Name) {
			utils.ErrorLogger.Printf("Uniqueness guard missing: %s on %s", idx.Name, idx.Table)
		} else {
			utils.InfoLogger.Printf("Uniqueness guard verified: %s on %s", idx.Name, idx.Table)
		}
	}

	return nil
}
