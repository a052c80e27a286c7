package migrations

import (
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/audit"
	"gorm.io/gorm"
)

// AddAuditTrail creates the strategy transition log table
func AddAuditTrail(db *gorm.DB) error {
	if err := db.AutoMigrate(&audit.Entry{}); err != nil {
		return err
	}

	// Index for created_at timestamp (useful for time-based queries)
	return db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_entries_created_at
		 ON entries(created_at)`,
	).Error
}
