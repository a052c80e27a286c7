package migrations

import (
	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
	"gorm.io/gorm"
)

// AddOrderLedger creates the order records table and the indexes the engine
// relies on at startup and during monitor sweeps.
func AddOrderLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.OrderRecord{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the monitor's open-order scan
		`CREATE INDEX IF NOT EXISTS idx_order_records_instance_status
		 ON order_records(instance_id, status)`,

		// Index for symbol lookups
		`CREATE INDEX IF NOT EXISTS idx_order_records_symbol
		 ON order_records(symbol)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
