package ledger

import (
	"errors"

	"gorm.io/gorm"

	"github.com/Loki588/Laukik-Jadhav-Binance-Bot/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(record *types.OrderRecord) error {
	return d.db.Create(record).Error
}

func (d *Database) SaveOrder(record *types.OrderRecord) error {
	return d.db.Save(record).Error
}

func (d *Database) GetOrderByToken(token string) (*types.OrderRecord, error) {
	var record types.OrderRecord
	if err := d.db.Where("token = ?", token).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetOrderByExchangeID(exchangeID int64) (*types.OrderRecord, error) {
	var record types.OrderRecord
	if err := d.db.Where("exchange_id = ?", exchangeID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetOrdersByInstance(instanceID string) ([]types.OrderRecord, error) {
	var records []types.OrderRecord
	if err := d.db.Where("instance_id = ?", instanceID).Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetAllOrders loads every record, insertion order, for startup recovery.
func (d *Database) GetAllOrders() ([]types.OrderRecord, error) {
	var records []types.OrderRecord
	if err := d.db.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
