package migrations

import (
	"github.com/c3ll256/etsy-helper-server-sub000/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_stamp_templates",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.StampTemplateModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.StampTemplateModel{})
			},
		},
		{
			ID: "000002_create_orders",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OrderModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
					`CREATE INDEX IF NOT EXISTS idx_orders_owner_id ON orders (owner_id)`,
					`CREATE INDEX IF NOT EXISTS idx_orders_search_key ON orders (search_key)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OrderModel{})
			},
		},
		{
			ID: "000003_create_order_details",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OrderDetailModel{}); err != nil {
					return err
				}
				// The dedupe key index is deliberately non-unique: the
				// application-level existence checkpoints own duplicate
				// resolution, including deletion of abandoned chains.
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_order_details_dedupe ON order_details (transaction_id, sku)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OrderDetailModel{})
			},
		},
		{
			ID: "000004_create_stamp_generation_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.StampGenerationRecordModel{}); err != nil {
					return err
				}
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_stamp_records_order_id ON stamp_generation_records (order_id)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.StampGenerationRecordModel{})
			},
		},
	})

	return m.Migrate()
}
