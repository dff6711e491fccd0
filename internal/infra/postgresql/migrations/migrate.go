package migrations

import (
	"github.com/aydintuna/sms-router/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createPhoneMappingsTable(),
		createUsageLogTable(),
	})

	return m.Migrate()
}

func createPhoneMappingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_phone_mappings",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PhoneMappingModel{}); err != nil {
				return err
			}
			indexes := []string{
				// At most one ACTIVE mapping per phone number; inactive rows
				// stay behind for audit.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_phone_mappings_active_phone ON phone_mappings (phone_number) WHERE status = 'ACTIVE'`,
				`CREATE INDEX IF NOT EXISTS idx_phone_mappings_user_id ON phone_mappings (user_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PhoneMappingModel{})
		},
	}
}

func createUsageLogTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_usage_log_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UsageLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Durable webhook-replay backstop behind the Redis cache.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_log_inbound_provider_id ON usage_log_entries (provider_message_id) WHERE direction = 'INBOUND' AND provider_message_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_usage_log_outbound_provider_id ON usage_log_entries (provider_message_id) WHERE direction = 'OUTBOUND' AND provider_message_id IS NOT NULL`,
				// Retry scan path.
				`CREATE INDEX IF NOT EXISTS idx_usage_log_retry ON usage_log_entries (next_retry_at) WHERE final_status = 'PENDING_RETRY'`,
				`CREATE INDEX IF NOT EXISTS idx_usage_log_claimed ON usage_log_entries (updated_at) WHERE final_status = 'RETRYING'`,
				// Analytics rollups.
				`CREATE INDEX IF NOT EXISTS idx_usage_log_user_created ON usage_log_entries (user_id, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UsageLogModel{})
		},
	}
}
