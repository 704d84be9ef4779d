package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/rti-portal/internal/repository"
	"gorm.io/gorm"
)

func createRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RequestModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_requests_user_id ON requests (user_id)`,
				`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RequestModel{})
		},
	}
}
