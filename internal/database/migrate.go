package database

import (
	"github.com/xpanvictor/migoto-coach/internal/repository/attempt"
	"gorm.io/gorm"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&attempt.AttemptEntity{},
	)
}
