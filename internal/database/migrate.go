package database

import (
	"github.com/kaspernux/1000proxy-sub002/internal/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Server{},
		&model.ServerInbound{},
		&model.ServerClient{},
	)
}
