/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/heimdall_tsn/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.User{},
		&models.APIKey{},

		&models.Schedule{},
		&models.Run{},
		&models.Violation{},
		&models.LatencySummary{},

		&models.AuditLog{},
		&models.WebhookTarget{},
		&models.WebhookLog{},
	)
}
