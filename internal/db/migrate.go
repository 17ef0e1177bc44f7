/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/skald_publish/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Platform-level models
		&models.User{},
		&models.APIKey{},
		&models.AuditLog{},

		// Shop-level models
		&models.Shop{},
		&models.Post{},
		&models.PublishAttempt{},
	); err != nil {
		return err
	}

	if err := applyPostgresScheduledAtGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresScheduledAtGuard enforces at the storage layer that a post
// carries a scheduled instant exactly when its status is "scheduled". The
// application maintains this invariant; the constraint catches writes that
// bypass the transition functions.
func applyPostgresScheduledAtGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
ALTER TABLE posts DROP CONSTRAINT IF EXISTS chk_posts_scheduled_at_presence;

ALTER TABLE posts ADD CONSTRAINT chk_posts_scheduled_at_presence
CHECK (
  (status = 'scheduled' AND scheduled_at IS NOT NULL)
  OR (status <> 'scheduled' AND scheduled_at IS NULL)
);
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres scheduled_at guard: %w", err)
	}

	return nil
}
