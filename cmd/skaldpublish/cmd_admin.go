/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/db"
	"github.com/friendsincode/skald_publish/internal/models"
)

var adminEmail string

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin user",
	Long: `Create an admin user for the dashboard and API.

The password is read from the terminal, never from flags, so it does not
land in shell history.

Example:
  skaldpublish create-admin --email ops@example.com`,
	RunE: runCreateAdmin,
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "Email address for the admin account")
	_ = createAdminCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(createAdminCmd)
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	email := strings.TrimSpace(strings.ToLower(adminEmail))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", adminEmail)
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: hash,
		Role:     models.RoleAdmin,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	logger.Info().Str("email", email).Str("id", user.ID).Msg("admin user created")
	return nil
}
