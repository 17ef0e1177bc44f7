/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/models"
)

type userCreateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) handleUsersList(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := a.db.WithContext(r.Context()).Order("created_at ASC").Find(&users).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list users")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]userResponse, len(users))
	for i, u := range users {
		response[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email_required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}

	role := models.RoleName(req.Role)
	if role == "" {
		role = models.RoleEditor
	}
	if role != models.RoleAdmin && role != models.RoleEditor {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to hash password")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    req.Email,
		Password: hash,
		Role:     role,
	}
	if err := a.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		a.logger.Error().Err(err).Str("email", req.Email).Msg("failed to create user")
		writeError(w, http.StatusConflict, "user_exists")
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}
