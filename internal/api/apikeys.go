/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/events"
)

type apiKeyCreateRequest struct {
	Name      string `json:"name"`
	ExpiresIn int    `json:"expires_in_days"`
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db, claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list api keys")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (a *API) handleAPIKeysCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = 90
	}

	plaintext, key, err := auth.GenerateAPIKey(claims.UserID, req.Name, time.Duration(req.ExpiresIn)*24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to generate api key")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}
	if err := a.db.WithContext(r.Context()).Create(key).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to store api key")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"resource_type": "api_key",
		"resource_id":   key.ID,
		"key_name":      key.Name,
	})

	// The plaintext key is shown exactly once.
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": key,
		"key":     plaintext,
	})
}

func (a *API) handleAPIKeysRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := auth.RevokeAPIKey(a.db, keyID, claims.UserID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Str("key_id", keyID).Msg("failed to revoke api key")
		writeError(w, http.StatusInternalServerError, "revoke_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"resource_type": "api_key",
		"resource_id":   keyID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
