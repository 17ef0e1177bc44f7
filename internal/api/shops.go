/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
)

type shopCreateRequest struct {
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	AccessToken    string `json:"access_token"`
	BlogID         string `json:"blog_id"`
	Timezone       string `json:"timezone"`
	MinLeadMinutes int    `json:"min_lead_minutes"`
}

type shopUpdateRequest struct {
	Name           *string `json:"name"`
	AccessToken    *string `json:"access_token"`
	BlogID         *string `json:"blog_id"`
	Timezone       *string `json:"timezone"`
	MinLeadMinutes *int    `json:"min_lead_minutes"`
}

// shopResponse omits the Admin API access token.
type shopResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Domain         string    `json:"domain"`
	BlogID         string    `json:"blog_id"`
	Timezone       string    `json:"timezone"`
	MinLeadMinutes int       `json:"min_lead_minutes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toShopResponse(s models.Shop) shopResponse {
	return shopResponse{
		ID:             s.ID,
		Name:           s.Name,
		Domain:         s.Domain,
		BlogID:         s.BlogID,
		Timezone:       s.Timezone,
		MinLeadMinutes: s.MinLeadMinutes,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// validateShopTimezone rejects zone ids the resolver would refuse at
// schedule time, so a bad default never reaches the scheduling form.
func (a *API) validateShopTimezone(zone string) bool {
	if zone == "" {
		return true
	}
	_, err := a.converter.ToLocalDisplay(time.Now().UTC(), zone)
	return err == nil
}

func (a *API) handleShopsList(w http.ResponseWriter, r *http.Request) {
	var shops []models.Shop
	if err := a.db.WithContext(r.Context()).Order("name ASC").Find(&shops).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list shops")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]shopResponse, len(shops))
	for i, shop := range shops {
		response[i] = toShopResponse(shop)
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleShopsCreate(w http.ResponseWriter, r *http.Request) {
	var req shopCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if !strings.HasSuffix(req.Domain, ".myshopify.com") {
		writeError(w, http.StatusBadRequest, "invalid_domain")
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token_required")
		return
	}
	if !a.validateShopTimezone(req.Timezone) {
		writeError(w, http.StatusBadRequest, "unknown_timezone")
		return
	}
	if req.MinLeadMinutes < 0 {
		writeError(w, http.StatusBadRequest, "invalid_min_lead_minutes")
		return
	}

	shop := models.Shop{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Domain:         req.Domain,
		AccessToken:    req.AccessToken,
		BlogID:         req.BlogID,
		Timezone:       req.Timezone,
		MinLeadMinutes: req.MinLeadMinutes,
	}
	if err := a.db.WithContext(r.Context()).Create(&shop).Error; err != nil {
		a.logger.Error().Err(err).Str("domain", req.Domain).Msg("failed to create shop")
		writeError(w, http.StatusConflict, "shop_exists")
		return
	}

	a.publishAuditEvent(r, events.EventAuditShopCreate, events.Payload{
		"shop_id":       shop.ID,
		"resource_type": "shop",
		"resource_id":   shop.ID,
		"domain":        shop.Domain,
	})

	writeJSON(w, http.StatusCreated, toShopResponse(shop))
}

func (a *API) handleShopsGet(w http.ResponseWriter, r *http.Request) {
	shop, ok := a.loadShop(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toShopResponse(shop))
}

func (a *API) handleShopsUpdate(w http.ResponseWriter, r *http.Request) {
	shop, ok := a.loadShop(w, r)
	if !ok {
		return
	}

	var req shopUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name_required")
			return
		}
		shop.Name = *req.Name
	}
	if req.AccessToken != nil && *req.AccessToken != "" {
		shop.AccessToken = *req.AccessToken
	}
	if req.BlogID != nil {
		shop.BlogID = *req.BlogID
	}
	if req.Timezone != nil {
		if !a.validateShopTimezone(*req.Timezone) {
			writeError(w, http.StatusBadRequest, "unknown_timezone")
			return
		}
		shop.Timezone = *req.Timezone
	}
	if req.MinLeadMinutes != nil {
		if *req.MinLeadMinutes < 0 {
			writeError(w, http.StatusBadRequest, "invalid_min_lead_minutes")
			return
		}
		shop.MinLeadMinutes = *req.MinLeadMinutes
	}

	if err := a.db.WithContext(r.Context()).Save(&shop).Error; err != nil {
		a.logger.Error().Err(err).Str("shop_id", shop.ID).Msg("failed to update shop")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditShopUpdate, events.Payload{
		"shop_id":       shop.ID,
		"resource_type": "shop",
		"resource_id":   shop.ID,
	})

	writeJSON(w, http.StatusOK, toShopResponse(shop))
}

func (a *API) handleShopsDelete(w http.ResponseWriter, r *http.Request) {
	shop, ok := a.loadShop(w, r)
	if !ok {
		return
	}

	// A shop with scheduled posts cannot be removed; the pending work must be
	// abandoned or dispatched first.
	var pending int64
	err := a.db.WithContext(r.Context()).
		Model(&models.Post{}).
		Where("shop_id = ? AND status = ?", shop.ID, scheduling.StatusScheduled).
		Count(&pending).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if pending > 0 {
		writeError(w, http.StatusConflict, "shop_has_scheduled_posts")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&shop).Error; err != nil {
		a.logger.Error().Err(err).Str("shop_id", shop.ID).Msg("failed to delete shop")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditShopDelete, events.Payload{
		"shop_id":       shop.ID,
		"resource_type": "shop",
		"resource_id":   shop.ID,
		"domain":        shop.Domain,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) loadShop(w http.ResponseWriter, r *http.Request) (models.Shop, bool) {
	shopID := chi.URLParam(r, "shopID")
	if shopID == "" {
		writeError(w, http.StatusBadRequest, "shop_id_required")
		return models.Shop{}, false
	}

	var shop models.Shop
	err := a.db.WithContext(r.Context()).First(&shop, "id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return models.Shop{}, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("shop_id", shopID).Msg("failed to load shop")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return models.Shop{}, false
	}
	return shop, true
}
