/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
)

type postCreateRequest struct {
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	BodyHTML string `json:"body_html"`
	Tags     string `json:"tags"`
	BlogID   string `json:"blog_id"`
}

type postUpdateRequest struct {
	Title    *string `json:"title"`
	Handle   *string `json:"handle"`
	BodyHTML *string `json:"body_html"`
	Tags     *string `json:"tags"`
	BlogID   *string `json:"blog_id"`
}

// postScheduleRequest carries the author's calendar choice. Date and time are
// separate strict fields; the timezone defaults to the shop's configured zone
// when omitted.
type postScheduleRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Surface  string `json:"surface"`
}

type postResponse struct {
	ID               string     `json:"id"`
	ShopID           string     `json:"shop_id"`
	BlogID           string     `json:"blog_id,omitempty"`
	AuthorID         string     `json:"author_id,omitempty"`
	Title            string     `json:"title"`
	Handle           string     `json:"handle,omitempty"`
	BodyHTML         string     `json:"body_html"`
	Tags             string     `json:"tags,omitempty"`
	Status           string     `json:"status"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	ScheduledLocal   string     `json:"scheduled_local,omitempty"`
	ScheduledZone    string     `json:"scheduled_zone,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	ShopifyArticleID string     `json:"shopify_article_id,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toPostResponse(p models.Post) postResponse {
	return postResponse{
		ID:               p.ID,
		ShopID:           p.ShopID,
		BlogID:           p.BlogID,
		AuthorID:         p.AuthorID,
		Title:            p.Title,
		Handle:           p.Handle,
		BodyHTML:         p.BodyHTML,
		Tags:             p.Tags,
		Status:           string(p.Status),
		ScheduledAt:      p.ScheduledAt,
		ScheduledLocal:   p.ScheduledLocal,
		ScheduledZone:    p.ScheduledZone,
		PublishedAt:      p.PublishedAt,
		ShopifyArticleID: p.ShopifyArticleID,
		LastError:        p.LastError,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (a *API) handlePostsList(w http.ResponseWriter, r *http.Request) {
	shop, ok := a.loadShop(w, r)
	if !ok {
		return
	}

	query := a.db.WithContext(r.Context()).Where("shop_id = ?", shop.ID)

	if status := r.URL.Query().Get("status"); status != "" {
		if !scheduling.ValidStatus(scheduling.Status(status)) {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		query = query.Where("status = ?", status)
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	var posts []models.Post
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error; err != nil {
		a.logger.Error().Err(err).Str("shop_id", shop.ID).Msg("failed to list posts")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]postResponse, len(posts))
	for i, post := range posts {
		response[i] = toPostResponse(post)
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handlePostsCreate(w http.ResponseWriter, r *http.Request) {
	shop, ok := a.loadShop(w, r)
	if !ok {
		return
	}

	var req postCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}

	post := models.Post{
		ID:       uuid.NewString(),
		ShopID:   shop.ID,
		BlogID:   req.BlogID,
		Title:    req.Title,
		Handle:   req.Handle,
		BodyHTML: req.BodyHTML,
		Tags:     req.Tags,
		Status:   scheduling.StatusDraft,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		post.AuthorID = claims.UserID
	}

	if err := a.db.WithContext(r.Context()).Create(&post).Error; err != nil {
		a.logger.Error().Err(err).Str("shop_id", shop.ID).Msg("failed to create post")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditPostCreate, events.Payload{
		"shop_id":       shop.ID,
		"resource_type": "post",
		"resource_id":   post.ID,
		"title":         post.Title,
	})

	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

func (a *API) handlePostsGet(w http.ResponseWriter, r *http.Request) {
	post, ok := a.loadPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

func (a *API) handlePostsUpdate(w http.ResponseWriter, r *http.Request) {
	post, ok := a.loadPost(w, r)
	if !ok {
		return
	}

	// Content edits are limited to posts that are not queued or live. A
	// scheduled post must be rescheduled or the article edited in Shopify.
	if post.Status != scheduling.StatusDraft && post.Status != scheduling.StatusFailed {
		writeError(w, http.StatusConflict, "post_not_editable")
		return
	}

	var req postUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Title != nil {
		if *req.Title == "" {
			writeError(w, http.StatusBadRequest, "title_required")
			return
		}
		post.Title = *req.Title
	}
	if req.Handle != nil {
		post.Handle = *req.Handle
	}
	if req.BodyHTML != nil {
		post.BodyHTML = *req.BodyHTML
	}
	if req.Tags != nil {
		post.Tags = *req.Tags
	}
	if req.BlogID != nil {
		post.BlogID = *req.BlogID
	}

	if err := a.db.WithContext(r.Context()).Save(&post).Error; err != nil {
		a.logger.Error().Err(err).Str("post_id", post.ID).Msg("failed to update post")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handlePostSchedule schedules a draft or failed post, or moves an already
// scheduled post to a new instant. The author's date, time, and zone are
// converted to a single UTC instant; only that instant drives dispatch.
func (a *API) handlePostSchedule(w http.ResponseWriter, r *http.Request) {
	post, ok := a.loadPost(w, r)
	if !ok {
		return
	}

	var shop models.Shop
	if err := a.db.WithContext(r.Context()).First(&shop, "id = ?", post.ShopID).Error; err != nil {
		a.logger.Error().Err(err).Str("post_id", post.ID).Msg("failed to load shop for scheduling")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	var req postScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	zone := req.Timezone
	if zone == "" {
		zone = shop.Timezone
	}

	wc, err := scheduling.ParseWallClock(req.Date, req.Time)
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusBadRequest, "invalid_schedule")
		}
		return
	}

	at, err := a.converter.ToUTC(wc, zone)
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusBadRequest, "invalid_schedule")
		}
		return
	}

	wasScheduled := post.Status == scheduling.StatusScheduled

	snapshot, err := post.Schedule().Schedule(scheduling.ScheduleRequest{
		At:             at,
		Local:          wc,
		Zone:           zone,
		MinLeadMinutes: a.leadMinutesFor(&shop, req.Surface),
	}, a.now().UTC())
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusBadRequest, "invalid_schedule")
		}
		return
	}
	post.ApplySchedule(snapshot)
	post.LastError = ""

	if err := a.db.WithContext(r.Context()).Save(&post).Error; err != nil {
		a.logger.Error().Err(err).Str("post_id", post.ID).Msg("failed to persist schedule")
		writeError(w, http.StatusInternalServerError, "schedule_failed")
		return
	}

	eventType := events.EventPostScheduled
	if wasScheduled {
		eventType = events.EventPostRescheduled
	}
	a.publishAuditEvent(r, eventType, events.Payload{
		"shop_id":         post.ShopID,
		"resource_type":   "post",
		"resource_id":     post.ID,
		"scheduled_at":    at.UTC().Format(time.RFC3339),
		"scheduled_local": snapshot.ScheduledLocal,
		"scheduled_zone":  snapshot.ScheduledZone,
	})

	a.logger.Info().
		Str("post", post.ID).
		Str("local", snapshot.ScheduledLocal).
		Str("zone", snapshot.ScheduledZone).
		Time("at", at.UTC()).
		Msg("post scheduled")

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handlePostAbandon returns a failed post to draft so it can be edited and
// rescheduled from scratch.
func (a *API) handlePostAbandon(w http.ResponseWriter, r *http.Request) {
	post, ok := a.loadPost(w, r)
	if !ok {
		return
	}

	snapshot, err := post.Schedule().Abandon()
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusConflict, "invalid_transition")
		}
		return
	}
	post.ApplySchedule(snapshot)
	post.LastError = ""

	if err := a.db.WithContext(r.Context()).Save(&post).Error; err != nil {
		a.logger.Error().Err(err).Str("post_id", post.ID).Msg("failed to abandon post")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publishAuditEvent(r, events.EventPostAbandoned, events.Payload{
		"shop_id":       post.ShopID,
		"resource_type": "post",
		"resource_id":   post.ID,
	})

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

type schedulePreviewRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Surface  string `json:"surface"`
	ShopID   string `json:"shop_id"`
}

type schedulePreviewResponse struct {
	ScheduledAt    time.Time `json:"scheduled_at"`
	ScheduledLocal string    `json:"scheduled_local"`
	ScheduledZone  string    `json:"scheduled_zone"`
	MinLeadMinutes int       `json:"min_lead_minutes"`
	Schedulable    bool      `json:"schedulable"`
	Reason         string    `json:"reason,omitempty"`
}

// handleSchedulePreview runs the wall-clock conversion without touching any
// post, so scheduling forms can echo the resolved UTC instant as the user
// types. Parse and zone failures are reported the same way the real schedule
// call reports them.
func (a *API) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var shop *models.Shop
	zone := req.Timezone
	if req.ShopID != "" {
		var loaded models.Shop
		err := a.db.WithContext(r.Context()).First(&loaded, "id = ?", req.ShopID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query_failed")
			return
		}
		shop = &loaded
		if zone == "" {
			zone = loaded.Timezone
		}
	}

	wc, err := scheduling.ParseWallClock(req.Date, req.Time)
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusBadRequest, "invalid_schedule")
		}
		return
	}

	at, err := a.converter.ToUTC(wc, zone)
	if err != nil {
		if !writeSchedulingError(w, err) {
			writeError(w, http.StatusBadRequest, "invalid_schedule")
		}
		return
	}

	lead := a.leadMinutesFor(shop, req.Surface)
	resp := schedulePreviewResponse{
		ScheduledAt:    at.UTC(),
		ScheduledLocal: wc.String(),
		ScheduledZone:  zone,
		MinLeadMinutes: lead,
		Schedulable:    true,
	}

	if err := scheduling.Validate(at, a.now().UTC(), lead); err != nil {
		resp.Schedulable = false
		var schedErr *scheduling.SchedulingError
		if errors.As(err, &schedErr) {
			resp.Reason = string(schedErr.Reason)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) loadPost(w http.ResponseWriter, r *http.Request) (models.Post, bool) {
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "post_id_required")
		return models.Post{}, false
	}

	var post models.Post
	err := a.db.WithContext(r.Context()).First(&post, "id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return models.Post{}, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("post_id", postID).Msg("failed to load post")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return models.Post{}, false
	}
	return post, true
}
