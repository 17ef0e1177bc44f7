/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/config"
	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
)

// testNow is the fixed clock for lead-time checks: June 14 2025, noon UTC.
var testNow = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

func newTestAPI(t *testing.T) (*API, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Shop{}, &models.Post{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	converter := scheduling.NewConverter(scheduling.NewLocationResolver())
	a := New(db, []byte("test-secret"), converter, config.DefaultPublishPolicy(), nil, events.NewBus(), zerolog.Nop())
	a.now = func() time.Time { return testNow }
	return a, db
}

func seedShop(t *testing.T, db *gorm.DB, timezone string) models.Shop {
	t.Helper()

	shop := models.Shop{
		ID:          uuid.NewString(),
		Name:        "Demo " + uuid.NewString()[:8],
		Domain:      uuid.NewString()[:8] + ".myshopify.com",
		AccessToken: "shpat_test",
		BlogID:      "42",
		Timezone:    timezone,
	}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("seed shop: %v", err)
	}
	return shop
}

func seedPost(t *testing.T, db *gorm.DB, shopID string, status scheduling.Status) models.Post {
	t.Helper()

	post := models.Post{
		ID:       uuid.NewString(),
		ShopID:   shopID,
		Title:    "Summer Sale",
		BodyHTML: "<p>hello</p>",
		Status:   status,
	}
	if err := db.Create(&post).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return post
}

// request builds an authenticated editor request with chi URL parameters and
// runs the handler against a recorder.
func request(handler http.HandlerFunc, method, target, body string, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))

	routeCtx := chi.NewRouteContext()
	for key, value := range params {
		routeCtx.URLParams.Add(key, value)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: "u1",
		Roles:  []string{string(models.RoleEditor)},
	}))

	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodePost(t *testing.T, rr *httptest.ResponseRecorder) postResponse {
	t.Helper()
	var resp postResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rr.Body.String())
	}
	return resp
}

func TestHandlePostSchedule(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "America/New_York")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-15","time":"14:30","timezone":"America/New_York"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	resp := decodePost(t, rr)
	if resp.Status != string(scheduling.StatusScheduled) {
		t.Fatalf("status = %q, want scheduled", resp.Status)
	}
	want := time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC)
	if resp.ScheduledAt == nil || !resp.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", resp.ScheduledAt, want)
	}
	if resp.ScheduledLocal != "2025-06-15 14:30" {
		t.Fatalf("scheduled_local = %q", resp.ScheduledLocal)
	}
	if resp.ScheduledZone != "America/New_York" {
		t.Fatalf("scheduled_zone = %q", resp.ScheduledZone)
	}

	var stored models.Post
	if err := db.First(&stored, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if stored.ScheduledAt == nil || !stored.ScheduledAt.UTC().Equal(want) {
		t.Fatalf("stored scheduled_at = %v, want %v", stored.ScheduledAt, want)
	}
}

func TestHandlePostScheduleDefaultsToShopTimezone(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "Europe/Paris")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-15","time":"09:00"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodePost(t, rr)
	if resp.ScheduledZone != "Europe/Paris" {
		t.Fatalf("scheduled_zone = %q, want shop default", resp.ScheduledZone)
	}
	// Paris summer time is UTC+2.
	want := time.Date(2025, 6, 15, 7, 0, 0, 0, time.UTC)
	if resp.ScheduledAt == nil || !resp.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", resp.ScheduledAt, want)
	}
}

func TestHandlePostScheduleRejectsUnknownZone(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "America/New_York")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-15","time":"14:30","timezone":"Mars/Olympus_Mons"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "unknown_timezone") {
		t.Fatalf("body = %s", rr.Body.String())
	}

	var stored models.Post
	if err := db.First(&stored, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if stored.Status != scheduling.StatusDraft {
		t.Fatalf("post left draft state on rejected schedule: %q", stored.Status)
	}
}

func TestHandlePostScheduleRejectsMalformedInput(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "America/New_York")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing zero padding", `{"date":"2025-6-15","time":"14:30"}`, "invalid_date"},
		{"impossible date", `{"date":"2025-02-30","time":"14:30"}`, "invalid_date"},
		{"twelve hour clock", `{"date":"2025-06-15","time":"2:30"}`, "invalid_time"},
		{"out of range time", `{"date":"2025-06-15","time":"24:00"}`, "invalid_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
				tt.body, map[string]string{"postID": post.ID})
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.code) {
				t.Fatalf("body = %s, want %s", rr.Body.String(), tt.code)
			}
		})
	}
}

func TestHandlePostScheduleRejectsGapTime(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "America/New_York")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	// Clock must sit before the gap for the lead check to be reachable.
	a.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	// 02:30 on March 9 2024 does not exist in New York; clocks jump from
	// 02:00 to 03:00.
	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2024-03-10","time":"02:30","timezone":"America/New_York"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_date") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHandlePostScheduleLeadTime(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	// One minute ahead of the fixed clock violates the two minute default.
	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-14","time":"12:01","timezone":"UTC"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var errResp struct {
		Error          string `json:"error"`
		MinLeadMinutes int    `json:"min_lead_minutes"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error != "too_soon" || errResp.MinLeadMinutes != 2 {
		t.Fatalf("error = %+v", errResp)
	}

	// Exactly at the boundary is accepted.
	rr = request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-14","time":"12:02","timezone":"UTC"}`,
		map[string]string{"postID": post.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("boundary schedule status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandlePostScheduleShopLeadOverride(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	shop.MinLeadMinutes = 60
	if err := db.Save(&shop).Error; err != nil {
		t.Fatalf("update shop: %v", err)
	}
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	// Ten minutes out satisfies the default but not the shop override.
	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-14","time":"12:10","timezone":"UTC"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"min_lead_minutes":60`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHandlePostScheduleReschedule(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "America/New_York")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-15","time":"14:30"}`,
		map[string]string{"postID": post.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("first schedule status = %d", rr.Code)
	}

	rescheduled := a.bus.Subscribe(events.EventPostRescheduled)

	rr = request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-16","time":"09:00"}`,
		map[string]string{"postID": post.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("reschedule status = %d body=%s", rr.Code, rr.Body.String())
	}

	resp := decodePost(t, rr)
	want := time.Date(2025, 6, 16, 13, 0, 0, 0, time.UTC)
	if resp.ScheduledAt == nil || !resp.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", resp.ScheduledAt, want)
	}

	select {
	case payload := <-rescheduled:
		if payload["resource_id"] != post.ID {
			t.Fatalf("event resource_id = %v", payload["resource_id"])
		}
	default:
		t.Fatal("expected post.rescheduled event")
	}
}

func TestHandlePostScheduleRejectsPublishedPost(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	post := seedPost(t, db, shop.ID, scheduling.StatusPublished)

	rr := request(a.handlePostSchedule, "POST", "/api/v1/posts/"+post.ID+"/schedule",
		`{"date":"2025-06-15","time":"14:30","timezone":"UTC"}`,
		map[string]string{"postID": post.ID})

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_transition") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHandlePostAbandon(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	post := seedPost(t, db, shop.ID, scheduling.StatusFailed)
	post.LastError = "shopify api: status 422"
	post.ScheduledLocal = "2025-06-15 14:30"
	post.ScheduledZone = "UTC"
	if err := db.Save(&post).Error; err != nil {
		t.Fatalf("update post: %v", err)
	}

	rr := request(a.handlePostAbandon, "POST", "/api/v1/posts/"+post.ID+"/abandon", "",
		map[string]string{"postID": post.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	resp := decodePost(t, rr)
	if resp.Status != string(scheduling.StatusDraft) {
		t.Fatalf("status = %q, want draft", resp.Status)
	}
	if resp.LastError != "" || resp.ScheduledLocal != "" {
		t.Fatalf("abandon left residue: %+v", resp)
	}
}

func TestHandlePostAbandonRequiresFailedState(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	post := seedPost(t, db, shop.ID, scheduling.StatusDraft)

	rr := request(a.handlePostAbandon, "POST", "/api/v1/posts/"+post.ID+"/abandon", "",
		map[string]string{"postID": post.ID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestHandlePostsUpdateRejectsScheduledPost(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "UTC")
	post := seedPost(t, db, shop.ID, scheduling.StatusScheduled)

	rr := request(a.handlePostsUpdate, "PATCH", "/api/v1/posts/"+post.ID,
		`{"title":"New title"}`, map[string]string{"postID": post.ID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestHandleSchedulePreview(t *testing.T) {
	a, db := newTestAPI(t)
	shop := seedShop(t, db, "Europe/Paris")

	// 02:30 on October 27 2024 occurs twice in Paris; the preview reports
	// the earlier occurrence (CEST, UTC+2).
	a.now = func() time.Time { return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC) }

	rr := request(a.handleSchedulePreview, "POST", "/api/v1/schedule/preview",
		`{"date":"2024-10-27","time":"02:30","shop_id":"`+shop.ID+`"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var resp schedulePreviewResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	want := time.Date(2024, 10, 27, 0, 30, 0, 0, time.UTC)
	if !resp.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want earlier occurrence %v", resp.ScheduledAt, want)
	}
	if resp.ScheduledZone != "Europe/Paris" {
		t.Fatalf("scheduled_zone = %q", resp.ScheduledZone)
	}
	if !resp.Schedulable {
		t.Fatalf("expected schedulable, got %+v", resp)
	}
}

func TestHandleSchedulePreviewTooSoon(t *testing.T) {
	a, _ := newTestAPI(t)

	rr := request(a.handleSchedulePreview, "POST", "/api/v1/schedule/preview",
		`{"date":"2025-06-14","time":"12:01","timezone":"UTC"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var resp schedulePreviewResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Schedulable {
		t.Fatal("expected preview to report too_soon")
	}
	if resp.Reason != "too_soon" {
		t.Fatalf("reason = %q", resp.Reason)
	}
}
