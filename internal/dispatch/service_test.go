/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
	"github.com/friendsincode/skald_publish/internal/shopify"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&models.Shop{}, &models.Post{}, &models.PublishAttempt{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fakePublisher records calls and returns a canned result per post.
type fakePublisher struct {
	calls  []string
	result shopify.PublishResult
	err    error
}

func (f *fakePublisher) PublishArticle(ctx context.Context, shop models.Shop, post models.Post) (shopify.PublishResult, error) {
	f.calls = append(f.calls, post.ID)
	return f.result, f.err
}

func seedScheduledPost(t *testing.T, db *gorm.DB, scheduledAt time.Time) models.Post {
	t.Helper()

	shop := models.Shop{
		ID:       uuid.NewString(),
		Name:     "Demo " + uuid.NewString()[:8],
		Domain:   uuid.NewString()[:8] + ".myshopify.com",
		BlogID:   "42",
		Timezone: "America/New_York",
	}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}

	at := scheduledAt.UTC()
	post := models.Post{
		ID:             uuid.NewString(),
		ShopID:         shop.ID,
		Title:          "Scheduled post",
		BodyHTML:       "<p>hello</p>",
		Status:         scheduling.StatusScheduled,
		ScheduledAt:    &at,
		ScheduledLocal: "2025-06-15 14:30",
		ScheduledZone:  "America/New_York",
	}
	if err := db.Create(&post).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

func newTestService(db *gorm.DB, publisher shopify.Publisher, now time.Time) (*Service, *events.Bus) {
	bus := events.NewBus()
	svc := New(db, publisher, bus, time.Second, 10, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc, bus
}

func TestNewDefaults(t *testing.T) {
	svc := New(nil, nil, events.NewBus(), 0, 0, zerolog.Nop())
	if svc.tick != 15*time.Second {
		t.Errorf("tick = %v, want 15s default", svc.tick)
	}
	if svc.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50 default", svc.batchSize)
	}
}

func TestTickPublishesDuePost(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 35, 0, 0, time.UTC)
	post := seedScheduledPost(t, db, now.Add(-5*time.Minute))

	publisher := &fakePublisher{result: shopify.PublishResult{ArticleID: "777", HTTPStatus: http.StatusCreated}}
	svc, bus := newTestService(db, publisher, now)

	published := bus.Subscribe(events.EventPostPublished)
	svc.runTick(context.Background())

	if len(publisher.calls) != 1 || publisher.calls[0] != post.ID {
		t.Fatalf("publisher calls = %v, want [%s]", publisher.calls, post.ID)
	}

	var got models.Post
	if err := db.First(&got, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if got.Status != scheduling.StatusPublished {
		t.Fatalf("status = %q, want published", got.Status)
	}
	if got.ScheduledAt != nil {
		t.Fatalf("published post retains ScheduledAt %v", got.ScheduledAt)
	}
	if got.ShopifyArticleID != "777" {
		t.Fatalf("article id = %q, want 777", got.ShopifyArticleID)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(now) {
		t.Fatalf("PublishedAt = %v, want %v", got.PublishedAt, now)
	}

	var attempts []models.PublishAttempt
	if err := db.Find(&attempts, "post_id = ?", post.ID).Error; err != nil {
		t.Fatalf("load attempts: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Success {
		t.Fatalf("attempts = %+v, want one successful", attempts)
	}

	select {
	case payload := <-published:
		if payload["resource_id"] != post.ID {
			t.Fatalf("event resource_id = %v", payload["resource_id"])
		}
	default:
		t.Fatal("expected post.published event")
	}
}

func TestTickSkipsFuturePost(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	seedScheduledPost(t, db, now.Add(time.Hour))

	publisher := &fakePublisher{result: shopify.PublishResult{ArticleID: "1"}}
	svc, _ := newTestService(db, publisher, now)

	svc.runTick(context.Background())

	if len(publisher.calls) != 0 {
		t.Fatalf("publisher called for future post: %v", publisher.calls)
	}
}

func TestTickDispatchesAtExactInstant(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC)
	post := seedScheduledPost(t, db, now)

	publisher := &fakePublisher{result: shopify.PublishResult{ArticleID: "1", HTTPStatus: http.StatusCreated}}
	svc, _ := newTestService(db, publisher, now)

	svc.runTick(context.Background())

	if len(publisher.calls) != 1 || publisher.calls[0] != post.ID {
		t.Fatalf("publisher calls = %v, want dispatch at the exact instant", publisher.calls)
	}
}

func TestTickMarksFailureAndRetainsDisplayFields(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 35, 0, 0, time.UTC)
	post := seedScheduledPost(t, db, now.Add(-time.Minute))

	publisher := &fakePublisher{
		result: shopify.PublishResult{HTTPStatus: http.StatusUnprocessableEntity},
		err:    &shopify.APIError{Status: http.StatusUnprocessableEntity, Body: "invalid"},
	}
	svc, bus := newTestService(db, publisher, now)

	failed := bus.Subscribe(events.EventPostFailed)
	svc.runTick(context.Background())

	var got models.Post
	if err := db.First(&got, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if got.Status != scheduling.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ScheduledAt != nil {
		t.Fatalf("failed post retains ScheduledAt %v", got.ScheduledAt)
	}
	if got.ScheduledLocal != "2025-06-15 14:30" || got.ScheduledZone != "America/New_York" {
		t.Fatalf("display fields lost: local=%q zone=%q", got.ScheduledLocal, got.ScheduledZone)
	}
	if got.LastError == "" {
		t.Fatal("expected LastError to be recorded")
	}

	var attempts []models.PublishAttempt
	if err := db.Find(&attempts, "post_id = ?", post.ID).Error; err != nil {
		t.Fatalf("load attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Success {
		t.Fatalf("attempts = %+v, want one failed", attempts)
	}
	if attempts[0].HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("attempt status = %d", attempts[0].HTTPStatus)
	}

	select {
	case <-failed:
	default:
		t.Fatal("expected post.failed event")
	}
}

func TestTickFailsPostWithMissingShop(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 35, 0, 0, time.UTC)
	post := seedScheduledPost(t, db, now.Add(-time.Minute))
	if err := db.Delete(&models.Shop{}, "id = ?", post.ShopID).Error; err != nil {
		t.Fatalf("delete shop: %v", err)
	}

	publisher := &fakePublisher{err: errors.New("should not be called")}
	svc, _ := newTestService(db, publisher, now)

	svc.runTick(context.Background())

	if len(publisher.calls) != 0 {
		t.Fatalf("publisher called with missing shop: %v", publisher.calls)
	}

	var got models.Post
	if err := db.First(&got, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if got.Status != scheduling.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestDuePostsOrdering(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	later := seedScheduledPost(t, db, now.Add(-time.Minute))
	earlier := seedScheduledPost(t, db, now.Add(-time.Hour))

	svc, _ := newTestService(db, &fakePublisher{}, now)
	due, err := svc.duePosts(context.Background(), now)
	if err != nil {
		t.Fatalf("duePosts: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != earlier.ID || due[1].ID != later.ID {
		t.Fatalf("due order = [%s %s], want oldest first", due[0].ID, due[1].ID)
	}
}
