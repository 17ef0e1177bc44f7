/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/cache"
	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
	"github.com/friendsincode/skald_publish/internal/shopify"
	"github.com/friendsincode/skald_publish/internal/telemetry"
)

// Service is the dispatch loop: it finds posts whose scheduled instant has
// elapsed and pushes them to Shopify. All time comparisons happen in UTC
// against the persisted instant; the author's wall-clock choice plays no
// part here.
type Service struct {
	db        *gorm.DB
	publisher shopify.Publisher
	bus       *events.Bus
	logger    zerolog.Logger
	tick      time.Duration
	batchSize int

	// cache is optional. A nil cache means every shop lookup hits the DB.
	cache *cache.Cache

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// New constructs the dispatch service.
func New(db *gorm.DB, publisher shopify.Publisher, bus *events.Bus, tick time.Duration, batchSize int, logger zerolog.Logger) *Service {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Service{
		db:        db,
		publisher: publisher,
		bus:       bus,
		logger:    logger.With().Str("component", "dispatch").Logger(),
		tick:      tick,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// SetCache enables cached shop lookups. A batch of due posts often shares a
// small set of shops, so the access token and blog id are fetched once per
// TTL window instead of once per post.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Run executes the dispatch loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.tick).Msg("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("dispatch loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Service) runTick(ctx context.Context) {
	telemetry.DispatchTicksTotal.Inc()
	start := time.Now()
	defer func() {
		telemetry.DispatchTickDuration.Observe(time.Since(start).Seconds())
	}()

	nowUTC := s.now().UTC()

	due, err := s.duePosts(ctx, nowUTC)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load due posts")
		return
	}
	telemetry.DispatchDueGauge.Set(float64(len(due)))

	for _, post := range due {
		if err := s.dispatch(ctx, post); err != nil {
			s.logger.Warn().Err(err).Str("post", post.ID).Msg("dispatch failed")
		}
	}
}

// duePosts returns scheduled posts whose instant has elapsed, oldest first.
func (s *Service) duePosts(ctx context.Context, nowUTC time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", scheduling.StatusScheduled, nowUTC).
		Order("scheduled_at ASC").
		Limit(s.batchSize).
		Find(&posts).Error
	return posts, err
}

// dispatch publishes one post and records the outcome. Leader election
// guarantees a single dispatcher, so the read-modify-write on the post does
// not race with another instance; the API refuses transitions out of
// scheduled state while dispatch is the expected next actor.
func (s *Service) dispatch(ctx context.Context, post models.Post) error {
	shop, err := s.loadShop(ctx, post.ShopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.markFailed(ctx, post, models.PublishAttempt{}, errors.New("shop not found"))
		}
		return err
	}

	attempt := models.PublishAttempt{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		ShopID:    post.ShopID,
		StartedAt: s.now().UTC(),
	}

	result, err := s.publisher.PublishArticle(ctx, shop, post)
	attempt.FinishedAt = s.now().UTC()
	attempt.HTTPStatus = result.HTTPStatus

	if err != nil {
		attempt.Success = false
		attempt.Error = err.Error()
		s.saveAttempt(ctx, attempt)
		return s.markFailed(ctx, post, attempt, err)
	}

	attempt.Success = true
	attempt.ArticleID = result.ArticleID
	s.saveAttempt(ctx, attempt)
	return s.markPublished(ctx, post, result)
}

// loadShop fetches a shop, through the cache when one is configured.
func (s *Service) loadShop(ctx context.Context, shopID string) (models.Shop, error) {
	if s.cache != nil {
		if shop, hit := s.cache.GetShop(ctx, shopID); hit {
			return shop, nil
		}
	}

	var shop models.Shop
	if err := s.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		return models.Shop{}, err
	}
	if s.cache != nil {
		s.cache.SetShop(ctx, shop)
	}
	return shop, nil
}

func (s *Service) saveAttempt(ctx context.Context, attempt models.PublishAttempt) {
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		s.logger.Error().Err(err).Str("post", attempt.PostID).Msg("failed to record publish attempt")
	}
}

func (s *Service) markPublished(ctx context.Context, post models.Post, result shopify.PublishResult) error {
	nowUTC := s.now().UTC()

	snapshot, err := post.Schedule().DispatchSucceeded(nowUTC)
	if err != nil {
		return err
	}
	post.ApplySchedule(snapshot)
	post.PublishedAt = &nowUTC
	post.ShopifyArticleID = result.ArticleID
	post.LastError = ""

	if err := s.db.WithContext(ctx).Save(&post).Error; err != nil {
		return err
	}

	telemetry.DispatchPublishesTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Str("post", post.ID).
		Str("article_id", result.ArticleID).
		Msg("post published")

	s.bus.Publish(events.EventPostPublished, events.Payload{
		"shop_id":       post.ShopID,
		"resource_type": "post",
		"resource_id":   post.ID,
		"article_id":    result.ArticleID,
	})
	return nil
}

func (s *Service) markFailed(ctx context.Context, post models.Post, attempt models.PublishAttempt, cause error) error {
	snapshot, err := post.Schedule().DispatchFailed()
	if err != nil {
		return err
	}
	post.ApplySchedule(snapshot)
	post.LastError = cause.Error()

	if err := s.db.WithContext(ctx).Save(&post).Error; err != nil {
		return err
	}

	telemetry.DispatchPublishesTotal.WithLabelValues("failure").Inc()

	var apiErr *shopify.APIError
	retryable := errors.As(cause, &apiErr) && apiErr.Retryable()
	s.logger.Warn().
		Str("post", post.ID).
		Bool("retryable", retryable).
		Int("http_status", attempt.HTTPStatus).
		Err(cause).
		Msg("post failed to publish")

	s.bus.Publish(events.EventPostFailed, events.Payload{
		"shop_id":       post.ShopID,
		"resource_type": "post",
		"resource_id":   post.ID,
		"error":         cause.Error(),
	})
	return nil
}
