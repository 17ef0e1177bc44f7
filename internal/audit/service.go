/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to relevant events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	// Subscribe to post lifecycle events
	postScheduled := s.bus.Subscribe(events.EventPostScheduled)
	postRescheduled := s.bus.Subscribe(events.EventPostRescheduled)
	postAbandoned := s.bus.Subscribe(events.EventPostAbandoned)
	postPublished := s.bus.Subscribe(events.EventPostPublished)
	postFailed := s.bus.Subscribe(events.EventPostFailed)

	// Subscribe to audit-specific events
	auditAPIKeyCreate := s.bus.Subscribe(events.EventAuditAPIKeyCreate)
	auditAPIKeyRevoke := s.bus.Subscribe(events.EventAuditAPIKeyRevoke)
	auditShopCreate := s.bus.Subscribe(events.EventAuditShopCreate)
	auditShopUpdate := s.bus.Subscribe(events.EventAuditShopUpdate)
	auditShopDelete := s.bus.Subscribe(events.EventAuditShopDelete)
	auditPostCreate := s.bus.Subscribe(events.EventAuditPostCreate)

	defer func() {
		s.bus.Unsubscribe(events.EventPostScheduled, postScheduled)
		s.bus.Unsubscribe(events.EventPostRescheduled, postRescheduled)
		s.bus.Unsubscribe(events.EventPostAbandoned, postAbandoned)
		s.bus.Unsubscribe(events.EventPostPublished, postPublished)
		s.bus.Unsubscribe(events.EventPostFailed, postFailed)
		s.bus.Unsubscribe(events.EventAuditAPIKeyCreate, auditAPIKeyCreate)
		s.bus.Unsubscribe(events.EventAuditAPIKeyRevoke, auditAPIKeyRevoke)
		s.bus.Unsubscribe(events.EventAuditShopCreate, auditShopCreate)
		s.bus.Unsubscribe(events.EventAuditShopUpdate, auditShopUpdate)
		s.bus.Unsubscribe(events.EventAuditShopDelete, auditShopDelete)
		s.bus.Unsubscribe(events.EventAuditPostCreate, auditPostCreate)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-postScheduled:
			s.logAuditEntry(ctx, models.AuditActionPostSchedule, payload)

		case payload := <-postRescheduled:
			s.logAuditEntry(ctx, models.AuditActionPostReschedule, payload)

		case payload := <-postAbandoned:
			s.logAuditEntry(ctx, models.AuditActionPostAbandon, payload)

		case payload := <-postPublished:
			s.logAuditEntry(ctx, models.AuditActionPostPublish, payload)

		case payload := <-postFailed:
			s.logAuditEntry(ctx, models.AuditActionPostFail, payload)

		case payload := <-auditAPIKeyCreate:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyCreate, payload)

		case payload := <-auditAPIKeyRevoke:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyRevoke, payload)

		case payload := <-auditShopCreate:
			s.logAuditEntry(ctx, models.AuditActionShopCreate, payload)

		case payload := <-auditShopUpdate:
			s.logAuditEntry(ctx, models.AuditActionShopUpdate, payload)

		case payload := <-auditShopDelete:
			s.logAuditEntry(ctx, models.AuditActionShopDelete, payload)

		case payload := <-auditPostCreate:
			s.logAuditEntry(ctx, models.AuditActionPostCreate, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	// Extract user info
	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if userEmail, ok := payload["user_email"].(string); ok {
		entry.UserEmail = userEmail
	}

	// Extract shop info
	if shopID, ok := payload["shop_id"].(string); ok && shopID != "" {
		entry.ShopID = &shopID
	}

	// Extract resource info
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}

	// Extract request context
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}
	if userAgent, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = userAgent
	}

	// Copy remaining fields to details
	for k, v := range payload {
		switch k {
		case "user_id", "user_email", "shop_id", "resource_type", "resource_id", "ip_address", "user_agent":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	ShopID    *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.ShopID != nil {
		query = query.Where("shop_id = ?", *filters.ShopID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	// Count total
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Order by timestamp descending (most recent first)
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
