/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/audit"
	"github.com/friendsincode/skald_publish/internal/auth"
	"github.com/friendsincode/skald_publish/internal/config"
	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/models"
	"github.com/friendsincode/skald_publish/internal/scheduling"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	converter *scheduling.Converter
	policy    *config.PublishPolicy
	auditSvc  *audit.Service
	bus       *events.Bus
	logger    zerolog.Logger

	// now is the clock source for lead-time validation, replaceable in tests.
	now func() time.Time
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, converter *scheduling.Converter, policy *config.PublishPolicy, auditSvc *audit.Service, bus *events.Bus, logger zerolog.Logger) *API {
	if policy == nil {
		policy = config.DefaultPublishPolicy()
	}
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		converter: converter,
		policy:    policy,
		auditSvc:  auditSvc,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/auth/me", a.handleAuthMe)

			pr.Route("/users", func(r chi.Router) {
				r.With(a.requireRoles(models.RoleAdmin)).Get("/", a.handleUsersList)
				r.With(a.requireRoles(models.RoleAdmin)).Post("/", a.handleUsersCreate)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeysRevoke)
			})

			pr.Route("/shops", func(r chi.Router) {
				r.Get("/", a.handleShopsList)
				r.With(a.requireRoles(models.RoleAdmin)).Post("/", a.handleShopsCreate)
				r.Route("/{shopID}", func(r chi.Router) {
					r.Get("/", a.handleShopsGet)
					r.With(a.requireRoles(models.RoleAdmin)).Patch("/", a.handleShopsUpdate)
					r.With(a.requireRoles(models.RoleAdmin)).Delete("/", a.handleShopsDelete)

					r.Get("/posts", a.handlePostsList)
					r.Post("/posts", a.handlePostsCreate)

					// Shop audit logs (admin only)
					r.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleShopAuditList)
				})
			})

			pr.Route("/posts", func(r chi.Router) {
				r.Route("/{postID}", func(r chi.Router) {
					r.Get("/", a.handlePostsGet)
					r.Patch("/", a.handlePostsUpdate)
					r.Post("/schedule", a.handlePostSchedule)
					r.Post("/abandon", a.handlePostAbandon)
				})
			})

			// Dry-run conversion for scheduling forms
			pr.Post("/schedule/preview", a.handleSchedulePreview)

			// Platform audit logs (admin only)
			pr.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditList)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(roles ...models.RoleName) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return auth.RequireRole(names...)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// leadMinutesFor resolves the effective lead time: a per-shop override wins,
// then the surface entry from the policy file, then the policy default.
func (a *API) leadMinutesFor(shop *models.Shop, surface string) int {
	if shop != nil && shop.MinLeadMinutes > 0 {
		return shop.MinLeadMinutes
	}
	return a.policy.LeadFor(surface)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeSchedulingError maps engine errors onto HTTP responses. Parse and zone
// failures carry the offending input; lead-time violations carry the
// threshold so clients can render an actionable message.
func writeSchedulingError(w http.ResponseWriter, err error) bool {
	switch e := err.(type) {
	case *scheduling.ParseError:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": string(e.Reason),
			"input": e.Input,
		})
		return true
	case *scheduling.UnknownZoneError:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "unknown_timezone",
			"timezone": e.Zone,
		})
		return true
	case *scheduling.SchedulingError:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":            string(e.Reason),
			"min_lead_minutes": e.MinLeadMinutes,
		})
		return true
	case *scheduling.TransitionError:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "invalid_transition",
			"state": string(e.From),
			"event": e.Event,
		})
		return true
	}
	return false
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	// Extract user info from JWT claims
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		// Try to get user email from database
		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
