/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald_publish/internal/api"
	"github.com/friendsincode/skald_publish/internal/audit"
	"github.com/friendsincode/skald_publish/internal/cache"
	"github.com/friendsincode/skald_publish/internal/config"
	"github.com/friendsincode/skald_publish/internal/db"
	"github.com/friendsincode/skald_publish/internal/dispatch"
	"github.com/friendsincode/skald_publish/internal/events"
	"github.com/friendsincode/skald_publish/internal/leadership"
	"github.com/friendsincode/skald_publish/internal/scheduling"
	"github.com/friendsincode/skald_publish/internal/shopify"
	"github.com/friendsincode/skald_publish/internal/telemetry"
	"github.com/friendsincode/skald_publish/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                    *gorm.DB
	api                   *api.API
	bus                   *events.Bus
	auditSvc              *audit.Service
	dispatcher            *dispatch.Service
	leaderAwareDispatcher *dispatch.LeaderAwareDispatcher
	shopCache             *cache.Cache
	updateChecker         *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("skald-publish-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	policy, err := config.LoadPublishPolicy(s.cfg.PublishPolicyPath)
	if err != nil {
		return err
	}
	if s.cfg.PublishPolicyPath != "" {
		s.logger.Info().
			Str("path", s.cfg.PublishPolicyPath).
			Int("min_lead_minutes", policy.MinLeadMinutes).
			Msg("publish policy loaded")
	}

	// Audit service for security logging
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	converter := scheduling.NewConverter(scheduling.NewLocationResolver())
	publisher := shopify.NewClient(s.cfg.ShopifyAPIVersion, s.cfg.ShopifyTimeout, s.logger)

	s.dispatcher = dispatch.New(database, publisher, s.bus, s.cfg.DispatchTick, s.cfg.DispatchBatchSize, s.logger)

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB

		shopCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create shop cache: %w", err)
		}
		s.shopCache = shopCache
		s.DeferClose(shopCache.Close)
		s.dispatcher.SetCache(shopCache)
	}

	// Setup leader-aware dispatcher if leader election is enabled. Only one
	// instance may run the dispatch loop at a time.
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:       s.cfg.RedisAddr,
			RedisPassword:   s.cfg.RedisPassword,
			RedisDB:         s.cfg.RedisDB,
			ElectionKey:     "skald:leader:dispatch",
			LeaseDuration:   15 * time.Second,
			RenewalInterval: 5 * time.Second,
			RetryInterval:   2 * time.Second,
			InstanceID:      s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareDispatcher = dispatch.NewLeaderAware(s.dispatcher, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareDispatcher.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for dispatcher")
	}

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), converter, policy, s.auditSvc, s.bus, s.logger)

	s.updateChecker = version.NewChecker(s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start dispatcher (leader-aware if configured, otherwise direct)
	if s.leaderAwareDispatcher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareDispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware dispatcher exited")
			}
		}()
	} else if s.dispatcher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("dispatch loop exited")
			}
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	// Invalidate cached shops when the API mutates them, so a token
	// rotation or shop delete takes effect before the TTL expires.
	if s.shopCache != nil {
		updates := s.bus.Subscribe(events.EventAuditShopUpdate)
		deletes := s.bus.Subscribe(events.EventAuditShopDelete)

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			defer s.bus.Unsubscribe(events.EventAuditShopUpdate, updates)
			defer s.bus.Unsubscribe(events.EventAuditShopDelete, deletes)

			invalidate := func(payload events.Payload) {
				if shopID, ok := payload["shop_id"].(string); ok && shopID != "" {
					s.shopCache.InvalidateShop(ctx, shopID)
				}
			}
			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-updates:
					invalidate(payload)
				case payload := <-deletes:
					invalidate(payload)
				}
			}
		}()
	}

	// Start audit service
	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	// Start version update checker
	if s.updateChecker != nil {
		s.updateChecker.Start(ctx)
		s.DeferClose(func() error {
			s.updateChecker.Stop()
			return nil
		})
	}

	// Dedicated metrics listener, kept off the public port.
	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		metricsSrv := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.DeferClose(func() error {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener exited")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		// Add leader status if leader election is enabled
		if s.leaderAwareDispatcher != nil {
			if s.leaderAwareDispatcher.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		info := s.updateChecker.Info()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":%q,"update_available":%t}`, info.CurrentVersion, info.UpdateAvailable)
	})

	s.api.Routes(s.router)
}
