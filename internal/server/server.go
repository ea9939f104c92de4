// Package server assembles the core components — subscription manager,
// router, delivery tracker, session manager, auth validator, rate limiter —
// into the shared Hub, mounts the configured transports' HTTP routes, and
// owns the background loops (redelivery scheduler, expiry sweeper) that
// keep the in-memory managers consistent. It is the Go equivalent of the
// Rust reference's server facade: deployments that want durable sessions,
// cross-instance fan-out, or payload offload supply the corresponding
// Dependencies field; a bare Server runs entirely in-memory, single-instance.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/api"
	"github.com/cauce-ai/cauce-hub/internal/auth"
	"github.com/cauce-ai/cauce-hub/internal/broker"
	"github.com/cauce-ai/cauce-hub/internal/config"
	"github.com/cauce-ai/cauce-hub/internal/delivery"
	"github.com/cauce-ai/cauce-hub/internal/hub"
	"github.com/cauce-ai/cauce-hub/internal/ratelimit"
	"github.com/cauce-ai/cauce-hub/internal/router"
	"github.com/cauce-ai/cauce-hub/internal/search"
	"github.com/cauce-ai/cauce-hub/internal/session"
	"github.com/cauce-ai/cauce-hub/internal/storage"
	"github.com/cauce-ai/cauce-hub/internal/subscription"
	"github.com/cauce-ai/cauce-hub/internal/transport"
)

// Dependencies are the optional, deployment-time components. Every field
// may be left nil/zero for a single-instance, in-memory-only deployment.
type Dependencies struct {
	// Broker fans routed signals out across cauce-hub instances. Nil means
	// local delivery only.
	Broker broker.SignalBroker
	// Payloads offloads oversized signal payloads out-of-band (e.g. to S3).
	// Nil disables offload; payloads up to cfg.MaxSignalSize are then
	// carried inline.
	Payloads hub.PayloadOffloader
	// Webhook dials a subscription's configured webhook endpoint. Nil
	// disables webhook delivery even for subscriptions configured with one.
	Webhook hub.WebhookDialer
	// Validators authenticates cauce.hello credentials. Defaults to a bearer
	// validator keyed on cfg.AuthBearerSecret when left nil.
	Validators auth.Validator
	// Postgres, when set, durably persists dead-letter records alongside
	// the in-memory tracker's own (bounded-retention) copy. It also becomes
	// the hub's session write-behind, and New repopulates the session
	// manager from the sessions stored there.
	Postgres *storage.PostgresClient
	// ClickHouse, when set, receives an append-only audit row for every
	// redelivery attempt and dead-letter event the scheduler drives.
	ClickHouse *storage.ClickHouseClient
	// DeadLetterIndex, when set, makes dead-lettered deliveries searchable.
	DeadLetterIndex *search.BleveManager
	// HealthChecks are extra liveness pings to fold into GET /health
	// alongside the ones New derives automatically from Postgres/ClickHouse
	// (e.g. NATS or Redis, which Server has no direct handle on).
	HealthChecks map[string]api.PingFunc
	Logger       *slog.Logger
}

// Server holds the assembled Hub, the HTTP handler every transport's routes
// are mounted on, and the background loops a deployment must run alongside
// the HTTP listener.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	handler   http.Handler
	scheduler *delivery.Scheduler
	sessions  *session.Manager
	subs      *subscription.Manager
	logger    *slog.Logger
}

// New assembles every core component and the configured transports. Apart
// from restoring sessions out of deps.Postgres when it is set, it performs
// no I/O: NATS stream creation, Postgres/ClickHouse schema setup,
// and S3 bucket verification remain the caller's responsibility before
// passing a Dependencies value in, mirroring how the teacher's cmd/api
// wires its storage clients before building the router.
func New(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions := session.New()
	if deps.Postgres != nil {
		restoreSessions(context.Background(), sessions, deps.Postgres, logger)
	}
	subs := subscription.New(subscription.Limits{
		MaxTopicsPerSubscription:  cfg.MaxTopicsPerSubscription,
		MaxSubscriptionsPerClient: cfg.MaxSubscriptionsPerClient,
	})
	tracker := delivery.NewTracker(delivery.RedeliveryConfig{
		Enabled:                   cfg.RedeliveryEnabled,
		InitialDelay:              cfg.InitialDelay,
		MaxDelay:                  cfg.MaxDelay,
		BackoffMultiplier:         cfg.BackoffMultiplier,
		MaxAttempts:               cfg.MaxAttempts,
		DeadLetterTopic:           cfg.DeadLetterTopic,
		MaxPendingPerSubscription: cfg.MaxPendingSignalsPerSubscription,
		RejectOnPendingLimit:      cfg.RejectOnPendingLimit,
	}, nil)
	rtr := router.New(subs)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitRequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RateLimitBurst, cfg.RateLimitRequestsPerSecond)
	}

	validator := deps.Validators
	if validator == nil {
		validator = auth.NewBearerValidator(cfg.AuthBearerSecret)
	}

	h := hub.New(
		sessions,
		subs,
		tracker,
		rtr,
		validator,
		limiter,
		hub.NewSchemaRegistry(),
		deps.Broker,
		deps.Webhook,
		deps.Payloads,
		hub.Config{
			ServerName:            cfg.ServerName,
			SessionTTL:            cfg.SessionTimeout,
			MaxSignalSize:         cfg.MaxSignalSize,
			MaxInlinePayloadBytes: cfg.MaxInlinePayloadBytes,
		},
		logger,
	)
	if deps.Postgres != nil {
		h.SessionStore = deps.Postgres
	}

	scheduler := delivery.NewScheduler(tracker, h.SenderLookup, time.Second, logger)
	if deps.ClickHouse != nil {
		scheduler.WithAudit(clickhouseAuditSink{client: deps.ClickHouse})
	}
	var deadLetterSinks []delivery.DeadLetterSink
	if deps.Postgres != nil {
		deadLetterSinks = append(deadLetterSinks, postgresDeadLetterSink{client: deps.Postgres})
	}
	if deps.DeadLetterIndex != nil {
		deadLetterSinks = append(deadLetterSinks, bleveDeadLetterSink{manager: deps.DeadLetterIndex})
	}
	if len(deadLetterSinks) > 0 {
		scheduler.WithDeadLetterSink(multiDeadLetterSink{sinks: deadLetterSinks, logger: logger})
	}

	var transports []transport.Transport
	if cfg.WebSocketEnabled {
		transports = append(transports, transport.NewWebSocket(h, logger))
	}
	if cfg.SSEEnabled {
		transports = append(transports, transport.NewSSE(h, logger))
	}
	if cfg.PollingEnabled {
		transports = append(transports, transport.NewPolling(h, cfg.SessionTimeout, cfg.LongPollTimeout, logger))
	}
	// Webhook delivery has no inbound route to mount: it's wired in as
	// deps.Webhook, consulted directly by the hub's publish path.

	pings := make(map[string]api.PingFunc, len(deps.HealthChecks)+2)
	for name, ping := range deps.HealthChecks {
		pings[name] = ping
	}
	if deps.Postgres != nil {
		pings["postgresql"] = deps.Postgres.Ping
	}
	if deps.ClickHouse != nil {
		pings["clickhouse"] = deps.ClickHouse.Ping
	}
	healthHandler := api.NewHealthHandler(pings)

	handler := api.NewRouter(api.RouterConfig{
		AllowedOrigins: []string{"*"},
		PathPrefix:     cfg.RoutePrefix,
		Transports:     transports,
		HealthHandler:  healthHandler,
	})

	return &Server{
		cfg:       cfg,
		hub:       h,
		handler:   handler,
		scheduler: scheduler,
		sessions:  sessions,
		subs:      subs,
		logger:    logger.With("component", "server"),
	}
}

// restoreSessions repopulates the in-memory session manager from Postgres on
// startup, so a hub restart does not silently drop every live connection's
// session record. A session whose id collides (shouldn't happen, since the
// store is the only other writer of these ids) or whose expiry already
// passed is skipped rather than treated as a fatal startup error.
func restoreSessions(ctx context.Context, sessions *session.Manager, store *storage.PostgresClient, logger *slog.Logger) {
	restored, err := store.LoadAllSessions(ctx)
	if err != nil {
		logger.Warn("session restore from postgres failed", "error", err)
		return
	}
	count := 0
	for _, sess := range restored {
		if err := sessions.CreateSession(sess); err != nil {
			continue
		}
		count++
	}
	if count > 0 {
		logger.Info("restored sessions from postgres", "count", count)
	}
}

// Handler returns the assembled HTTP handler, for callers that want to
// embed it in their own http.Server or test it directly with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the assembled Hub, mainly so a caller can register additional
// schemas before serving.
func (s *Server) Hub() *hub.Hub { return s.hub }

// ServeWithShutdown starts the HTTP listener and background loops (the
// redelivery scheduler and an expiry sweeper for sessions/subscriptions),
// and blocks until ctx is cancelled or the listener fails. On cancellation
// it drains: stop the background loops, then gracefully close the HTTP
// server, giving in-flight requests up to 15 seconds to finish.
func (s *Server) ServeWithShutdown(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go s.scheduler.Run(bgCtx)
	go s.runExpirySweeper(bgCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested, draining")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	cancelBG()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// runExpirySweeper periodically reaps expired sessions and subscriptions so
// long-lived deployments don't accumulate stale entries between the
// activity that would otherwise trigger a lazy expiry check.
func (s *Server) runExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n := s.sessions.CleanupExpired(now); n > 0 {
				s.logger.Debug("reaped expired sessions", "count", n)
			}
			if n := s.subs.CleanupExpired(now); n > 0 {
				s.logger.Debug("reaped expired subscriptions", "count", n)
			}
		}
	}
}
