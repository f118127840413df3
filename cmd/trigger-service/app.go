package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"warden/internal/admin"
	"warden/internal/audit"
	"warden/internal/broker"
	"warden/internal/config"
	"warden/internal/constants"
	"warden/internal/governance"
	"warden/internal/idempotency"
	"warden/internal/logger"
	"warden/internal/proxy"
	"warden/internal/trigger"
	"warden/pkg/health"
	"warden/pkg/metrics"
	"warden/pkg/middleware"
	"warden/pkg/ratelimit"
)

type App struct {
	config *config.Config
	logger logger.Logger

	redis    *redis.Client
	adapter  broker.QueueAdapter
	store    idempotency.Store
	ledger   audit.Ledger
	gate     governance.PolicyGate
	proxy    *proxy.Proxy
	trigger  *trigger.QueueTrigger
	registry *prometheus.Registry
	server   *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("trigger-service")
	}
	return &App{
		config:   cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}

	if err := a.initGovernance(); err != nil {
		return fmt.Errorf("failed to initialize policy gate: %w", err)
	}

	a.ledger = audit.NewMemoryLedger(a.config.Audit.Capacity)

	if err := a.initProxy(); err != nil {
		return fmt.Errorf("failed to initialize governed proxy: %w", err)
	}

	if err := a.initTrigger(); err != nil {
		return fmt.Errorf("failed to initialize queue trigger: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.config.Idempotency.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", a.config.Idempotency.Redis.Host, a.config.Idempotency.Redis.Port),
			Password: a.config.Idempotency.Redis.Password,
			DB:       a.config.Idempotency.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		a.redis = rdb
		a.store = idempotency.NewBreakerStore(idempotency.NewRedisStore(rdb), a.config.Idempotency.Breaker)
	default:
		a.store = idempotency.NewMemoryStore()
	}
	return nil
}

func (a *App) initGovernance() error {
	if !a.config.Governance.Enabled {
		return nil
	}

	gate, err := governance.NewCELGate(a.config.Governance.Rules)
	if err != nil {
		return err
	}
	a.gate = gate
	return nil
}

func (a *App) initProxy() error {
	if !a.config.Proxy.Enabled {
		return nil
	}
	if a.config.Proxy.ProviderURL == "" {
		return fmt.Errorf("proxy.provider_url is required when the proxy is enabled")
	}

	timeout := constants.DefaultProviderTimeout
	if a.config.Proxy.ProviderTimeoutSeconds > 0 {
		timeout = time.Duration(a.config.Proxy.ProviderTimeoutSeconds * float64(time.Second))
	}
	provider := proxy.NewHTTPProvider(a.config.Proxy.ProviderURL, timeout)

	proxyMetrics := metrics.NewProxyMetrics("trigger-service")
	if err := proxyMetrics.Register(a.registry); err != nil {
		return err
	}

	p, err := proxy.New(a.config.Proxy, provider, proxy.Options{
		Ledger:  a.ledger,
		Metrics: proxyMetrics,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	a.proxy = p
	return nil
}

func (a *App) initTrigger() error {
	adapter, err := broker.NewAdapter(
		a.config.Broker,
		a.config.QueueTrigger.QueueName,
		a.config.QueueTrigger.ConsumerGroup,
		a.logger,
	)
	if err != nil {
		return err
	}
	a.adapter = adapter

	triggerMetrics := metrics.NewTriggerMetrics(a.config.QueueTrigger.QueueName)
	if err := triggerMetrics.Register(a.registry); err != nil {
		return err
	}

	t, err := trigger.New(a.config.QueueTrigger, adapter, a.handler(), trigger.Options{
		Store:              a.store,
		Gate:               a.gate,
		Ledger:             a.ledger,
		Metrics:            triggerMetrics,
		Logger:             a.logger,
		GovernanceFailMode: a.config.Governance.FailMode,
	})
	if err != nil {
		return err
	}
	a.trigger = t
	return nil
}

// handler routes admitted messages through the governed proxy when one is
// configured, otherwise it acknowledges the message with an echo result.
func (a *App) handler() trigger.Handler {
	if a.proxy != nil {
		caller := a.config.QueueTrigger.ConsumerGroup
		return trigger.HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
			resp, err := a.proxy.Execute(ctx, proxy.Request{
				Caller:   caller,
				TenantID: tenantID,
				Payload: map[string]interface{}{
					"event_name": eventName,
					"focus":      focus,
					"payload":    payload,
				},
			})
			if err != nil {
				return nil, err
			}

			result := resp.Result
			if result == nil {
				result = make(map[string]interface{})
			}
			result["total_tokens"] = resp.Usage.TotalTokens
			return result, nil
		})
	}

	return trigger.HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
		a.logger.InfowCtx(ctx, "Message received with no downstream configured",
			"event_name", eventName,
		)
		return map[string]interface{}{
			"event_name": eventName,
			"tenant_id":  tenantID,
			"echoed":     true,
		}, nil
	})
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.Server.RateLimit.Enabled {
		requests := ratelimit.NewRequestsCounter()
		if err := a.registry.Register(requests); err != nil {
			return err
		}

		rateLimitConfig := ratelimit.DefaultConfig()
		rateLimitConfig.RPS = a.config.Server.RateLimit.RPS
		rateLimitConfig.Burst = a.config.Server.RateLimit.Burst
		rateLimitConfig.Requests = requests
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
	}

	adminHandler := admin.NewHandler(a.trigger, a.ledger, a.proxy, a.logger)
	adminHandler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	healthRegistry.Register(health.NewBrokerChecker("broker", a.adapter))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// processing uses its own context so in-flight messages finish during
	// shutdown; Stop cancels fetching separately
	if err := a.trigger.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start queue trigger: %w", err)
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down trigger service")

	var errs []error

	stopCtx, cancel := context.WithTimeout(ctx, constants.WorkerJoinTimeout)
	defer cancel()
	if err := a.trigger.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("trigger stop error: %w", err))
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
