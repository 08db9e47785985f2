package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/voicedesk/voicequote/internal/cache"
	"github.com/voicedesk/voicequote/internal/config"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/dialogue"
	"github.com/voicedesk/voicequote/internal/llm"
	"github.com/voicedesk/voicequote/internal/repository"
	"github.com/voicedesk/voicequote/internal/services/call"
	"github.com/voicedesk/voicequote/internal/session"
	"github.com/voicedesk/voicequote/internal/store"
	"github.com/voicedesk/voicequote/internal/telephony"
	"github.com/voicedesk/voicequote/pkg/logger"
	"github.com/voicedesk/voicequote/pkg/redis"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config      *config.Config
	service     *call.Service
	registry    *session.Registry
	repoManager repository.RepositoryManager
}

// NewHandlerManager wires the full service graph: telephony gateway, language
// model, CRM backend, dialogue controller and the call orchestrator.
// Redis and the database are optional; the service runs degraded without them.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	gateway, err := telephony.NewACSGateway(cfg)
	if err != nil {
		return nil, err
	}

	// Audit persistence is optional
	var repoManager repository.RepositoryManager
	if repository.IsConfigured() {
		repoManager, err = repository.NewRepositoryManager()
		if err != nil {
			logger.Base().Warn("database unavailable, running without audit persistence", zap.Error(err))
			repoManager = nil
		}
	} else {
		logger.Base().Info("no database configured, audit persistence disabled")
	}

	// Redis-backed call registry is optional
	var registry *session.Registry
	if redisHost := config.GetEnvOrDefault("REDIS_HOST", ""); redisHost != "" {
		redisCfg := &redis.RedisConfig{
			Host:     redisHost,
			Port:     config.GetEnvOrDefault("REDIS_PORT", "6379"),
			Password: config.GetEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       0,
		}
		redisSvc, err := redis.NewRedisService(redisCfg)
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, running without call registry", zap.Error(err))
		} else {
			registry = session.NewRegistry(redisSvc, cfg.InstanceID)
			logger.Base().Info("call registry initialized", zap.String("instance_id", cfg.InstanceID))
		}
	}

	model := llm.NewAzureClient(cfg)

	var backend crm.Backend
	var notifier crm.Notifier
	if cfg.CRMConfigured() {
		backend = cache.NewCatalogCache(crm.NewSalesforceClient(cfg), cache.DefaultCatalogTTL)
	} else {
		logger.Base().Warn("salesforce not configured, quote submission disabled")
	}
	if cfg.EmailConfigured() {
		notifier = crm.NewMailer(cfg)
	}

	calls := store.NewCallStore()
	service := call.NewService(cfg, calls, gateway, nil, registry, repoManager)
	controller := dialogue.NewController(calls, model,
		dialogue.NewExtractor(model, backend),
		dialogue.NewFinalizer(backend, notifier),
		service)
	service.SetController(controller)

	hm := &HandlerManager{
		config:      cfg,
		service:     service,
		registry:    registry,
		repoManager: repoManager,
	}

	// Hangup broadcasts from other instances only matter for calls we hold
	if registry != nil {
		err := registry.SubscribeToCleanup(context.Background(), func(callID string) {
			if service.GetCall(callID) == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := service.TerminateCall(ctx, callID); err != nil {
				logger.Base().Error("broadcast termination failed", zap.String("call_id", callID), zap.Error(err))
			}
		})
		if err != nil {
			logger.Base().Warn("cleanup subscription failed", zap.Error(err))
		}
	}

	return hm, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}
	router.Use(GlobalLoggingMiddleware)

	hm.SetupHealthRoutes(router)
	hm.SetupWebhookRoutes(router)
	hm.SetupManagementRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupWebhookRoutes registers the ACS event endpoints. These carry the
// Event Grid handshake and must stay outside the API key middleware.
func (hm *HandlerManager) SetupWebhookRoutes(router *mux.Router) {
	webhookHandler := NewACSWebhookHandler(hm.service)
	webhookHandler.SetupACSRoutes(router)
	logger.Base().Info("acs webhook routes registered")
}

// SetupManagementRoutes registers the live-call management API behind the
// API key middleware. The webhook endpoints stay on the parent router and
// are registered first, so ACS deliveries never hit this chain.
func (hm *HandlerManager) SetupManagementRoutes(router *mux.Router) {
	mgmtRouter := router.PathPrefix("/api/acs").Subrouter()
	mgmtRouter.Use(LoggingMiddleware)
	mgmtRouter.Use(ValidationMiddleware)
	mgmtRouter.Use(APIKeyMiddleware(hm.config.SecretKey))

	callHandler := NewCallHandler(hm.service, hm.registry)
	callHandler.SetupCallRoutes(mgmtRouter)

	if hm.config.SecretKey == "" {
		logger.Base().Info("management routes registered without api key (development mode)")
	} else {
		logger.Base().Info("management routes registered with api key middleware")
	}
}

// SetupHealthRoutes registers liveness and readiness endpoints
func (hm *HandlerManager) SetupHealthRoutes(router *mux.Router) {
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	}).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":       "ok",
			"instance_id":  hm.config.InstanceID,
			"active_calls": hm.service.GetConnectionCount(),
			"crm":          hm.config.CRMConfigured(),
			"email":        hm.config.EmailConfigured(),
		}
		status := http.StatusOK
		if hm.repoManager != nil {
			if err := hm.repoManager.Ping(r.Context()); err != nil {
				health["status"] = "degraded"
				health["database"] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				health["database"] = "ok"
			}
		}
		writeJSON(w, status, health)
	}).Methods("GET")
}

// GetService returns the call service
func (hm *HandlerManager) GetService() *call.Service {
	return hm.service
}

// GetRepoManager returns the repository manager, nil when persistence is off
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// Close releases handler manager resources
func (hm *HandlerManager) Close() error {
	if hm.repoManager != nil {
		return hm.repoManager.Close()
	}
	return nil
}
