package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/api/handlers"
	"github.com/Medard-prog/web-whisperer-sub001/internal/api/middleware"
	"github.com/Medard-prog/web-whisperer-sub001/internal/captcha"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/email"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
)

// Deps is everything the public API serves from. main builds it once and
// shares the services with the task workers.
type Deps struct {
	Sessions  SessionManager
	Drafts    handlers.DraftStore
	Notifier  handlers.Notifier
	Hub       handlers.MessageSubscriber
	Requests  services.IRequestService
	Projects  services.IProjectService
	Messages  services.IMessageService
	Users     services.IUserService
	Actions   services.ILinkedActionService
	Billing   services.IBillingService
	Templates services.IEmailTemplateService
	Settings  services.IConfigService
	Storage   storage.IS3Storage
	Tasks     tasks.Enqueuer
	Captcha   captcha.ITurnstileVerifier
}

// SessionManager is what both the session middleware and the JSON API need
// from session.Manager.
type SessionManager interface {
	middleware.SessionRestorer
	handlers.SessionManager
}

// SetupRouter configures and returns the main Gin engine. The returned stop
// function releases the rate limiter's cleanup loop.
func SetupRouter(cfg *config.Config, d Deps) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery())

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, d.Settings)

	// Order matters: CORS answers preflights before anything else runs.
	r.Use(metrics.Middleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.CaptchaMiddleware(cfg, d.Captcha))
	r.Use(rateLimiter.Limit())
	r.Use(middleware.SessionMiddleware(d.Sessions))

	jsonApiHandler := handlers.NewJsonApiHandler(cfg, handlers.JsonApiDeps{
		Drafts:    d.Drafts,
		Sessions:  d.Sessions,
		Notifier:  d.Notifier,
		Requests:  d.Requests,
		Projects:  d.Projects,
		Messages:  d.Messages,
		Users:     d.Users,
		Actions:   d.Actions,
		Billing:   d.Billing,
		Templates: d.Templates,
		Settings:  d.Settings,
		Storage:   d.Storage,
		Tasks:     d.Tasks,
	})
	restConfigHandler := handlers.NewRestConfigHandler(d.Settings)
	restProjectHandler := handlers.NewRestProjectHandler(d.Projects)
	restStreamHandler := handlers.NewRestStreamHandler(d.Hub)

	v1 := r.Group("/v1")
	{
		// Access control for the JSON API is per method.
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/config", restConfigHandler.GetPublicConfig)
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.RequireSession())
		{
			authRequired.GET("/projects/:id", restProjectHandler.GetProjectByID)
			authRequired.GET("/messages/stream", restStreamHandler.StreamMessages)
		}
	}

	return r, rateLimiter.Stop
}

// SetupServiceRouter configures the internal service API: metrics, shutdown
// and, in mock mode, access to captured emails for end-to-end tests.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", metrics.Handler())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			logger.Infof("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				logger.Warnf("Shutdown already requested")
			}
		case "getTestEmail":
			if !cfg.MockServices {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Mock services are disabled"})
				return
			}
			var args []string // [email]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [email]"})
				return
			}
			stored, err := email.LatestEmail(c.Request.Context(), rdb, args[0])
			if err != nil {
				logger.Errorf("Service API: failed to read test email for %s: %v", args[0], err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			if stored == nil {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("No test email for %s", args[0])})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": stored})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
