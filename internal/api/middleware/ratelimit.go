package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
)

const (
	// ContextKeyJSONMethod holds the method name of a JSON API call.
	ContextKeyJSONMethod = "jsonMethod"

	maxPeekBody     = 1 << 20
	clientIdleAfter = 30 * time.Minute
	cleanupEvery    = 10 * time.Minute
)

type clientLimiter struct {
	soft     *rate.Limiter
	hard     *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware keeps two token buckets per client and endpoint. The
// hard bucket answers 429. The soft bucket answers 418 unless the captcha
// middleware marked the client as human.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config
	configService services.IConfigService
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewRateLimiterMiddleware(cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
		stop:          make(chan struct{}),
	}
	go rm.cleanupLoop()
	return rm
}

// Stop ends the cleanup goroutine.
func (rm *RateLimiterMiddleware) Stop() {
	rm.stopOnce.Do(func() { close(rm.stop) })
}

func getClientIdentifier(c *gin.Context) string {
	return fmt.Sprintf("%s|%s|%s", c.ClientIP(), c.GetHeader("X-BFP"), c.GetHeader("X-SPA"))
}

func (rm *RateLimiterMiddleware) getClientLimiter(key string, soft, hard models.RateLimitConfig) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	l, ok := rm.clients[key]
	if !ok {
		l = &clientLimiter{
			soft: rate.NewLimiter(rate.Limit(soft.TokenRefillRate), soft.BucketSize),
			hard: rate.NewLimiter(rate.Limit(hard.TokenRefillRate), hard.BucketSize),
		}
		rm.clients[key] = l
	}
	l.lastSeen = time.Now()
	return l
}

func (rm *RateLimiterMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stop:
			return
		case <-ticker.C:
			if n := rm.cleanup(time.Now()); n > 0 {
				logger.Debugf("Rate limiter cleanup removed %d idle clients", n)
			}
		}
	}
}

func (rm *RateLimiterMiddleware) cleanup(now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := 0
	for id, l := range rm.clients {
		if now.Sub(l.lastSeen) > clientIdleAfter {
			delete(rm.clients, id)
			n++
		}
	}
	return n
}

// jsonMethod peeks at the method of a JSON API call and puts the body back.
func jsonMethod(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBody))
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var head struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(body, &head) != nil {
		return ""
	}
	return head.Method
}

func (rm *RateLimiterMiddleware) limitsFor(c *gin.Context, apiType models.APIType, endpoint string) (models.RateLimitConfig, models.RateLimitConfig) {
	soft := models.RateLimitConfig{BucketSize: rm.cfg.RateLimitSoftBucketSize, TokenRefillRate: rm.cfg.RateLimitSoftRefillRate}
	hard := models.RateLimitConfig{BucketSize: rm.cfg.RateLimitHardBucketSize, TokenRefillRate: rm.cfg.RateLimitHardRefillRate}

	apiCfg, err := rm.configService.GetAPIEndpointConfig(c.Request.Context(), apiType, endpoint, false)
	if err != nil {
		logger.Warnf("Error fetching limits for %s %s, using defaults: %v", apiType, endpoint, err)
	}
	if apiCfg != nil {
		if apiCfg.RateLimitSoft != nil {
			soft = *apiCfg.RateLimitSoft
		}
		if apiCfg.RateLimitHard != nil {
			hard = *apiCfg.RateLimitHard
		}
	}
	return soft, hard
}

func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiType := models.APITypeREST
		endpoint := c.FullPath()
		if c.Request.Method == http.MethodPost && strings.HasSuffix(endpoint, "/api") {
			if m := jsonMethod(c); m != "" {
				apiType = models.APITypeJSON
				endpoint = m
				c.Set(ContextKeyJSONMethod, m)
			}
		}

		soft, hard := rm.limitsFor(c, apiType, endpoint)
		clientKey := getClientIdentifier(c)
		limiter := rm.getClientLimiter(clientKey+"|"+string(apiType)+":"+endpoint, soft, hard)

		if !limiter.hard.Allow() {
			logger.Infof("Hard rate limit exceeded for %s on %s %s", clientKey, apiType, endpoint)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		if !c.GetBool(ContextKeyIsHumanVerified) && !limiter.soft.Allow() {
			logger.Debugf("Soft rate limit exceeded for %s on %s %s", clientKey, apiType, endpoint)
			c.AbortWithStatusJSON(http.StatusTeapot, gin.H{"error": "Captcha validation required"})
			return
		}
		c.Next()
	}
}
