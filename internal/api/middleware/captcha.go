package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/captcha"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

// ContextKeyIsHumanVerified holds the captcha outcome in the gin context.
const ContextKeyIsHumanVerified = "isHumanVerified"

// CaptchaMiddleware accepts either a still valid X-C-T token or a fresh
// Turnstile challenge in X-C-V. A solved challenge is answered with a new
// X-C-T so the browser can skip the next ones.
func CaptchaMiddleware(cfg *config.Config, verifier captcha.ITurnstileVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		fingerprint := c.GetHeader("X-BFP")
		spaSession := c.GetHeader("X-SPA")
		humanToken := c.GetHeader("X-C-T")
		challenge := c.GetHeader("X-C-V")

		isHuman := false
		if humanToken != "" && verifier.ValidateHumanToken(humanToken, clientIP, fingerprint, spaSession) {
			isHuman = true
		}

		if !isHuman && challenge != "" {
			verified, err := verifier.Verify(c.Request.Context(), challenge, clientIP)
			if err != nil {
				// The rate limiter decides what an unverified client may do.
				logger.Warnf("Turnstile verification error for %s: %v", clientIP, err)
			} else if verified {
				isHuman = true
				token, err := verifier.GenerateHumanToken(clientIP, fingerprint, spaSession, cfg.CaptchaTokenTTL)
				if err != nil {
					logger.Errorf("Failed to issue X-C-T token: %v", err)
				} else {
					c.Header("X-C-T", token)
				}
			}
		}

		c.Set(ContextKeyIsHumanVerified, isHuman)
		c.Next()
	}
}
