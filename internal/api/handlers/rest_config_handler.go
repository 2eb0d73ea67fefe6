package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
)

// RestConfigHandler handles requests for the /config REST endpoint.
type RestConfigHandler struct {
	configService services.IConfigService
}

func NewRestConfigHandler(configService services.IConfigService) *RestConfigHandler {
	return &RestConfigHandler{configService: configService}
}

// PublicConfig is the dynamic public settings plus the price table clients
// need to render quotes.
type PublicConfig struct {
	Settings map[string]interface{} `json:"settings"`
	Pricing  pricing.PriceTable     `json:"pricing"`
}

// GetPublicConfig handles GET /v1/config
func (h *RestConfigHandler) GetPublicConfig(c *gin.Context) {
	settings, err := h.configService.GetAllPublic(c.Request.Context())
	if err != nil {
		logger.Errorf("Failed to load public config: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration"})
		return
	}
	if settings == nil {
		settings = map[string]interface{}{}
	}
	c.JSON(http.StatusOK, PublicConfig{Settings: settings, Pricing: pricing.Table()})
}
