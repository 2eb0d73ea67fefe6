package models

// APIType tells REST paths apart from JSON method names.
type APIType string

const (
	APITypeREST APIType = "REST"
	APITypeJSON APIType = "JSON"
)

// RateLimitConfig holds token bucket parameters.
type RateLimitConfig struct {
	BucketSize      int `bson:"bucket_size" json:"bucket_size"`
	TokenRefillRate int `bson:"token_refill_rate" json:"token_refill_rate"` // tokens per second
}

// APIEndpointConfig overrides rate limits for one endpoint, e.g. submitRequest.
// Stored in the api_endpoints_config collection.
type APIEndpointConfig struct {
	Type          APIType          `bson:"type" json:"type"`
	Endpoint      string           `bson:"endpoint" json:"endpoint"`
	AuthRequired  bool             `bson:"auth_required" json:"auth_required"`
	RateLimitSoft *RateLimitConfig `bson:"rate_limit_soft,omitempty" json:"rate_limit_soft,omitempty"`
	RateLimitHard *RateLimitConfig `bson:"rate_limit_hard,omitempty" json:"rate_limit_hard,omitempty"`
}
