package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
)

// IConfigService serves runtime settings stored in MongoDB on top of the
// environment defaults. Changes made on one instance reach the others through
// Redis pub/sub.
type IConfigService interface {
	GetAllPublic(ctx context.Context) (map[string]interface{}, error)
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetString(ctx context.Context, key string, defaultValue string) string
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
	SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error
	GetAPIEndpointConfig(ctx context.Context, apiType models.APIType, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error)
}

const configUpdateChannel = "config_updates"

// Runtime keys read through IConfigService.
const (
	KeyOverdueGraceDays   = "OVERDUE_GRACE_DAYS"
	KeyDueReminderDays    = "DUE_REMINDER_WINDOW_DAYS"
	KeyStaleRequestHours  = "STALE_REQUEST_AGE_HOURS"
	KeyMaintenanceEnabled = "MAINTENANCE_PLAN_ENABLED"
)

type configService struct {
	db       *mongo.Database
	cfg      *config.Config
	rdb      *redis.Client
	cache    map[string]interface{}
	apiCache map[string]*models.APIEndpointConfig
	mutex    sync.RWMutex
}

// NewConfigService loads the stored settings once. Call SubscribeToChanges in
// its own goroutine to follow updates.
func NewConfigService(database *mongo.Database, initialCfg *config.Config, rdb *redis.Client) IConfigService {
	s := &configService{
		db:       database,
		cfg:      initialCfg,
		rdb:      rdb,
		cache:    make(map[string]interface{}),
		apiCache: make(map[string]*models.APIEndpointConfig),
	}
	if err := s.Load(context.Background()); err != nil {
		logger.Warnf("Failed to load runtime config from DB, using environment defaults: %v", err)
	}
	return s
}

// ConfigEntry is a document of the configuration collection.
type ConfigEntry struct {
	Key    string      `bson:"key"`
	Value  interface{} `bson:"value"`
	Public bool        `bson:"public"`
}

func apiCacheKey(apiType models.APIType, endpoint string, auth bool) string {
	return fmt.Sprintf("%s#%s#%t", apiType, endpoint, auth)
}

// Load replaces both caches with what is stored. A failure on the endpoint
// collection keeps the previous endpoint cache.
func (s *configService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(db.ConfigCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query config collection: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry ConfigEntry
		if err := cursor.Decode(&entry); err != nil {
			logger.Warnf("Skipping undecodable config entry: %v", err)
			continue
		}
		entries[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating config cursor: %w", err)
	}

	var endpoints map[string]*models.APIEndpointConfig
	apiCursor, err := s.db.Collection(db.APIConfigCollection).Find(ctx, bson.M{})
	if err != nil {
		logger.Errorf("Error querying API endpoint configs: %v", err)
	} else {
		defer apiCursor.Close(ctx)
		endpoints = make(map[string]*models.APIEndpointConfig)
		for apiCursor.Next(ctx) {
			var entry models.APIEndpointConfig
			if err := apiCursor.Decode(&entry); err != nil {
				logger.Warnf("Skipping undecodable API endpoint config: %v", err)
				continue
			}
			endpoints[apiCacheKey(entry.Type, entry.Endpoint, entry.AuthRequired)] = &entry
		}
	}

	s.mutex.Lock()
	s.cache = entries
	if endpoints != nil {
		s.apiCache = endpoints
	}
	s.mutex.Unlock()

	logger.Infof("Loaded %d config entries and %d API endpoint configs", len(entries), len(endpoints))
	return nil
}

// GetAllPublic returns the public entries, with APP_NAME always present.
func (s *configService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	cursor, err := s.db.Collection(db.ConfigCollection).Find(ctx, bson.M{"public": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query public config: %w", err)
	}
	defer cursor.Close(ctx)

	public := map[string]interface{}{}
	for cursor.Next(ctx) {
		var entry ConfigEntry
		if err := cursor.Decode(&entry); err == nil {
			public[entry.Key] = entry.Value
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public config cursor: %w", err)
	}
	if _, ok := public["APP_NAME"]; !ok {
		public["APP_NAME"] = s.cfg.AppName
	}
	return public, nil
}

// Get checks the stored settings, then the environment values that may be
// overridden at runtime.
func (s *configService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, ok := s.cache[key]
	s.mutex.RUnlock()
	if ok {
		return val, nil
	}

	switch key {
	case "APP_NAME":
		return s.cfg.AppName, nil
	case KeyDueReminderDays:
		return s.cfg.DueReminderWindowDays, nil
	case KeyStaleRequestHours:
		return int(s.cfg.StaleRequestAge / time.Hour), nil
	}
	return nil, fmt.Errorf("config key '%s' not found", key)
}

func (s *configService) GetString(ctx context.Context, key string, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	logger.Warnf("Config key '%s' is not a string (%T), using default", key, val)
	return defaultValue
}

func (s *configService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	// BSON numbers decode as int32, int64 or float64
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	logger.Warnf("Config key '%s' is not an integer (%T), using default", key, val)
	return defaultValue
}

func (s *configService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if b, ok := val.(bool); ok {
		return b
	}
	logger.Warnf("Config key '%s' is not a boolean (%T), using default", key, val)
	return defaultValue
}

// GetDuration reads a number of seconds.
func (s *configService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	if _, err := s.Get(ctx, key); err != nil {
		return defaultValue
	}
	secs := s.GetInt(ctx, key, -1)
	if secs < 0 {
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}

// SubscribeToChanges reloads everything whenever a key is published on the
// update channel. It blocks until ctx is done.
func (s *configService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		logger.Infof("Redis not configured, config changes will not be followed")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, configUpdateChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", configUpdateChannel, err)
	}
	logger.Infof("Subscribed to config updates on %s", configUpdateChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			logger.Infof("Config key %s changed, reloading", msg.Payload)
			if err := s.Load(ctx); err != nil {
				logger.Errorf("Failed to reload config: %v", err)
			}
		}
	}
}

// SetConfigValue upserts a key and tells every instance to reload.
func (s *configService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	_, err := s.db.Collection(db.ConfigCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value, "public": isPublic}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert config key '%s': %w", key, err)
	}

	s.mutex.Lock()
	s.cache[key] = value
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, configUpdateChannel, key).Err(); err != nil {
			logger.Warnf("Failed to publish config update for '%s': %v", key, err)
		}
	}
	logger.Infof("Config key '%s' updated", key)
	return nil
}

// GetAPIEndpointConfig returns the override for an endpoint, falling back from
// the authenticated entry to the guest one. nil means use the defaults.
func (s *configService) GetAPIEndpointConfig(ctx context.Context, apiType models.APIType, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if c, ok := s.apiCache[apiCacheKey(apiType, endpoint, isAuthenticated)]; ok {
		return c, nil
	}
	if isAuthenticated {
		if c, ok := s.apiCache[apiCacheKey(apiType, endpoint, false)]; ok {
			return c, nil
		}
	}
	return nil, nil
}
