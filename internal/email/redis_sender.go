package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

const (
	mockEmailTTL   = 10 * time.Minute
	mockEmailKeep  = 20
	mockKeyPattern = "mockemail:%s"
)

// StoredEmail is what RedisSender keeps per recipient.
type StoredEmail struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// RedisSender keeps the last messages of each recipient in Redis so
// end-to-end tests can read them through the service API.
type RedisSender struct {
	client *redis.Client
}

func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

func MockEmailKey(to string) string {
	return fmt.Sprintf(mockKeyPattern, strings.ToLower(to))
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	for _, addr := range to {
		data, err := json.Marshal(StoredEmail{To: addr, Subject: subject, Body: string(rawMessage), SentAt: now})
		if err != nil {
			return fmt.Errorf("failed to marshal email data: %w", err)
		}
		key := MockEmailKey(addr)
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, mockEmailKeep-1)
		pipe.Expire(ctx, key, mockEmailTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store email in Redis: %w", err)
	}
	logger.Debugf("Mock email stored in Redis for %v (Subject: %s)", to, subject)
	return nil
}

// LatestEmail returns the newest stored message for a recipient, or nil.
func LatestEmail(ctx context.Context, client *redis.Client, to string) (*StoredEmail, error) {
	raw, err := client.LIndex(ctx, MockEmailKey(to), 0).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e StoredEmail
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
