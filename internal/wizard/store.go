package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const (
	draftKeyPrefix = "wizard:draft:"
	claimKeyPrefix = "wizard:submitting:"

	// claimTTL bounds how long a crashed submit can hold a draft.
	claimTTL = time.Minute
)

var ErrDraftNotFound = errors.New("request draft not found or expired")

// ErrSubmitInProgress is returned by Claim while another submit holds the draft.
var ErrSubmitInProgress = fmt.Errorf("%w: the request is already being submitted", apperr.ErrConflict)

// DraftStore keeps in-progress wizards in Redis between API calls.
// Drafts expire after the configured TTL; every save extends it.
type DraftStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDraftStore(rdb *redis.Client, ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DraftStore{rdb: rdb, ttl: ttl}
}

func draftKey(id utils.SixID) string {
	return draftKeyPrefix + id.String()
}

// Create stores w under a fresh draft id.
func (s *DraftStore) Create(ctx context.Context, w *Wizard) (utils.SixID, error) {
	data, err := json.Marshal(w.Snapshot())
	if err != nil {
		return utils.SixID{}, fmt.Errorf("failed to encode draft: %w", err)
	}
	for attempt := 0; attempt < 3; attempt++ {
		id := utils.NewSixID()
		ok, err := s.rdb.SetNX(ctx, draftKey(id), data, s.ttl).Result()
		if err != nil {
			return utils.SixID{}, fmt.Errorf("failed to store draft: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return utils.SixID{}, errors.New("failed to allocate a draft id")
}

// Save overwrites an existing draft. A draft that expired meanwhile is not recreated.
func (s *DraftStore) Save(ctx context.Context, id utils.SixID, w *Wizard) error {
	data, err := json.Marshal(w.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, draftKey(id), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store draft: %w", err)
	}
	if !ok {
		return ErrDraftNotFound
	}
	return nil
}

func (s *DraftStore) Load(ctx context.Context, id utils.SixID) (*Wizard, error) {
	data, err := s.rdb.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return Restore(snap), nil
}

func (s *DraftStore) Delete(ctx context.Context, id utils.SixID) error {
	if err := s.rdb.Del(ctx, draftKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// Claim reserves draft id for one submit. The returned release must be called
// once the submit has finished, whatever its outcome; it runs even when ctx
// is already cancelled.
func (s *DraftStore) Claim(ctx context.Context, id utils.SixID) (release func(), err error) {
	key := claimKeyPrefix + id.String()
	ok, err := s.rdb.SetNX(ctx, key, 1, claimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim draft: %w", err)
	}
	if !ok {
		return nil, ErrSubmitInProgress
	}
	return func() {
		if err := s.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			logger.Warnf("Failed to release draft %s: %v", id, err)
		}
	}, nil
}
