package db

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

// Operation is one insert attempt. It must generate a fresh id on every call.
type Operation func() error

// IsDuplicateKeyError classifies an error as an id collision.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// Try runs op, retrying on _id collisions up to DefaultMaxRetries times.
// This covers random id collisions only; it is not a retry of user operations.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsIDCollision)
}

// WithRetries runs op once plus up to maxRetries retries while isDuplicateKey
// holds for the returned error, with a short incremental backoff.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxRetries || !isDuplicateKey(err) {
			break
		}
		logger.Debugf("Duplicate key on attempt %d, retrying with a new id", attempt+1)
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsMongoDuplicateKeyError reports a duplicate key (code 11000) on any index.
func IsMongoDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// IsIDCollision reports a duplicate key on the _id index only, so that a
// unique email violation is not mistaken for an id collision.
func IsIDCollision(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == 11000 && strings.Contains(e.Message, "index: _id_") {
			return true
		}
	}
	return false
}
