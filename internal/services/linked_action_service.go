package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ErrActionInvalid covers unknown, expired and already used links.
var ErrActionInvalid = fmt.Errorf("action link is invalid, expired, or already used: %w", apperr.ErrNotFound)

// ILinkedActionService manages one-time emailed links.
type ILinkedActionService interface {
	CreatePasswordResetAction(ctx context.Context, userID utils.SixID) (*models.LinkedAction, error)
	FindAndValidateAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error)
	ConsumeAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error)
}

type linkedActionService struct {
	db       *mongo.Database
	resetTTL time.Duration
}

func NewLinkedActionService(database *mongo.Database, resetTTL time.Duration) ILinkedActionService {
	return &linkedActionService{db: database, resetTTL: resetTTL}
}

func (s *linkedActionService) collection() *mongo.Collection {
	return s.db.Collection(db.LinkedActionsCollection)
}

func (s *linkedActionService) CreatePasswordResetAction(ctx context.Context, userID utils.SixID) (*models.LinkedAction, error) {
	return s.createAction(ctx, userID, models.ActionPasswordReset, s.resetTTL, nil)
}

func (s *linkedActionService) createAction(ctx context.Context, userID utils.SixID, actionType models.LinkedActionType, ttl time.Duration, data map[string]string) (*models.LinkedAction, error) {
	now := time.Now().UTC()
	action, err := db.InsertNew(ctx, s.collection(), &models.LinkedAction{
		UserID:    userID,
		Type:      actionType,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return nil, apperr.Backend("insert linked action", err)
	}
	return action, nil
}

func (s *linkedActionService) validFilter(actionIDStr string, actionType models.LinkedActionType) (bson.M, error) {
	actionID, err := utils.ParseSixID(actionIDStr)
	if err != nil {
		return nil, ErrActionInvalid
	}
	return bson.M{
		"_id":        actionID,
		"type":       actionType,
		"executed":   nil,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}, nil
}

// FindAndValidateAction looks a link up without using it.
func (s *linkedActionService) FindAndValidateAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error) {
	filter, err := s.validFilter(actionIDStr, actionType)
	if err != nil {
		return nil, err
	}
	var action models.LinkedAction
	err = s.collection().FindOne(ctx, filter).Decode(&action)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrActionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("database error validating action %s: %w", actionIDStr, err)
	}
	return &action, nil
}

// ConsumeAction marks a valid link executed and returns it. Two concurrent
// calls cannot both succeed.
func (s *linkedActionService) ConsumeAction(ctx context.Context, actionIDStr string, actionType models.LinkedActionType) (*models.LinkedAction, error) {
	filter, err := s.validFilter(actionIDStr, actionType)
	if err != nil {
		return nil, err
	}
	var action models.LinkedAction
	err = s.collection().FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"executed": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&action)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrActionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume action %s: %w", actionIDStr, err)
	}
	return &action, nil
}
