package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// RequestFilter narrows List. Zero fields match everything.
type RequestFilter struct {
	Status models.Status
	UserID *utils.SixID
	Page
}

// StatusChange is the outcome of an administrator changing a request's status.
// Exactly one of Request and Project is set, or neither when the request was
// already gone. Partial carries a PartialTransitionError alongside Project.
type StatusChange struct {
	Request *models.ProjectRequest `json:"request,omitempty"`
	Project *models.Project        `json:"project,omitempty"`
	Partial error                  `json:"-"`
}

// IRequestService manages inbound project requests.
type IRequestService interface {
	CreateRequest(ctx context.Context, req *models.ProjectRequest) error
	FindByID(ctx context.Context, id utils.SixID) (*models.ProjectRequest, error)
	List(ctx context.Context, f RequestFilter) ([]models.ProjectRequest, error)
	CountStale(ctx context.Context, createdBefore time.Time) (int64, error)
	UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*StatusChange, error)
	Delete(ctx context.Context, id utils.SixID) error
}

type requestService struct {
	db        *mongo.Database
	lifecycle ILifecycleService
}

func NewRequestService(database *mongo.Database, lifecycle ILifecycleService) IRequestService {
	return &requestService{db: database, lifecycle: lifecycle}
}

func (s *requestService) collection() *mongo.Collection {
	return s.db.Collection(db.RequestsCollection)
}

// CreateRequest stores a new request with status new and a fresh id. The price
// is recomputed from the feature selection, never taken from the caller.
func (s *requestService) CreateRequest(ctx context.Context, req *models.ProjectRequest) error {
	errs := validateSpec(&req.ProjectSpec)
	req.Contact.Email = models.NormalizeEmail(req.Contact.Email)
	if req.Contact.Name == "" {
		errs = append(errs, apperr.Invalid("name", "is required"))
	}
	if !models.ValidEmail(req.Contact.Email) {
		errs = append(errs, apperr.Invalid("email", "is not a valid email address"))
	}
	if err := errs.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	req.Reprice()
	req.Status = models.StatusNew
	req.CreatedAt = now
	req.UpdatedAt = now
	if _, err := db.InsertNew(ctx, s.collection(), req); err != nil {
		logger.Errorf("Failed to insert project request for %s: %v", req.Contact.Email, err)
		return apperr.Backend("insert project request", err)
	}
	logger.Infof("Project request %s created (%s, %d pages, %s)", req.ID, req.WebsiteType, req.PageCount, req.DesignTier)
	return nil
}

func (s *requestService) FindByID(ctx context.Context, id utils.SixID) (*models.ProjectRequest, error) {
	var req models.ProjectRequest
	if err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		return nil, lookupErr(err, "project request", id)
	}
	return &req, nil
}

func (s *requestService) List(ctx context.Context, f RequestFilter) ([]models.ProjectRequest, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.UserID != nil {
		filter["user_id"] = *f.UserID
	}
	opts := f.findOptions().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Backend("list project requests", err)
	}
	requests := []models.ProjectRequest{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, apperr.Backend("decode project requests", err)
	}
	return requests, nil
}

// CountStale counts requests still new that were created before the cutoff.
func (s *requestService) CountStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	n, err := s.collection().CountDocuments(ctx, bson.M{
		"status":     models.StatusNew,
		"created_at": bson.M{"$lt": createdBefore},
	})
	if err != nil {
		return 0, apperr.Backend("count stale requests", err)
	}
	return n, nil
}

// UpdateStatus changes an intake status in place. Any other status moves the
// request into the projects set through the lifecycle service.
func (s *requestService) UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*StatusChange, error) {
	if !status.ValidForRequest() {
		return nil, apperr.Invalid("status", "%q is not a valid status", status)
	}
	if !status.IsIntake() {
		project, err := s.lifecycle.Transition(ctx, id, status)
		if err != nil {
			if pte, ok := asPartial(err); ok {
				return &StatusChange{Project: project, Partial: pte}, nil
			}
			return nil, err
		}
		return &StatusChange{Project: project}, nil
	}

	var updated models.ProjectRequest
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return nil, lookupErr(err, "project request", id)
	}
	return &StatusChange{Request: &updated}, nil
}

// Delete discards a request without creating a project, e.g. spam.
func (s *requestService) Delete(ctx context.Context, id utils.SixID) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Backend("delete project request", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("project request %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
