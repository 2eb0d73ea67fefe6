package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const maxModificationLength = 5000

// ProjectFilter narrows List. Zero fields match everything.
type ProjectFilter struct {
	Status models.Status
	UserID *utils.SixID
	Page
}

// IProjectService manages accepted projects.
type IProjectService interface {
	Create(ctx context.Context, p *models.Project) (*models.Project, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.Project, error)
	FindForActor(ctx context.Context, actor Actor, id utils.SixID) (*models.Project, error)
	List(ctx context.Context, f ProjectFilter) ([]models.Project, error)
	UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*models.Project, error)
	RecordPayment(ctx context.Context, id utils.SixID, amount pricing.Amount) (*models.Project, error)
	SetDueDate(ctx context.Context, id utils.SixID, due *time.Time) (*models.Project, error)
	AddModificationRequest(ctx context.Context, actor Actor, id utils.SixID, description string) (*models.ModificationRequest, error)
	FindDueSoon(ctx context.Context, now time.Time, window time.Duration) ([]models.Project, error)
}

type projectService struct {
	db *mongo.Database
}

func NewProjectService(database *mongo.Database) IProjectService {
	return &projectService{db: database}
}

func (s *projectService) collection() *mongo.Collection {
	return s.db.Collection(db.ProjectsCollection)
}

// Create stores a project entered directly by an administrator, without a
// request. Price and payment state are derived, never taken from input.
func (s *projectService) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	errs := validateSpec(&p.ProjectSpec)
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if !p.Status.ValidForProject() {
		errs = append(errs, apperr.Invalid("status", "%q is not a valid project status", p.Status))
	}
	p.Contact.Email = models.NormalizeEmail(p.Contact.Email)
	if p.Contact.Email != "" && !models.ValidEmail(p.Contact.Email) {
		errs = append(errs, apperr.Invalid("email", "is not a valid email address"))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p.Reprice()
	p.AmountPaid = 0
	p.PaymentStatus = models.PaymentUnpaid
	p.RequestID = nil
	p.ModificationRequests = []models.ModificationRequest{}
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := db.InsertNew(ctx, s.collection(), p); err != nil {
		return nil, apperr.Backend("insert project", err)
	}
	logger.Infof("Project %s created directly (%s)", p.ID, p.Title)
	return p, nil
}

func (s *projectService) FindByID(ctx context.Context, id utils.SixID) (*models.Project, error) {
	var p models.Project
	if err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, lookupErr(err, "project", id)
	}
	return &p, nil
}

// FindForActor hides projects of other clients behind ErrNotFound.
func (s *projectService) FindForActor(ctx context.Context, actor Actor, id utils.SixID) (*models.Project, error) {
	p, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && !p.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("project %s: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

func (s *projectService) List(ctx context.Context, f ProjectFilter) ([]models.Project, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.UserID != nil {
		filter["user_id"] = *f.UserID
	}
	opts := f.findOptions().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.find(ctx, filter, opts)
}

func (s *projectService) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Project, error) {
	cursor, err := s.collection().Find(ctx, filter, opts...)
	if err != nil {
		return nil, apperr.Backend("find projects", err)
	}
	projects := []models.Project{}
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, apperr.Backend("decode projects", err)
	}
	return projects, nil
}

func (s *projectService) update(ctx context.Context, id utils.SixID, update interface{}) (*models.Project, error) {
	var p models.Project
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		return nil, lookupErr(err, "project", id)
	}
	return &p, nil
}

// UpdateStatus sets a project status. Projects never go back to new.
func (s *projectService) UpdateStatus(ctx context.Context, id utils.SixID, status models.Status) (*models.Project, error) {
	if !status.ValidForProject() {
		return nil, apperr.Invalid("status", "%q is not a valid project status", status)
	}
	return s.update(ctx, id, bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
}

// RecordPayment adds amount to what was paid and re-derives the payment
// status in the same update.
func (s *projectService) RecordPayment(ctx context.Context, id utils.SixID, amount pricing.Amount) (*models.Project, error) {
	if amount <= 0 {
		return nil, apperr.Invalid("amount", "must be positive")
	}
	paid := bson.M{"$add": bson.A{"$amount_paid", amount}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"amount_paid": paid, "updated_at": time.Now().UTC()}}},
		{{Key: "$set", Value: bson.M{"payment_status": bson.M{"$switch": bson.M{
			"branches": bson.A{
				bson.M{"case": bson.M{"$lte": bson.A{"$amount_paid", 0}}, "then": models.PaymentUnpaid},
				bson.M{"case": bson.M{"$lt": bson.A{"$amount_paid", "$price"}}, "then": models.PaymentPartial},
			},
			"default": models.PaymentPaid,
		}}}}},
	}
	p, err := s.update(ctx, id, pipeline)
	if err != nil {
		return nil, err
	}
	logger.Infof("Payment of %d recorded on project %s, now %s", amount, id, p.PaymentStatus)
	return p, nil
}

// SetDueDate sets or, with nil, clears the due date. A new date re-arms the
// overdue notice.
func (s *projectService) SetDueDate(ctx context.Context, id utils.SixID, due *time.Time) (*models.Project, error) {
	now := time.Now().UTC()
	if due == nil {
		return s.update(ctx, id, bson.M{
			"$unset": bson.M{"due_date": ""},
			"$set":   bson.M{"overdue_notified": false, "updated_at": now},
		})
	}
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"due_date":         due.UTC(),
		"overdue_notified": false,
		"updated_at":       now,
	}})
}

// AddModificationRequest appends a change request. Clients may only ask on
// their own projects that are not finished.
func (s *projectService) AddModificationRequest(ctx context.Context, actor Actor, id utils.SixID, description string) (*models.ModificationRequest, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperr.Invalid("description", "is required")
	}
	if len(description) > maxModificationLength {
		return nil, apperr.Invalid("description", "must be at most %d characters", maxModificationLength)
	}

	p, err := s.FindForActor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusCompleted || p.Status == models.StatusCancelled {
		return nil, apperr.Invalid("status", "project is %s", p.Status)
	}

	mod := models.ModificationRequest{
		ID:          utils.NewSixID(),
		Description: description,
		Status:      "open",
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.update(ctx, id, bson.M{
		"$push": bson.M{"modification_requests": mod},
		"$set":  bson.M{"updated_at": mod.CreatedAt},
	})
	if err != nil {
		return nil, err
	}
	return &mod, nil
}

// FindDueSoon lists open projects due between now and now+window.
func (s *projectService) FindDueSoon(ctx context.Context, now time.Time, window time.Duration) ([]models.Project, error) {
	return s.find(ctx, bson.M{
		"status":   bson.M{"$in": bson.A{models.StatusPending, models.StatusInProgress}},
		"due_date": bson.M{"$gte": now, "$lte": now.Add(window)},
	}, options.Find().SetSort(bson.D{{Key: "due_date", Value: 1}}))
}
