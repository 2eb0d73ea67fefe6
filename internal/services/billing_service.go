package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// Balance is what a client owes across their projects.
type Balance struct {
	Projects    int            `json:"projects" bson:"projects"`
	TotalPrice  pricing.Amount `json:"total_price" bson:"total_price"`
	TotalPaid   pricing.Amount `json:"total_paid" bson:"total_paid"`
	Outstanding pricing.Amount `json:"outstanding" bson:"-"`
	Monthly     pricing.Amount `json:"monthly" bson:"monthly"`
}

// IBillingService answers payment questions over projects.
type IBillingService interface {
	OutstandingForUser(ctx context.Context, userID utils.SixID) (*Balance, error)
	FindOverduePayments(ctx context.Context, now time.Time) ([]models.Project, error)
	MarkOverdueNotified(ctx context.Context, projectID utils.SixID) error
}

type billingService struct {
	db            *mongo.Database
	configService IConfigService
}

func NewBillingService(database *mongo.Database, configService IConfigService) IBillingService {
	return &billingService{db: database, configService: configService}
}

// OutstandingForUser sums price and payments of the client's projects that
// are not cancelled.
func (s *billingService) OutstandingForUser(ctx context.Context, userID utils.SixID) (*Balance, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "status": bson.M{"$ne": models.StatusCancelled}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         nil,
			"projects":    bson.M{"$sum": 1},
			"total_price": bson.M{"$sum": "$price"},
			"total_paid":  bson.M{"$sum": "$amount_paid"},
			"monthly":     bson.M{"$sum": "$monthly_price"},
		}}},
	}
	cursor, err := s.db.Collection(db.ProjectsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Backend("aggregate balance", err)
	}
	var rows []Balance
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperr.Backend("decode balance", err)
	}
	b := &Balance{}
	if len(rows) > 0 {
		b = &rows[0]
	}
	if b.TotalPaid < b.TotalPrice {
		b.Outstanding = b.TotalPrice - b.TotalPaid
	}
	return b, nil
}

// FindOverduePayments lists projects past their due date plus the configured
// grace period that are not fully paid and were not flagged yet.
func (s *billingService) FindOverduePayments(ctx context.Context, now time.Time) ([]models.Project, error) {
	grace := s.configService.GetInt(ctx, KeyOverdueGraceDays, 0)
	cutoff := now.Add(-time.Duration(grace) * 24 * time.Hour)
	filter := bson.M{
		"due_date":         bson.M{"$lt": cutoff},
		"payment_status":   bson.M{"$ne": models.PaymentPaid},
		"status":           bson.M{"$ne": models.StatusCancelled},
		"overdue_notified": false,
	}
	cursor, err := s.db.Collection(db.ProjectsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue projects: %w", err)
	}
	defer cursor.Close(ctx)

	projects := []models.Project{}
	if err = cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode overdue projects: %w", err)
	}
	return projects, nil
}

func (s *billingService) MarkOverdueNotified(ctx context.Context, projectID utils.SixID) error {
	res, err := s.db.Collection(db.ProjectsCollection).UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{"$set": bson.M{"overdue_notified": true}},
	)
	if err != nil {
		return fmt.Errorf("db error marking project %s overdue notified: %w", projectID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("project %s: %w", projectID, apperr.ErrNotFound)
	}
	return nil
}
