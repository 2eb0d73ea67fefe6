package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/metrics"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// LifecycleStore is the storage the request to project move needs.
type LifecycleStore interface {
	// FindRequest returns apperr.ErrNotFound when the request does not exist.
	FindRequest(ctx context.Context, id utils.SixID) (*models.ProjectRequest, error)
	InsertProject(ctx context.Context, p *models.Project) error
	// DeleteRequest returns apperr.ErrNotFound when nothing was deleted.
	DeleteRequest(ctx context.Context, id utils.SixID) error
	// RunInTransaction returns db.ErrTransactionsUnsupported without calling
	// fn's writes when the deployment cannot run transactions.
	RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// ILifecycleService moves requests into the projects set.
type ILifecycleService interface {
	// Transition returns (nil, nil) when the request is missing or the new
	// status keeps it in intake. On a failed cleanup it returns the created
	// project together with an *apperr.PartialTransitionError.
	Transition(ctx context.Context, requestID utils.SixID, status models.Status) (*models.Project, error)
}

const (
	modeTransaction = "transaction"
	modeSequential  = "sequential"
)

var errRequestRemoved = errors.New("request removed while being moved")

type lifecycleService struct {
	store         LifecycleStore
	useTx         bool
	txUnsupported atomic.Bool
	now           func() time.Time
}

// NewLifecycleService runs each move in a transaction when useTransactions is
// set. After the first "unsupported" answer it stays sequential.
func NewLifecycleService(store LifecycleStore, useTransactions bool) ILifecycleService {
	return &lifecycleService{
		store: store,
		useTx: useTransactions,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *lifecycleService) Transition(ctx context.Context, requestID utils.SixID, status models.Status) (*models.Project, error) {
	if status.IsIntake() {
		metrics.Transitions.WithLabelValues(metrics.OutcomeSkipped, "").Inc()
		return nil, nil
	}
	if !status.ValidForProject() {
		return nil, apperr.Invalid("status", "%q is not a valid project status", status)
	}

	if s.useTx && !s.txUnsupported.Load() {
		project, err := s.transitionInTransaction(ctx, requestID, status)
		if !errors.Is(err, db.ErrTransactionsUnsupported) {
			return project, err
		}
		s.txUnsupported.Store(true)
		logger.Warnf("MongoDB deployment has no transactions, moving requests without them")
	}
	return s.transitionSequential(ctx, requestID, status)
}

func (s *lifecycleService) transitionInTransaction(ctx context.Context, requestID utils.SixID, status models.Status) (*models.Project, error) {
	var project *models.Project
	err := s.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		project = nil
		req, err := s.store.FindRequest(txCtx, requestID)
		if err != nil {
			return err
		}
		p := models.NewProjectFromRequest(req, status, s.now())
		if err := s.store.InsertProject(txCtx, p); err != nil {
			return err
		}
		if err := s.store.DeleteRequest(txCtx, requestID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return errRequestRemoved
			}
			return err
		}
		project = p
		return nil
	})

	switch {
	case errors.Is(err, db.ErrTransactionsUnsupported):
		return nil, err
	case errors.Is(err, apperr.ErrNotFound):
		metrics.Transitions.WithLabelValues(metrics.OutcomeNotFound, modeTransaction).Inc()
		return nil, nil
	case err != nil:
		metrics.Transitions.WithLabelValues(metrics.OutcomeFailed, modeTransaction).Inc()
		logger.Errorf("Moving request %s to projects failed, nothing written: %v", requestID, err)
		return nil, apperr.Backend("move request to projects", err)
	}
	metrics.Transitions.WithLabelValues(metrics.OutcomeMoved, modeTransaction).Inc()
	logger.Infof("Request %s moved to projects with status %s", requestID, status)
	return project, nil
}

// transitionSequential inserts, then deletes. A crash in between leaves both
// records; the project carries request_id so the pair can be reconciled.
func (s *lifecycleService) transitionSequential(ctx context.Context, requestID utils.SixID, status models.Status) (*models.Project, error) {
	req, err := s.store.FindRequest(ctx, requestID)
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.Transitions.WithLabelValues(metrics.OutcomeNotFound, modeSequential).Inc()
		return nil, nil
	}
	if err != nil {
		metrics.Transitions.WithLabelValues(metrics.OutcomeFailed, modeSequential).Inc()
		return nil, apperr.Backend("find request", err)
	}

	project := models.NewProjectFromRequest(req, status, s.now())
	if err := s.store.InsertProject(ctx, project); err != nil {
		metrics.Transitions.WithLabelValues(metrics.OutcomeFailed, modeSequential).Inc()
		logger.Errorf("Creating project from request %s failed: %v", requestID, err)
		return nil, apperr.Backend("insert project", err)
	}

	if err := s.store.DeleteRequest(ctx, requestID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		metrics.Transitions.WithLabelValues(metrics.OutcomePartial, modeSequential).Inc()
		logger.Errorf("Project %s created but request could not be removed: %v", project.ID, err)
		return project, &apperr.PartialTransitionError{ProjectID: project.ID, Err: err}
	}
	metrics.Transitions.WithLabelValues(metrics.OutcomeMoved, modeSequential).Inc()
	logger.Infof("Request %s moved to projects with status %s", requestID, status)
	return project, nil
}

func asPartial(err error) (*apperr.PartialTransitionError, bool) {
	var pte *apperr.PartialTransitionError
	ok := errors.As(err, &pte)
	return pte, ok
}

type mongoLifecycleStore struct {
	client   *mongo.Client
	requests *mongo.Collection
	projects *mongo.Collection
}

// NewMongoLifecycleStore works on the request and project collections of database.
func NewMongoLifecycleStore(database *mongo.Database) LifecycleStore {
	return &mongoLifecycleStore{
		client:   database.Client(),
		requests: database.Collection(db.RequestsCollection),
		projects: database.Collection(db.ProjectsCollection),
	}
}

func (m *mongoLifecycleStore) FindRequest(ctx context.Context, id utils.SixID) (*models.ProjectRequest, error) {
	var req models.ProjectRequest
	if err := m.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		return nil, lookupErr(err, "project request", id)
	}
	return &req, nil
}

func (m *mongoLifecycleStore) InsertProject(ctx context.Context, p *models.Project) error {
	if _, err := db.InsertOne(ctx, m.projects, p); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return fmt.Errorf("project %s already exists: %w", p.ID, apperr.ErrConflict)
		}
		return err
	}
	return nil
}

func (m *mongoLifecycleStore) DeleteRequest(ctx context.Context, id utils.SixID) error {
	res, err := m.requests.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("project request %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (m *mongoLifecycleStore) RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return db.RunInTransaction(ctx, m.client, fn)
}
