package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// memLifecycleStore keeps both sets in maps. Transactions snapshot the maps
// and restore them when fn fails.
type memLifecycleStore struct {
	mu          sync.Mutex
	requests    map[utils.SixID]models.ProjectRequest
	projects    map[utils.SixID]models.Project
	noTx        bool
	txCalls     int
	insertErr   error
	deleteErr   error
	deleteFirst bool // simulate a concurrent delete before ours
}

func newMemLifecycleStore() *memLifecycleStore {
	return &memLifecycleStore{
		requests: map[utils.SixID]models.ProjectRequest{},
		projects: map[utils.SixID]models.Project{},
	}
}

func (m *memLifecycleStore) FindRequest(_ context.Context, id utils.SixID) (*models.ProjectRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return &r, nil
}

func (m *memLifecycleStore) InsertProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.projects[p.ID]; ok {
		return apperr.ErrConflict
	}
	m.projects[p.ID] = *p
	return nil
}

func (m *memLifecycleStore) DeleteRequest(_ context.Context, id utils.SixID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if m.deleteFirst {
		delete(m.requests, id)
	}
	if _, ok := m.requests[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *memLifecycleStore) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	m.txCalls++
	if m.noTx {
		m.mu.Unlock()
		return db.ErrTransactionsUnsupported
	}
	reqs := make(map[utils.SixID]models.ProjectRequest, len(m.requests))
	for k, v := range m.requests {
		reqs[k] = v
	}
	projs := make(map[utils.SixID]models.Project, len(m.projects))
	for k, v := range m.projects {
		projs[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.requests, m.projects = reqs, projs
		m.mu.Unlock()
		return err
	}
	return nil
}

func seedRequest(m *memLifecycleStore) models.ProjectRequest {
	userID := utils.NewSixID()
	r := models.ProjectRequest{
		ProjectSpec: models.ProjectSpec{
			Title:        "Bakery site",
			Description:  "Shop front",
			WebsiteType:  models.WebsiteEcommerce,
			PageCount:    8,
			DesignTier:   pricing.TierPremium,
			HasEcommerce: true,
			HasSEO:       true,
			ExampleURLs:  []string{"https://a.example"},
		},
		UserID:  &userID,
		Contact: models.Contact{Name: "Ana", Email: "ana@example.com"},
		Status:  models.StatusNew,
	}
	r.GenID()
	r.Reprice()
	m.requests[r.ID] = r
	return r
}

func TestTransition_MovesRequestInTransaction(t *testing.T) {
	store := newMemLifecycleStore()
	req := seedRequest(store)
	svc := NewLifecycleService(store, true)

	p, err := svc.Transition(context.Background(), req.ID, models.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, 1, store.txCalls)
	assert.Equal(t, req.ID, p.ID)
	assert.Equal(t, req.ID, *p.RequestID)
	assert.Equal(t, models.StatusInProgress, p.Status)
	assert.Equal(t, models.PaymentUnpaid, p.PaymentStatus)
	assert.Equal(t, req.Price, p.Price)
	assert.Equal(t, req.ExampleURLs, p.ExampleURLs)
	assert.Equal(t, req.Contact, p.Contact)
	assert.Empty(t, store.requests)
	assert.Contains(t, store.projects, req.ID)
}

func TestTransition_IntakeStatusIsNoop(t *testing.T) {
	for _, status := range []models.Status{models.StatusNew, models.StatusPending} {
		store := newMemLifecycleStore()
		req := seedRequest(store)
		svc := NewLifecycleService(store, true)

		p, err := svc.Transition(context.Background(), req.ID, status)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, store.txCalls)
		assert.Contains(t, store.requests, req.ID)
	}
}

func TestTransition_InvalidStatus(t *testing.T) {
	store := newMemLifecycleStore()
	req := seedRequest(store)

	_, err := NewLifecycleService(store, true).Transition(context.Background(), req.ID, models.Status("archived"))
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, store.requests, req.ID)
}

func TestTransition_MissingRequestReturnsNil(t *testing.T) {
	for _, useTx := range []bool{true, false} {
		store := newMemLifecycleStore()
		p, err := NewLifecycleService(store, useTx).Transition(context.Background(), utils.NewSixID(), models.StatusCompleted)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Empty(t, store.projects)
	}
}

func TestTransition_SecondCallIsNoop(t *testing.T) {
	for _, useTx := range []bool{true, false} {
		store := newMemLifecycleStore()
		req := seedRequest(store)
		svc := NewLifecycleService(store, useTx)

		first, err := svc.Transition(context.Background(), req.ID, models.StatusInProgress)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := svc.Transition(context.Background(), req.ID, models.StatusCompleted)
		require.NoError(t, err)
		assert.Nil(t, second)
		assert.Len(t, store.projects, 1)
		assert.Empty(t, store.requests)
		assert.Equal(t, models.StatusInProgress, store.projects[req.ID].Status)
	}
}

func TestTransition_InsertFailureLeavesRequest(t *testing.T) {
	for _, useTx := range []bool{true, false} {
		store := newMemLifecycleStore()
		req := seedRequest(store)
		store.insertErr = errors.New("disk full")

		p, err := NewLifecycleService(store, useTx).Transition(context.Background(), req.ID, models.StatusCancelled)
		assert.Nil(t, p)
		var be *apperr.BackendError
		assert.ErrorAs(t, err, &be)
		assert.Contains(t, store.requests, req.ID)
		assert.Empty(t, store.projects)
	}
}

func TestTransition_DeleteFailureInTransactionRollsBack(t *testing.T) {
	store := newMemLifecycleStore()
	req := seedRequest(store)
	store.deleteErr = errors.New("write conflict")

	p, err := NewLifecycleService(store, true).Transition(context.Background(), req.ID, models.StatusCompleted)
	assert.Nil(t, p)
	assert.Error(t, err)
	assert.Contains(t, store.requests, req.ID)
	assert.Empty(t, store.projects, "project insert is rolled back with the transaction")
}

func TestTransition_DeleteFailureSequentialIsPartial(t *testing.T) {
	store := newMemLifecycleStore()
	req := seedRequest(store)
	store.deleteErr = errors.New("connection reset")

	p, err := NewLifecycleService(store, false).Transition(context.Background(), req.ID, models.StatusCompleted)
	require.NotNil(t, p)
	var pte *apperr.PartialTransitionError
	require.ErrorAs(t, err, &pte)
	assert.Equal(t, req.ID, pte.ProjectID)
	assert.Contains(t, store.requests, req.ID)
	assert.Contains(t, store.projects, req.ID)
}

func TestTransition_FallsBackWhenTransactionsUnsupported(t *testing.T) {
	store := newMemLifecycleStore()
	store.noTx = true
	first := seedRequest(store)
	second := seedRequest(store)
	svc := NewLifecycleService(store, true)

	p, err := svc.Transition(context.Background(), first.ID, models.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, store.txCalls)

	_, err = svc.Transition(context.Background(), second.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, 1, store.txCalls, "unsupported answer is remembered")
	assert.Empty(t, store.requests)
	assert.Len(t, store.projects, 2)
}

func TestTransition_ConcurrentDeleteIsTolerated(t *testing.T) {
	store := newMemLifecycleStore()
	req := seedRequest(store)
	store.deleteFirst = true

	p, err := NewLifecycleService(store, false).Transition(context.Background(), req.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.NotNil(t, p)

	store = newMemLifecycleStore()
	req = seedRequest(store)
	store.deleteFirst = true
	p, err = NewLifecycleService(store, true).Transition(context.Background(), req.ID, models.StatusInProgress)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, errRequestRemoved)
	assert.Empty(t, store.projects)
}

func TestMongoLifecycleStore_Transition(t *testing.T) {
	database := utils.SetupTestDB(t, "testdb_lifecycle", db.RequestsCollection, db.ProjectsCollection)
	ctx := context.Background()
	store := NewMongoLifecycleStore(database)

	mem := newMemLifecycleStore()
	req := seedRequest(mem)
	_, err := database.Collection(db.RequestsCollection).InsertOne(ctx, req)
	require.NoError(t, err)

	// Works on replica sets and, through the fallback, on standalone servers
	p, err := NewLifecycleService(store, true).Transition(ctx, req.ID, models.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = store.FindRequest(ctx, req.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var stored models.Project
	require.NoError(t, database.Collection(db.ProjectsCollection).FindOne(ctx, map[string]interface{}{"_id": req.ID}).Decode(&stored))
	assert.Equal(t, req.Price, stored.Price)
	assert.Equal(t, models.StatusInProgress, stored.Status)

	assert.ErrorIs(t, store.InsertProject(ctx, p), apperr.ErrConflict)

	again, err := NewLifecycleService(store, true).Transition(ctx, req.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Nil(t, again)
	count, err := database.Collection(db.ProjectsCollection).CountDocuments(ctx, map[string]interface{}{"_id": req.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
