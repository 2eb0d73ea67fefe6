package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) FindByID(ctx context.Context, id utils.SixID) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func testUser(admin bool) *models.User {
	u := &models.User{Email: "ana@example.com", Name: "Ana", IsAdmin: admin}
	u.GenID()
	return u
}

func TestManager_StartRestore(t *testing.T) {
	users := &mockUsers{}
	m := NewManager(nil, "secret", time.Hour, users)
	ctx := context.Background()
	user := testUser(true)
	users.On("FindByID", mock.Anything, user.ID).Return(user, nil)

	s, err := m.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user.ID, s.UserID)
	assert.True(t, s.IsAdmin)

	restored, err := m.Restore(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, "Ana", restored.Name)
	assert.Equal(t, "ana@example.com", restored.Profile().Email)
	assert.Equal(t, user.ID, restored.Actor().UserID)

	_, err = m.Restore(ctx, "")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Restore(ctx, "bogus")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = NewManager(nil, "other", time.Hour, users).Restore(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
	users.AssertExpectations(t)
}

func TestManager_RestoreReadsCurrentUser(t *testing.T) {
	users := &mockUsers{}
	m := NewManager(nil, "secret", time.Hour, users)
	ctx := context.Background()
	user := testUser(true)

	s, err := m.Start(ctx, user)
	require.NoError(t, err)

	demoted := *user
	demoted.IsAdmin = false
	demoted.Name = "Ana Maria"
	users.On("FindByID", mock.Anything, user.ID).Return(&demoted, nil).Once()

	restored, err := m.Restore(ctx, s.Token)
	require.NoError(t, err)
	assert.False(t, restored.IsAdmin)
	assert.Equal(t, "Ana Maria", restored.Name)
	assert.False(t, restored.Actor().IsAdmin)

	users.On("FindByID", mock.Anything, user.ID).Return(nil, fmt.Errorf("user %s: %w", user.ID, apperr.ErrNotFound)).Once()
	_, err = m.Restore(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)

	users.On("FindByID", mock.Anything, user.ID).Return(nil, errors.New("connection refused")).Once()
	_, err = m.Restore(ctx, s.Token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
	users.AssertExpectations(t)
}

func TestManager_SignOutRevokes(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	m := NewManager(rdb, "secret", time.Hour, &mockUsers{})
	ctx := context.Background()

	s, err := m.Start(ctx, testUser(false))
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx, s))

	_, err = m.Restore(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)

	ttl, err := rdb.TTL(ctx, revokedKeyPrefix+s.ID).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Hour)
}

func TestManager_Refresh(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	users := &mockUsers{}
	m := NewManager(rdb, "secret", time.Hour, users)
	ctx := context.Background()

	user := testUser(false)
	s, err := m.Start(ctx, user)
	require.NoError(t, err)

	renamed := *user
	renamed.Name = "Ana Maria"
	users.On("FindByID", mock.Anything, user.ID).Return(&renamed, nil)

	next, err := m.Refresh(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)
	assert.Equal(t, "Ana Maria", next.Name)

	_, err = m.Restore(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Restore(ctx, next.Token)
	assert.NoError(t, err)
	users.AssertExpectations(t)
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	s := &Session{ID: "x"}
	assert.Same(t, s, FromContext(WithSession(context.Background(), s)))
}
