package middleware_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
)

type MockConfigService struct {
	mock.Mock
	services.IConfigService
}

func (m *MockConfigService) GetAPIEndpointConfig(ctx context.Context, apiType models.APIType, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error) {
	args := m.Called(ctx, apiType, endpoint, isAuthenticated)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.APIEndpointConfig), args.Error(1)
}

type MockTurnstileVerifier struct {
	mock.Mock
}

func (m *MockTurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	args := m.Called(ctx, token, remoteIP)
	return args.Bool(0), args.Error(1)
}

func (m *MockTurnstileVerifier) GenerateHumanToken(ip, fingerprint, spaSession string, ttl time.Duration) (string, error) {
	args := m.Called(ip, fingerprint, spaSession, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockTurnstileVerifier) ValidateHumanToken(tokenString, ip, fingerprint, spaSession string) bool {
	return m.Called(tokenString, ip, fingerprint, spaSession).Bool(0)
}

type MockRestorer struct {
	mock.Mock
}

func (m *MockRestorer) Restore(ctx context.Context, token string) (*session.Session, error) {
	args := m.Called(token)
	s, _ := args.Get(0).(*session.Session)
	return s, args.Error(1)
}
