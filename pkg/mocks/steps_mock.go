package mocks

import (
	"context"

	"github.com/dukex/procflow/pkg/steps"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of steps.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification steps.Notification) error {
	args := m.Called(ctx, notification)

	return args.Error(0)
}

// MockDocumentGenerator is a mock implementation of steps.DocumentGenerator.
type MockDocumentGenerator struct {
	mock.Mock
}

func (m *MockDocumentGenerator) Generate(ctx context.Context, request steps.DocumentRequest) (string, error) {
	args := m.Called(ctx, request)

	return args.String(0), args.Error(1)
}

// MockIntegrator is a mock implementation of steps.Integrator.
type MockIntegrator struct {
	mock.Mock
}

func (m *MockIntegrator) Call(ctx context.Context, request steps.IntegrationRequest) (steps.IntegrationResponse, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(steps.IntegrationResponse), args.Error(1)
}
