package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"imjang/api/internal/models"
	"imjang/api/internal/services"
	"imjang/api/internal/utils"
)

// --- Mocks ---

// MockInspectionService
type MockInspectionService struct {
	mock.Mock
}

var _ services.IInspectionService = (*MockInspectionService)(nil)

func (m *MockInspectionService) CreateRequest(ctx context.Context, userID utils.SixID, in services.CreateRequestInput) (*models.InspectionRequest, error) {
	args := m.Called(ctx, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InspectionRequest), args.Error(1)
}

func (m *MockInspectionService) GetStatus(ctx context.Context, userID, listingID utils.SixID) (*models.DerivedStatus, error) {
	args := m.Called(ctx, userID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DerivedStatus), args.Error(1)
}

func (m *MockInspectionService) ListMyReports(ctx context.Context, userID utils.SixID) ([]services.MyReportItem, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.MyReportItem), args.Error(1)
}

func (m *MockInspectionService) ViewReport(ctx context.Context, userID, inspectionID utils.SixID) (*services.ConsumerReportView, error) {
	args := m.Called(ctx, userID, inspectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ConsumerReportView), args.Error(1)
}

func (m *MockInspectionService) ListOpenRequests(ctx context.Context, userID utils.SixID) ([]services.RequestCard, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.RequestCard), args.Error(1)
}

func (m *MockInspectionService) GetRequest(ctx context.Context, userID, requestID utils.SixID) (*services.RequestDetail, error) {
	args := m.Called(ctx, userID, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RequestDetail), args.Error(1)
}

func (m *MockInspectionService) Accept(ctx context.Context, userID, requestID utils.SixID) (*models.ActiveInspection, error) {
	args := m.Called(ctx, userID, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ActiveInspection), args.Error(1)
}

func (m *MockInspectionService) Reject(ctx context.Context, userID, requestID utils.SixID) (*models.InspectionRequest, error) {
	args := m.Called(ctx, userID, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InspectionRequest), args.Error(1)
}

func (m *MockInspectionService) ListActive(ctx context.Context, userID utils.SixID, mine bool) ([]services.ActiveCard, error) {
	args := m.Called(ctx, userID, mine)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.ActiveCard), args.Error(1)
}

func (m *MockInspectionService) ListCompleted(ctx context.Context, userID utils.SixID) ([]services.ActiveCard, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.ActiveCard), args.Error(1)
}

func (m *MockInspectionService) Cancel(ctx context.Context, userID, inspectionID utils.SixID, reason string, requeue bool) (*models.InspectionCancellation, error) {
	args := m.Called(ctx, userID, inspectionID, reason, requeue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InspectionCancellation), args.Error(1)
}

func (m *MockInspectionService) SaveProgress(ctx context.Context, userID, inspectionID utils.SixID, in services.ProgressInput) (*services.ProgressView, error) {
	args := m.Called(ctx, userID, inspectionID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ProgressView), args.Error(1)
}

func (m *MockInspectionService) GetProgress(ctx context.Context, userID, inspectionID utils.SixID) (*services.ProgressView, error) {
	args := m.Called(ctx, userID, inspectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ProgressView), args.Error(1)
}

func (m *MockInspectionService) SaveFloorplan(ctx context.Context, userID, inspectionID utils.SixID, in services.FloorplanInput) (*services.FloorplanView, error) {
	args := m.Called(ctx, userID, inspectionID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FloorplanView), args.Error(1)
}

func (m *MockInspectionService) GetFloorplan(ctx context.Context, userID, inspectionID utils.SixID) (*services.FloorplanView, error) {
	args := m.Called(ctx, userID, inspectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.FloorplanView), args.Error(1)
}

func (m *MockInspectionService) FinalizeReport(ctx context.Context, userID, inspectionID utils.SixID, in services.ReportInput) (*services.ReportView, error) {
	args := m.Called(ctx, userID, inspectionID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReportView), args.Error(1)
}

func (m *MockInspectionService) GetReport(ctx context.Context, userID, inspectionID utils.SixID) (*services.ReportView, error) {
	args := m.Called(ctx, userID, inspectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReportView), args.Error(1)
}

func (m *MockInspectionService) CreatePhotoUploadURL(ctx context.Context, userID, inspectionID utils.SixID, filename, contentType string) (*services.PhotoUpload, error) {
	args := m.Called(ctx, userID, inspectionID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PhotoUpload), args.Error(1)
}
