package handlers_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"imjang/api/internal/api/handlers"
	"imjang/api/internal/models"
	"imjang/api/internal/services"
	"imjang/api/internal/utils"
)

func setupAdminEngine(t *testing.T, svc *MockInspectionService, userID utils.SixID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	require.NoError(t, handlers.RegisterValidators())
	h := handlers.NewRestAdminInspectionHandler(svc)

	r := gin.New()
	admin := r.Group("/api/admin/inspections", withCaller(userID))
	admin.GET("/requests", h.ListRequests)
	admin.GET("/requests/:id", h.GetRequest)
	admin.GET("/active", h.ListActive)
	admin.GET("/completed", h.ListCompleted)
	admin.POST("/:id/accept", h.Accept)
	admin.POST("/:id/reject", h.Reject)
	admin.POST("/:id/cancel", h.Cancel)
	admin.POST("/:id/save-progress", h.SaveProgress)
	admin.GET("/:id/progress", h.GetProgress)
	admin.POST("/:id/floorplan", h.SaveFloorplan)
	admin.GET("/:id/floorplan", h.GetFloorplan)
	admin.POST("/:id/submit-report", h.SubmitReport)
	admin.GET("/:id/report", h.GetReport)
	admin.POST("/:id/photo-upload-url", h.CreatePhotoUploadURL)
	return r
}

func TestRestAdminInspectionHandler_ListRequests(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser := utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	cards := []services.RequestCard{
		{ID: utils.NewSixID(), Title: "매매 3.20억", Address: "서울 마포구 망원동 123-4", PriceText: "3.20억", PreferredDate: "2026-11-02"},
	}
	svc.On("ListOpenRequests", mock.Anything, agentUser).Return(cards, nil)

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/requests", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"priceText":"3.20억"`)
	assert.Contains(t, w.Body.String(), cards[0].ID.String())
}

func TestRestAdminInspectionHandler_GetRequest_Forbidden(t *testing.T) {
	svc := new(MockInspectionService)
	consumer, requestID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, consumer)

	svc.On("GetRequest", mock.Anything, consumer, requestID).Return(nil, fmt.Errorf("%w: caller is not an agent", services.ErrForbidden))

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/requests/"+requestID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRestAdminInspectionHandler_Accept(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, requestID, takenID := utils.NewSixID(), utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	active := &models.ActiveInspection{Base: models.NewBase(), RequestID: requestID}
	svc.On("Accept", mock.Anything, agentUser, requestID).Return(active, nil)
	svc.On("Accept", mock.Anything, agentUser, takenID).Return(nil, fmt.Errorf("%w: request is accepted", services.ErrConflict))

	w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+requestID.String()+"/accept", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, active.ID.String(), body["inspectionId"])
	assert.Equal(t, "active", body["status"])

	w = doJSON(r, http.MethodPost, "/api/admin/inspections/"+takenID.String()+"/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "conflict")
	svc.AssertExpectations(t)
}

func TestRestAdminInspectionHandler_Reject(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, requestID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	rejected := &models.InspectionRequest{Base: models.Base{ID: requestID}, Status: models.RequestStatusRejected}
	svc.On("Reject", mock.Anything, agentUser, requestID).Return(rejected, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+requestID.String()+"/reject", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", decodeBody(t, w)["status"])
}

func TestRestAdminInspectionHandler_ListActive_Mine(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser := utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	svc.On("ListActive", mock.Anything, agentUser, true).Return([]services.ActiveCard{}, nil)
	svc.On("ListActive", mock.Anything, agentUser, false).Return([]services.ActiveCard{{ID: utils.NewSixID(), Progress: 40}}, nil)

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/active?mine=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/admin/inspections/active", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"progress":40`)
	svc.AssertExpectations(t)
}

func TestRestAdminInspectionHandler_ListCompleted(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser := utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	svc.On("ListCompleted", mock.Anything, agentUser).Return([]services.ActiveCard{{ID: utils.NewSixID(), Progress: 100, ReportFinalized: true}}, nil)

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/completed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reportFinalized":true`)
}

func TestRestAdminInspectionHandler_Cancel(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	t.Run("empty body requeues", func(t *testing.T) {
		svc.On("Cancel", mock.Anything, agentUser, inspectionID, "", true).
			Return(&models.InspectionCancellation{InspectionID: inspectionID, Requeue: true}, nil).Once()

		w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/cancel", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"cancelled","requeued":true}`, w.Body.String())
	})

	t.Run("explicit no requeue", func(t *testing.T) {
		svc.On("Cancel", mock.Anything, agentUser, inspectionID, "일정 불가", false).
			Return(&models.InspectionCancellation{InspectionID: inspectionID, Reason: "일정 불가"}, nil).Once()

		w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/cancel", gin.H{"reason": "일정 불가", "requeue": false})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"cancelled","requeued":false}`, w.Body.String())
	})

	t.Run("not owner", func(t *testing.T) {
		svc.On("Cancel", mock.Anything, agentUser, inspectionID, "", true).
			Return(nil, fmt.Errorf("%w: inspection belongs to another agent", services.ErrForbidden)).Once()

		w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/cancel", gin.H{})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	svc.AssertExpectations(t)
}

func TestRestAdminInspectionHandler_SaveProgress(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	progress := 60
	checklist := &models.Checklist{External: []models.ChecklistItem{{ID: "roof", Label: "지붕 누수", Checked: true}}}
	svc.On("SaveProgress", mock.Anything, agentUser, inspectionID, services.ProgressInput{Checklist: checklist, Progress: &progress}).
		Return(&services.ProgressView{ChecklistData: checklist, Progress: 60}, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/save-progress", gin.H{
		"checklistData": checklist,
		"progress":      60,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(60), decodeBody(t, w)["progress"])

	w = doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/save-progress", gin.H{"progress": 140})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "SaveProgress", 1)
}

func TestRestAdminInspectionHandler_GetProgress_NotFound(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	svc.On("GetProgress", mock.Anything, agentUser, inspectionID).Return(nil, fmt.Errorf("%w: inspection %s", services.ErrNotFound, inspectionID))

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/"+inspectionID.String()+"/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestAdminInspectionHandler_Floorplan(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	image := "data:image/png;base64,iVBORw0KGgo="
	data := map[string]interface{}{"rooms": float64(3)}
	svc.On("SaveFloorplan", mock.Anything, agentUser, inspectionID, services.FloorplanInput{Data: data, Image: &image}).
		Return(&services.FloorplanView{FloorplanData: data, FloorplanURL: &image}, nil)
	svc.On("GetFloorplan", mock.Anything, agentUser, inspectionID).
		Return(&services.FloorplanView{FloorplanData: data}, nil)

	w := doJSON(r, http.MethodPost, "/api/admin/inspections/"+inspectionID.String()+"/floorplan", gin.H{
		"floorplanData":  data,
		"floorplanImage": image,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/admin/inspections/"+inspectionID.String()+"/floorplan", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"floorplanData":{"rooms":3},"floorplanURL":null}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestRestAdminInspectionHandler_SubmitReport(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	input := services.ReportInput{FinalOpinion: "구조 안전, 소음 다소 있음", Recommendation: models.RecommendationHold}
	svc.On("FinalizeReport", mock.Anything, agentUser, inspectionID, input).
		Return(&services.ReportView{InspectionID: inspectionID, Recommendation: models.RecommendationHold, FinalOpinion: input.FinalOpinion}, nil).Once()
	svc.On("FinalizeReport", mock.Anything, agentUser, inspectionID, input).
		Return(nil, fmt.Errorf("%w: report already finalized", services.ErrConflict)).Once()

	path := "/api/admin/inspections/" + inspectionID.String() + "/submit-report"
	payload := gin.H{"finalOpinion": input.FinalOpinion, "recommendation": "보류"}

	w := doJSON(r, http.MethodPost, path, payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "보류", decodeBody(t, w)["recommendation"])

	w = doJSON(r, http.MethodPost, path, payload)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, path, gin.H{"finalOpinion": "ok", "recommendation": "최고"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "recommendation")

	w = doJSON(r, http.MethodPost, path, gin.H{"recommendation": "추천"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

func TestRestAdminInspectionHandler_GetReport(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	svc.On("GetReport", mock.Anything, agentUser, inspectionID).Return(nil, fmt.Errorf("%w: report not finalized", services.ErrNotFound))

	w := doJSON(r, http.MethodGet, "/api/admin/inspections/"+inspectionID.String()+"/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestAdminInspectionHandler_CreatePhotoUploadURL(t *testing.T) {
	svc := new(MockInspectionService)
	agentUser, inspectionID := utils.NewSixID(), utils.NewSixID()
	r := setupAdminEngine(t, svc, agentUser)

	upload := &services.PhotoUpload{URL: "https://bucket.s3.amazonaws.com/presigned", Key: "inspections/x/photos/a_roof.jpg"}
	svc.On("CreatePhotoUploadURL", mock.Anything, agentUser, inspectionID, "roof.jpg", "image/jpeg").Return(upload, nil)

	path := "/api/admin/inspections/" + inspectionID.String() + "/photo-upload-url"
	w := doJSON(r, http.MethodPost, path, gin.H{"filename": "roof.jpg", "content_type": "image/jpeg"})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, upload.URL, body["url"])
	assert.Equal(t, upload.Key, body["key"])

	w = doJSON(r, http.MethodPost, path, gin.H{"filename": "notes.pdf", "content_type": "application/pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "CreatePhotoUploadURL", 1)
}
