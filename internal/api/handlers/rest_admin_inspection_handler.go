package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"imjang/api/internal/models"
	"imjang/api/internal/services"
)

// RestAdminInspectionHandler serves the agent side of the inspection workflow under /api/admin.
type RestAdminInspectionHandler struct {
	inspectionService services.IInspectionService
}

// NewRestAdminInspectionHandler creates a new RestAdminInspectionHandler.
func NewRestAdminInspectionHandler(inspectionService services.IInspectionService) *RestAdminInspectionHandler {
	return &RestAdminInspectionHandler{inspectionService: inspectionService}
}

type cancelBody struct {
	Reason  string `json:"reason" binding:"max=1000"`
	Requeue *bool  `json:"requeue"`
}

type saveProgressBody struct {
	ChecklistData *models.Checklist `json:"checklistData"`
	Progress      *int              `json:"progress" binding:"omitempty,min=0,max=100"`
	AgentNotes    *string           `json:"agentNotes"`
}

type floorplanBody struct {
	FloorplanData  map[string]interface{} `json:"floorplanData"`
	FloorplanImage *string                `json:"floorplanImage"`
}

type submitReportBody struct {
	FinalOpinion   string                `json:"finalOpinion" binding:"required,max=5000"`
	Recommendation models.Recommendation `json:"recommendation" binding:"required,recommendation"`
	ChecklistData  *models.Checklist     `json:"checklistData"`
}

type photoUploadBody struct {
	Filename    string `json:"filename" binding:"required,max=255"`
	ContentType string `json:"content_type" binding:"required,startswith=image/"`
}

// ListRequests handles GET /api/admin/inspections/requests
func (h *RestAdminInspectionHandler) ListRequests(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	cards, err := h.inspectionService.ListOpenRequests(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to list inspection requests")
		return
	}
	c.JSON(http.StatusOK, nonNil(cards))
}

// GetRequest handles GET /api/admin/inspections/requests/:id
func (h *RestAdminInspectionHandler) GetRequest(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.inspectionService.GetRequest(c.Request.Context(), userID, requestID)
	if err != nil {
		respondError(c, err, "Failed to load inspection request")
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Accept handles POST /api/admin/inspections/:id/accept where :id is the request id.
func (h *RestAdminInspectionHandler) Accept(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c)
	if !ok {
		return
	}
	active, err := h.inspectionService.Accept(c.Request.Context(), userID, requestID)
	if err != nil {
		respondError(c, err, "Failed to accept inspection request")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inspectionId": active.ID,
		"status":       models.DerivedStatusActive,
	})
}

// Reject handles POST /api/admin/inspections/:id/reject where :id is the request id.
func (h *RestAdminInspectionHandler) Reject(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c)
	if !ok {
		return
	}
	req, err := h.inspectionService.Reject(c.Request.Context(), userID, requestID)
	if err != nil {
		respondError(c, err, "Failed to reject inspection request")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     req.ID,
		"status": req.Status,
	})
}

// ListActive handles GET /api/admin/inspections/active[?mine=true]
func (h *RestAdminInspectionHandler) ListActive(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	mine, _ := strconv.ParseBool(c.DefaultQuery("mine", "false"))
	cards, err := h.inspectionService.ListActive(c.Request.Context(), userID, mine)
	if err != nil {
		respondError(c, err, "Failed to list active inspections")
		return
	}
	c.JSON(http.StatusOK, nonNil(cards))
}

// ListCompleted handles GET /api/admin/inspections/completed
func (h *RestAdminInspectionHandler) ListCompleted(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	cards, err := h.inspectionService.ListCompleted(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to list completed inspections")
		return
	}
	c.JSON(http.StatusOK, nonNil(cards))
}

// Cancel handles POST /api/admin/inspections/:id/cancel. The body is optional and requeue defaults to true.
func (h *RestAdminInspectionHandler) Cancel(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return
	}
	requeue := true
	if body.Requeue != nil {
		requeue = *body.Requeue
	}

	record, err := h.inspectionService.Cancel(c.Request.Context(), userID, inspectionID, body.Reason, requeue)
	if err != nil {
		respondError(c, err, "Failed to cancel inspection")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   models.RequestStatusCancelled,
		"requeued": record.Requeue,
	})
}

// SaveProgress handles POST /api/admin/inspections/:id/save-progress
func (h *RestAdminInspectionHandler) SaveProgress(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	var body saveProgressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	view, err := h.inspectionService.SaveProgress(c.Request.Context(), userID, inspectionID, services.ProgressInput{
		Checklist:  body.ChecklistData,
		Progress:   body.Progress,
		AgentNotes: body.AgentNotes,
	})
	if err != nil {
		respondError(c, err, "Failed to save progress")
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetProgress handles GET /api/admin/inspections/:id/progress
func (h *RestAdminInspectionHandler) GetProgress(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.inspectionService.GetProgress(c.Request.Context(), userID, inspectionID)
	if err != nil {
		respondError(c, err, "Failed to load progress")
		return
	}
	c.JSON(http.StatusOK, view)
}

// SaveFloorplan handles POST /api/admin/inspections/:id/floorplan
func (h *RestAdminInspectionHandler) SaveFloorplan(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	var body floorplanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	view, err := h.inspectionService.SaveFloorplan(c.Request.Context(), userID, inspectionID, services.FloorplanInput{
		Data:  body.FloorplanData,
		Image: body.FloorplanImage,
	})
	if err != nil {
		respondError(c, err, "Failed to save floorplan")
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetFloorplan handles GET /api/admin/inspections/:id/floorplan
func (h *RestAdminInspectionHandler) GetFloorplan(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.inspectionService.GetFloorplan(c.Request.Context(), userID, inspectionID)
	if err != nil {
		respondError(c, err, "Failed to load floorplan")
		return
	}
	c.JSON(http.StatusOK, view)
}

// SubmitReport handles POST /api/admin/inspections/:id/submit-report
func (h *RestAdminInspectionHandler) SubmitReport(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	var body submitReportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	view, err := h.inspectionService.FinalizeReport(c.Request.Context(), userID, inspectionID, services.ReportInput{
		FinalOpinion:   body.FinalOpinion,
		Recommendation: body.Recommendation,
		Checklist:      body.ChecklistData,
	})
	if err != nil {
		respondError(c, err, "Failed to submit report")
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetReport handles GET /api/admin/inspections/:id/report
func (h *RestAdminInspectionHandler) GetReport(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.inspectionService.GetReport(c.Request.Context(), userID, inspectionID)
	if err != nil {
		respondError(c, err, "Failed to load report")
		return
	}
	c.JSON(http.StatusOK, view)
}

// CreatePhotoUploadURL handles POST /api/admin/inspections/:id/photo-upload-url
func (h *RestAdminInspectionHandler) CreatePhotoUploadURL(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	var body photoUploadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	upload, err := h.inspectionService.CreatePhotoUploadURL(c.Request.Context(), userID, inspectionID, body.Filename, body.ContentType)
	if err != nil {
		respondError(c, err, "Failed to create upload URL")
		return
	}
	c.JSON(http.StatusOK, upload)
}
