package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"imjang/api/internal/models"
	"imjang/api/internal/services"
	"imjang/api/internal/utils"
)

// RestInspectionHandler serves the consumer side of the inspection workflow.
type RestInspectionHandler struct {
	inspectionService services.IInspectionService
}

// NewRestInspectionHandler creates a new RestInspectionHandler.
func NewRestInspectionHandler(inspectionService services.IInspectionService) *RestInspectionHandler {
	return &RestInspectionHandler{inspectionService: inspectionService}
}

type createRequestBody struct {
	ListingID     string  `json:"listing_id" binding:"required"`
	PreferredDate string  `json:"preferred_date" binding:"required,datetime=2006-01-02"`
	ContactPhone  string  `json:"contact_phone" binding:"required,max=32"`
	RequestNote   *string `json:"request_note" binding:"omitempty,max=2000"`
}

// CreateRequest handles POST /api/inspections/requests
func (h *RestInspectionHandler) CreateRequest(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	listingID, err := utils.ParseSixID(body.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing_id format"})
		return
	}

	req, err := h.inspectionService.CreateRequest(c.Request.Context(), userID, services.CreateRequestInput{
		ListingID:     listingID,
		PreferredDate: body.PreferredDate,
		ContactPhone:  body.ContactPhone,
		RequestNote:   body.RequestNote,
	})
	if err != nil {
		respondError(c, err, "Failed to create inspection request")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"request_id": req.ID,
		"status":     models.DerivedStatusRequested,
	})
}

// GetStatus handles GET /api/inspections/status?listing_id=
// The status is null unless the caller's latest request is waiting or being inspected.
func (h *RestInspectionHandler) GetStatus(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	listingID, err := utils.ParseSixID(c.Query("listing_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing_id query parameter is required"})
		return
	}

	status, err := h.inspectionService.GetStatus(c.Request.Context(), userID, listingID)
	if err != nil {
		respondError(c, err, "Failed to get inspection status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// ListMyReports handles GET /api/inspections/my-reports
func (h *RestInspectionHandler) ListMyReports(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	items, err := h.inspectionService.ListMyReports(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to list reports")
		return
	}
	c.JSON(http.StatusOK, nonNil(items))
}

// ViewReport handles GET /api/inspections/:id/view-report
func (h *RestInspectionHandler) ViewReport(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	inspectionID, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.inspectionService.ViewReport(c.Request.Context(), userID, inspectionID)
	if err != nil {
		respondError(c, err, "Failed to load report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// nonNil keeps empty lists serialized as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
