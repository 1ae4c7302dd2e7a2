package services

import (
	"time"

	"imjang/api/internal/models"
	"imjang/api/internal/utils"
)

// CreateRequestInput carries the consumer-supplied fields of a new request.
// Listing attributes are never taken from the caller.
type CreateRequestInput struct {
	ListingID     utils.SixID
	PreferredDate string // YYYY-MM-DD
	ContactPhone  string
	RequestNote   *string
}

// ProgressInput is a partial save of the working document.
type ProgressInput struct {
	Checklist  *models.Checklist
	Progress   *int
	AgentNotes *string
}

// FloorplanInput is a floorplan save; at least one field must be set.
type FloorplanInput struct {
	Data  map[string]interface{}
	Image *string
}

// ReportInput finalizes a report.
type ReportInput struct {
	FinalOpinion   string
	Recommendation models.Recommendation
	Checklist      *models.Checklist
}

// RequestCard is the summary of an open request shown to agents.
type RequestCard struct {
	ID            utils.SixID `json:"id"`
	Title         string      `json:"title"`
	Address       string      `json:"address"`
	PriceText     string      `json:"priceText"`
	Img           *string     `json:"img"`
	PreferredDate string      `json:"preferred_date"`
}

// RequestDetail is the full view of one request.
type RequestDetail struct {
	ID            utils.SixID          `json:"id"`
	ListingID     utils.SixID          `json:"listing_id"`
	Status        models.RequestStatus `json:"status"`
	Title         string               `json:"title"`
	Address       string               `json:"address"`
	PriceText     string               `json:"priceText"`
	FeeWon        int                  `json:"fee_won"`
	PreferredDate string               `json:"preferred_date"`
	ContactPhone  string               `json:"contact_phone"`
	RequestNote   *string              `json:"request_note"`
	Description   *string              `json:"description"`
	Highlights    []string             `json:"highlights"`
	Photos        []string             `json:"photos"`
	RequestedAt   int64                `json:"requested_at"` // unix millis
	Img           *string              `json:"img"`
}

// ActiveCard summarizes an ActiveInspection with its request snapshot.
type ActiveCard struct {
	ID              utils.SixID `json:"id"`
	RequestID       utils.SixID `json:"requestId"`
	Title           string      `json:"title"`
	Address         string      `json:"address"`
	PriceText       string      `json:"priceText"`
	Progress        int         `json:"progress"`
	Img             *string     `json:"img"`
	ReportFinalized bool        `json:"reportFinalized"`
	ConfirmedAt     *time.Time  `json:"confirmedAt,omitempty"`
}

// ProgressView is the working document returned by progress load/save.
type ProgressView struct {
	ChecklistData *models.Checklist `json:"checklistData"`
	Progress      int               `json:"progress"`
	AgentNotes    *string           `json:"agentNotes,omitempty"`
}

// FloorplanView is the stored floorplan artifact.
type FloorplanView struct {
	FloorplanData map[string]interface{} `json:"floorplanData"`
	FloorplanURL  *string                `json:"floorplanURL"`
}

// ReportView is the agent's view of a finalized report.
type ReportView struct {
	InspectionID   utils.SixID           `json:"inspectionId"`
	RequestID      utils.SixID           `json:"requestId"`
	Title          string                `json:"title"`
	Address        string                `json:"address"`
	PriceText      string                `json:"priceText"`
	Recommendation models.Recommendation `json:"recommendation"`
	FinalOpinion   string                `json:"finalOpinion"`
	ChecklistData  *models.Checklist     `json:"checklistData"`
	FloorplanURL   *string               `json:"floorplanURL"`
	ConfirmedAt    time.Time             `json:"confirmedAt"`
}

// MyReportItem is one entry of a consumer's finalized reports.
type MyReportItem struct {
	ID             utils.SixID           `json:"id"`
	InspectionID   utils.SixID           `json:"inspectionId"`
	Title          string                `json:"title"`
	Address        string                `json:"address"`
	PriceText      string                `json:"priceText"`
	Recommendation models.Recommendation `json:"recommendation"`
	ConfirmedAt    time.Time             `json:"confirmedAt"`
	Img            *string               `json:"img"`
	AgentName      string                `json:"agentName"`
}

// ConsumerReportView is the requester's view of a finalized report.
type ConsumerReportView struct {
	Title          string                `json:"title"`
	Address        string                `json:"address"`
	PriceText      string                `json:"priceText"`
	FinalOpinion   string                `json:"finalOpinion"`
	Recommendation models.Recommendation `json:"recommendation"`
	ChecklistData  *models.Checklist     `json:"checklistData"`
	FloorplanURL   *string               `json:"floorplanURL"`
	ConfirmedAt    time.Time             `json:"confirmedAt"`
	AgentName      string                `json:"agentName"`
	AgentCompany   string                `json:"agentCompany"`
}

// PhotoUpload is a presigned checklist-photo upload target.
type PhotoUpload struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
}

func newRequestCard(r *models.InspectionRequest) RequestCard {
	return RequestCard{
		ID:            r.ID,
		Title:         r.Title,
		Address:       r.Address,
		PriceText:     r.PriceText,
		Img:           r.ImageURL,
		PreferredDate: r.PreferredDate,
	}
}

func newRequestDetail(r *models.InspectionRequest) *RequestDetail {
	highlights := r.Highlights
	if highlights == nil {
		highlights = []string{}
	}
	photos := r.PhotoURLs
	if photos == nil {
		photos = []string{}
	}
	return &RequestDetail{
		ID:            r.ID,
		ListingID:     r.ListingID,
		Status:        r.Status,
		Title:         r.Title,
		Address:       r.Address,
		PriceText:     r.PriceText,
		FeeWon:        r.FeeWon,
		PreferredDate: r.PreferredDate,
		ContactPhone:  r.ContactPhone,
		RequestNote:   r.RequestNote,
		Description:   r.Description,
		Highlights:    highlights,
		Photos:        photos,
		RequestedAt:   r.CreatedAt.UnixMilli(),
		Img:           r.ImageURL,
	}
}

func newActiveCard(a *models.ActiveInspection, r *models.InspectionRequest) ActiveCard {
	card := ActiveCard{
		ID:              a.ID,
		RequestID:       a.RequestID,
		Progress:        a.Progress,
		ReportFinalized: a.ReportFinalized,
		ConfirmedAt:     a.FinalizedAt,
	}
	if r != nil {
		card.Title = r.Title
		card.Address = r.Address
		card.PriceText = r.PriceText
		card.Img = r.ImageURL
	}
	return card
}

func newProgressView(a *models.ActiveInspection) *ProgressView {
	return &ProgressView{ChecklistData: a.Checklist, Progress: a.Progress, AgentNotes: a.AgentNotes}
}

func newFloorplanView(a *models.ActiveInspection) *FloorplanView {
	return &FloorplanView{FloorplanData: a.FloorplanData, FloorplanURL: a.DisplayFloorplanURL()}
}

func newReportView(a *models.ActiveInspection, r *models.InspectionRequest) *ReportView {
	view := &ReportView{
		InspectionID:  a.ID,
		RequestID:     a.RequestID,
		Title:         r.Title,
		Address:       r.Address,
		PriceText:     r.PriceText,
		ChecklistData: a.Checklist,
		FloorplanURL:  a.DisplayFloorplanURL(),
	}
	if a.Recommendation != nil {
		view.Recommendation = *a.Recommendation
	}
	if a.FinalOpinion != nil {
		view.FinalOpinion = *a.FinalOpinion
	}
	if a.FinalizedAt != nil {
		view.ConfirmedAt = *a.FinalizedAt
	}
	return view
}
