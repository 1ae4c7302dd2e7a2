package models

import (
	"time"

	"imjang/api/internal/utils"
)

// RequestStatus is the lifecycle state of an InspectionRequest.
type RequestStatus string

const (
	RequestStatusRequested RequestStatus = "requested"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusCompleted RequestStatus = "completed"
)

// requestTransitions lists every permitted status edge.
// accepted -> requested is the requeue edge taken by a cancellation.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusRequested: {RequestStatusAccepted, RequestStatusRejected},
	RequestStatusAccepted:  {RequestStatusCompleted, RequestStatusRequested, RequestStatusCancelled},
}

// IsValid returns true if the status is a recognized value.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusRequested, RequestStatusAccepted, RequestStatusRejected,
		RequestStatusCancelled, RequestStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no edge leaves the status.
func (s RequestStatus) IsTerminal() bool {
	return len(requestTransitions[s]) == 0
}

// CanTransitionTo reports whether a request may move from s to target.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// DerivedStatus is the externally visible status reported to the requester.
// Only two values exist; every other situation is reported as no status at all.
type DerivedStatus string

const (
	DerivedStatusRequested DerivedStatus = "requested"
	DerivedStatusActive    DerivedStatus = "active"
)

// Recommendation is the agent's verdict in a finalized report.
type Recommendation string

const (
	RecommendationStrong       Recommendation = "적극추천"
	RecommendationRecommend    Recommendation = "추천"
	RecommendationHold         Recommendation = "보류"
	RecommendationNotRecommend Recommendation = "비추천"
)

// IsValid returns true if the recommendation is one of the four verdicts.
func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendationStrong, RecommendationRecommend, RecommendationHold, RecommendationNotRecommend:
		return true
	}
	return false
}

// MaxChecklistPhotos caps the photos attached to one checklist item.
const MaxChecklistPhotos = 3

// ChecklistItem is one on-site check with optional evidence.
type ChecklistItem struct {
	ID      string   `bson:"id" json:"id"`
	Label   string   `bson:"label" json:"label"`
	Checked bool     `bson:"checked" json:"checked"`
	Photos  []string `bson:"photos" json:"photos"`
	Memo    string   `bson:"memo" json:"memo"`
}

// Checklist is the structured working document of an inspection.
// A nil section means "not provided" when used as a partial update.
type Checklist struct {
	Floorplan *string         `bson:"floorplan,omitempty" json:"floorplan,omitempty"`
	External  []ChecklistItem `bson:"external,omitempty" json:"external,omitempty"`
	Internal  []ChecklistItem `bson:"internal,omitempty" json:"internal,omitempty"`
}

// Merge overlays patch onto c. Items are matched by ID; unknown ids are appended.
func (c Checklist) Merge(patch Checklist) Checklist {
	out := Checklist{
		Floorplan: c.Floorplan,
		External:  mergeChecklistItems(c.External, patch.External),
		Internal:  mergeChecklistItems(c.Internal, patch.Internal),
	}
	if patch.Floorplan != nil {
		out.Floorplan = patch.Floorplan
	}
	return out
}

func mergeChecklistItems(base, patch []ChecklistItem) []ChecklistItem {
	if patch == nil {
		return base
	}
	out := make([]ChecklistItem, len(base), len(base)+len(patch))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, item := range out {
		index[item.ID] = i
	}
	for _, item := range patch {
		if i, ok := index[item.ID]; ok && item.ID != "" {
			out[i] = item
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

// InspectionRequest is a consumer's ask for an on-site inspection of a listing.
// Listing attributes are snapshotted at creation so later listing edits don't rewrite history.
type InspectionRequest struct {
	Base        `bson:",inline"`
	ListingID   utils.SixID  `bson:"listing_id" json:"listing_id"`
	RequesterID utils.SixID  `bson:"requester_id" json:"requester_id"`
	AgentID     *utils.SixID `bson:"agent_id,omitempty" json:"agent_id,omitempty"`

	Title       string   `bson:"title" json:"title"`
	Address     string   `bson:"address" json:"address"`
	PriceText   string   `bson:"price_text" json:"priceText"`
	ImageURL    *string  `bson:"image_url,omitempty" json:"img"`
	Description *string  `bson:"description,omitempty" json:"description"`
	Highlights  []string `bson:"highlights,omitempty" json:"highlights"`
	PhotoURLs   []string `bson:"photo_urls,omitempty" json:"photos"`

	PreferredDate string  `bson:"preferred_date" json:"preferred_date"` // YYYY-MM-DD
	ContactPhone  string  `bson:"contact_phone" json:"contact_phone"`
	RequestNote   *string `bson:"request_note,omitempty" json:"request_note"`
	FeeWon        int     `bson:"fee_won" json:"fee_won"`

	Status      RequestStatus `bson:"status" json:"status"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
	AcceptedAt  *time.Time    `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	CompletedAt *time.Time    `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// ActiveInspection is the agent's working record for exactly one accepted request.
type ActiveInspection struct {
	Base      `bson:",inline"`
	RequestID utils.SixID `bson:"request_id" json:"requestId"`
	AgentID   utils.SixID `bson:"agent_id" json:"agentId"`
	Progress  int         `bson:"progress" json:"progress"`

	FloorplanData    map[string]interface{} `bson:"floorplan_data,omitempty" json:"floorplanData,omitempty"`
	FloorplanImage   *string                `bson:"floorplan_image,omitempty" json:"-"`
	FloorplanURL     *string                `bson:"floorplan_url,omitempty" json:"floorplanURL,omitempty"`
	FloorplanVersion int                    `bson:"floorplan_version" json:"-"`

	AgentNotes      *string         `bson:"agent_notes,omitempty" json:"agentNotes,omitempty"`
	FinalOpinion    *string         `bson:"final_opinion,omitempty" json:"finalOpinion,omitempty"`
	Recommendation  *Recommendation `bson:"recommendation,omitempty" json:"recommendation,omitempty"`
	Checklist       *Checklist      `bson:"checklist,omitempty" json:"checklistData,omitempty"`
	ReportFinalized bool            `bson:"report_finalized" json:"reportFinalized"`
	FinalizedAt     *time.Time      `bson:"finalized_at,omitempty" json:"confirmedAt,omitempty"`

	StartedAt time.Time `bson:"started_at" json:"startedAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// DisplayFloorplanURL prefers the normalized upload over the raw submitted image.
func (a *ActiveInspection) DisplayFloorplanURL() *string {
	if a.FloorplanURL != nil {
		return a.FloorplanURL
	}
	return a.FloorplanImage
}

// InspectionCancellation is the append-only audit record of an agent abandoning an inspection.
// It outlives the ActiveInspection it points to.
type InspectionCancellation struct {
	Base         `bson:",inline"`
	InspectionID utils.SixID `bson:"inspection_id" json:"inspection_id"`
	RequestID    utils.SixID `bson:"request_id" json:"request_id"`
	AgentID      utils.SixID `bson:"agent_id" json:"agent_id"`
	Reason       string      `bson:"reason" json:"reason"`
	Requeue      bool        `bson:"requeue" json:"requeue"`
	CancelledAt  time.Time   `bson:"cancelled_at" json:"cancelled_at"`
}

// InspectionEventType names a committed workflow transition worth telling someone about.
type InspectionEventType string

const (
	InspectionEventAccepted  InspectionEventType = "accepted"
	InspectionEventRejected  InspectionEventType = "rejected"
	InspectionEventRequeued  InspectionEventType = "requeued"
	InspectionEventCancelled InspectionEventType = "cancelled"
	InspectionEventCompleted InspectionEventType = "completed"
)

// InspectionEvent is published after the transaction that produced it commits.
type InspectionEvent struct {
	Type         InspectionEventType `json:"type"`
	RequestID    utils.SixID         `json:"request_id"`
	InspectionID *utils.SixID        `json:"inspection_id,omitempty"`
	AgentID      *utils.SixID        `json:"agent_id,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}
