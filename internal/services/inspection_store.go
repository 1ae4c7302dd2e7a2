package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imjang/api/internal/db"
	"imjang/api/internal/models"
	"imjang/api/internal/utils"
)

const (
	inspectionRequestsCollection      = "inspection_requests"
	activeInspectionsCollection       = "active_inspections"
	inspectionCancellationsCollection = "inspection_cancellations"
)

// RequestTransition is a compare-and-swap on an InspectionRequest's status.
type RequestTransition struct {
	From models.RequestStatus
	To   models.RequestStatus
	// ExpectAgentID additionally requires the request to be held by this agent.
	ExpectAgentID *utils.SixID
	// AgentID is recorded on the request when moving to accepted.
	AgentID *utils.SixID
	// ClearAgent removes agent_id and accepted_at, used when a request is requeued.
	ClearAgent bool
	At         time.Time
}

// ActiveFilter narrows ListActive. Nil fields do not filter.
type ActiveFilter struct {
	AgentID    *utils.SixID
	Finalized  *bool
	RequestIDs []utils.SixID
}

// ActiveUpdate is a conditional partial update of an ActiveInspection.
// Nil fields are left untouched.
type ActiveUpdate struct {
	Progress       *int
	Checklist      *models.Checklist
	AgentNotes     *string
	FloorplanData  map[string]interface{}
	FloorplanImage *string
	FloorplanURL   *string
	FinalOpinion   *string
	Recommendation *models.Recommendation

	// BumpFloorplanVersion increments floorplan_version and clears any stale normalized URL.
	BumpFloorplanVersion bool
	// Finalize sets report_finalized and finalized_at.
	Finalize bool

	// Preconditions.
	ExpectAgentID          *utils.SixID
	ExpectFloorplanVersion *int
	RequireUnfinalized     bool

	At time.Time
}

// IInspectionStore persists the three inspection collections with primitive conditional writes.
// Every precondition is part of the write filter; a zero match is reported as ErrNotFound or ErrConflict.
type IInspectionStore interface {
	// WithTransaction runs fn atomically. fn must use the context it is given.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	EnsureIndexes(ctx context.Context) error

	InsertRequest(ctx context.Context, req *models.InspectionRequest) error
	FindRequestByID(ctx context.Context, id utils.SixID) (*models.InspectionRequest, error)
	FindLatestRequest(ctx context.Context, listingID, requesterID utils.SixID) (*models.InspectionRequest, error)
	ListRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.InspectionRequest, error)
	ListRequestsByRequester(ctx context.Context, requesterID utils.SixID, status models.RequestStatus) ([]models.InspectionRequest, error)
	FindRequestsByIDs(ctx context.Context, ids []utils.SixID) ([]models.InspectionRequest, error)
	TransitionRequest(ctx context.Context, id utils.SixID, t RequestTransition) (*models.InspectionRequest, error)

	InsertActive(ctx context.Context, active *models.ActiveInspection) error
	FindActiveByID(ctx context.Context, id utils.SixID) (*models.ActiveInspection, error)
	FindActiveByRequestID(ctx context.Context, requestID utils.SixID) (*models.ActiveInspection, error)
	ListActive(ctx context.Context, filter ActiveFilter) ([]models.ActiveInspection, error)
	UpdateActive(ctx context.Context, id utils.SixID, u ActiveUpdate) (*models.ActiveInspection, error)
	DeleteActive(ctx context.Context, id utils.SixID) error

	InsertCancellation(ctx context.Context, c *models.InspectionCancellation) error
	ListCancellations(ctx context.Context, inspectionID utils.SixID) ([]models.InspectionCancellation, error)
}

// checkTransition refuses any write that is not an edge of the request state machine.
func checkTransition(t RequestTransition) error {
	if !t.From.CanTransitionTo(t.To) {
		return fmt.Errorf("%w: transition %s -> %s is not permitted", ErrConflict, t.From, t.To)
	}
	return nil
}

type mongoInspectionStore struct {
	db *mongo.Database
}

// NewMongoInspectionStore creates an IInspectionStore backed by MongoDB.
// Transactions require the server to run as a replica set.
func NewMongoInspectionStore(database *mongo.Database) IInspectionStore {
	return &mongoInspectionStore{db: database}
}

func (s *mongoInspectionStore) requests() *mongo.Collection {
	return s.db.Collection(inspectionRequestsCollection)
}

func (s *mongoInspectionStore) actives() *mongo.Collection {
	return s.db.Collection(activeInspectionsCollection)
}

func (s *mongoInspectionStore) cancellations() *mongo.Collection {
	return s.db.Collection(inspectionCancellationsCollection)
}

func (s *mongoInspectionStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTransaction(ctx, s.db.Client(), func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}

// EnsureIndexes creates the indexes the workflow relies on. The unique request_id index
// is what guarantees at most one ActiveInspection per request.
func (s *mongoInspectionStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.actives().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "report_finalized", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", activeInspectionsCollection, err)
	}
	_, err = s.requests().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "requester_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "requester_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", inspectionRequestsCollection, err)
	}
	_, err = s.cancellations().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "inspection_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", inspectionCancellationsCollection, err)
	}
	return nil
}

func (s *mongoInspectionStore) InsertRequest(ctx context.Context, req *models.InspectionRequest) error {
	if _, err := db.InsertOne(ctx, s.requests(), req); err != nil {
		return fmt.Errorf("error inserting inspection request: %w", err)
	}
	return nil
}

func (s *mongoInspectionStore) FindRequestByID(ctx context.Context, id utils.SixID) (*models.InspectionRequest, error) {
	var req models.InspectionRequest
	if err := s.requests().FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: inspection request %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("error finding inspection request %s: %w", id, err)
	}
	return &req, nil
}

func (s *mongoInspectionStore) FindLatestRequest(ctx context.Context, listingID, requesterID utils.SixID) (*models.InspectionRequest, error) {
	filter := bson.M{"listing_id": listingID, "requester_id": requesterID}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	var req models.InspectionRequest
	if err := s.requests().FindOne(ctx, filter, opts).Decode(&req); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no inspection request for listing %s", ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("error finding latest inspection request: %w", err)
	}
	return &req, nil
}

func (s *mongoInspectionStore) ListRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.InspectionRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findRequests(ctx, bson.M{"status": status}, opts)
}

func (s *mongoInspectionStore) ListRequestsByRequester(ctx context.Context, requesterID utils.SixID, status models.RequestStatus) ([]models.InspectionRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "completed_at", Value: -1}, {Key: "created_at", Value: -1}})
	return s.findRequests(ctx, bson.M{"requester_id": requesterID, "status": status}, opts)
}

func (s *mongoInspectionStore) FindRequestsByIDs(ctx context.Context, ids []utils.SixID) ([]models.InspectionRequest, error) {
	if len(ids) == 0 {
		return []models.InspectionRequest{}, nil
	}
	return s.findRequests(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (s *mongoInspectionStore) findRequests(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.InspectionRequest, error) {
	cursor, err := s.requests().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing inspection requests: %w", err)
	}
	defer cursor.Close(ctx)

	requests := []models.InspectionRequest{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("error decoding inspection requests: %w", err)
	}
	return requests, nil
}

func (s *mongoInspectionStore) TransitionRequest(ctx context.Context, id utils.SixID, t RequestTransition) (*models.InspectionRequest, error) {
	if err := checkTransition(t); err != nil {
		return nil, err
	}

	filter := bson.M{"_id": id, "status": t.From}
	if t.ExpectAgentID != nil {
		filter["agent_id"] = *t.ExpectAgentID
	}
	set := bson.M{"status": t.To}
	unset := bson.M{}
	switch t.To {
	case models.RequestStatusAccepted:
		set["accepted_at"] = t.At
		if t.AgentID != nil {
			set["agent_id"] = *t.AgentID
		}
	case models.RequestStatusCompleted:
		set["completed_at"] = t.At
	}
	if t.ClearAgent {
		unset["agent_id"] = ""
		unset["accepted_at"] = ""
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.InspectionRequest
	err := s.requests().FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error updating inspection request %s: %w", id, err)
	}

	// Nothing matched: tell a missing request apart from a failed precondition.
	current, findErr := s.FindRequestByID(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	if current.Status != t.From {
		return nil, fmt.Errorf("%w: inspection request %s is %s, not %s", ErrConflict, id, current.Status, t.From)
	}
	return nil, fmt.Errorf("%w: inspection request %s is held by another agent", ErrConflict, id)
}

func (s *mongoInspectionStore) InsertActive(ctx context.Context, active *models.ActiveInspection) error {
	if _, err := db.InsertOne(ctx, s.actives(), active); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return fmt.Errorf("%w: request %s already has an active inspection", ErrConflict, active.RequestID)
		}
		return fmt.Errorf("error inserting active inspection: %w", err)
	}
	return nil
}

func (s *mongoInspectionStore) FindActiveByID(ctx context.Context, id utils.SixID) (*models.ActiveInspection, error) {
	return s.findActive(ctx, bson.M{"_id": id}, id)
}

func (s *mongoInspectionStore) FindActiveByRequestID(ctx context.Context, requestID utils.SixID) (*models.ActiveInspection, error) {
	return s.findActive(ctx, bson.M{"request_id": requestID}, requestID)
}

func (s *mongoInspectionStore) findActive(ctx context.Context, filter bson.M, ref utils.SixID) (*models.ActiveInspection, error) {
	var active models.ActiveInspection
	if err := s.actives().FindOne(ctx, filter).Decode(&active); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: active inspection %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("error finding active inspection %s: %w", ref, err)
	}
	return &active, nil
}

func (s *mongoInspectionStore) ListActive(ctx context.Context, f ActiveFilter) ([]models.ActiveInspection, error) {
	filter := bson.M{}
	if f.AgentID != nil {
		filter["agent_id"] = *f.AgentID
	}
	if f.Finalized != nil {
		filter["report_finalized"] = *f.Finalized
	}
	if f.RequestIDs != nil {
		filter["request_id"] = bson.M{"$in": f.RequestIDs}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	cursor, err := s.actives().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing active inspections: %w", err)
	}
	defer cursor.Close(ctx)

	actives := []models.ActiveInspection{}
	if err := cursor.All(ctx, &actives); err != nil {
		return nil, fmt.Errorf("error decoding active inspections: %w", err)
	}
	return actives, nil
}

func (s *mongoInspectionStore) UpdateActive(ctx context.Context, id utils.SixID, u ActiveUpdate) (*models.ActiveInspection, error) {
	filter := bson.M{"_id": id}
	if u.ExpectAgentID != nil {
		filter["agent_id"] = *u.ExpectAgentID
	}
	if u.ExpectFloorplanVersion != nil {
		filter["floorplan_version"] = *u.ExpectFloorplanVersion
	}
	if u.RequireUnfinalized {
		filter["report_finalized"] = false
	}

	set := bson.M{"updated_at": u.At}
	unset := bson.M{}
	if u.Progress != nil {
		set["progress"] = *u.Progress
	}
	if u.Checklist != nil {
		set["checklist"] = *u.Checklist
	}
	if u.AgentNotes != nil {
		set["agent_notes"] = *u.AgentNotes
	}
	if u.FloorplanData != nil {
		set["floorplan_data"] = u.FloorplanData
	}
	if u.FloorplanImage != nil {
		set["floorplan_image"] = *u.FloorplanImage
	}
	if u.FloorplanURL != nil {
		set["floorplan_url"] = *u.FloorplanURL
	}
	if u.FinalOpinion != nil {
		set["final_opinion"] = *u.FinalOpinion
	}
	if u.Recommendation != nil {
		set["recommendation"] = *u.Recommendation
	}
	if u.Finalize {
		set["report_finalized"] = true
		set["finalized_at"] = u.At
	}
	update := bson.M{"$set": set}
	if u.BumpFloorplanVersion {
		update["$inc"] = bson.M{"floorplan_version": 1}
		if u.FloorplanURL == nil {
			unset["floorplan_url"] = ""
		}
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.ActiveInspection
	err := s.actives().FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error updating active inspection %s: %w", id, err)
	}

	current, findErr := s.FindActiveByID(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, activeUpdateConflict(current, u)
}

// activeUpdateConflict explains which precondition of u the current document fails.
func activeUpdateConflict(current *models.ActiveInspection, u ActiveUpdate) error {
	switch {
	case u.ExpectAgentID != nil && current.AgentID != *u.ExpectAgentID:
		return fmt.Errorf("%w: inspection %s belongs to another agent", ErrForbidden, current.ID)
	case u.RequireUnfinalized && current.ReportFinalized:
		return fmt.Errorf("%w: report for inspection %s is already finalized", ErrConflict, current.ID)
	case u.ExpectFloorplanVersion != nil && current.FloorplanVersion != *u.ExpectFloorplanVersion:
		return fmt.Errorf("%w: floorplan of inspection %s changed (version %d)", ErrConflict, current.ID, current.FloorplanVersion)
	}
	return fmt.Errorf("%w: inspection %s changed concurrently", ErrConflict, current.ID)
}

func (s *mongoInspectionStore) DeleteActive(ctx context.Context, id utils.SixID) error {
	res, err := s.actives().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting active inspection %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: active inspection %s", ErrNotFound, id)
	}
	return nil
}

func (s *mongoInspectionStore) InsertCancellation(ctx context.Context, c *models.InspectionCancellation) error {
	if _, err := db.InsertOne(ctx, s.cancellations(), c); err != nil {
		return fmt.Errorf("error inserting inspection cancellation: %w", err)
	}
	return nil
}

func (s *mongoInspectionStore) ListCancellations(ctx context.Context, inspectionID utils.SixID) ([]models.InspectionCancellation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "cancelled_at", Value: 1}})
	cursor, err := s.cancellations().Find(ctx, bson.M{"inspection_id": inspectionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing inspection cancellations: %w", err)
	}
	defer cursor.Close(ctx)

	cancellations := []models.InspectionCancellation{}
	if err := cursor.All(ctx, &cancellations); err != nil {
		return nil, fmt.Errorf("error decoding inspection cancellations: %w", err)
	}
	return cancellations, nil
}
