package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"imjang/api/internal/config"
	"imjang/api/internal/models"
	"imjang/api/internal/observability"
	"imjang/api/internal/utils"
)

type txKey struct{}

// memoryInspectionStore is an IInspectionStore held in maps. Every call, and every
// WithTransaction block as a whole, runs under one mutex; a failed block is rolled back.
type memoryInspectionStore struct {
	mu            sync.Mutex
	requests      map[utils.SixID]models.InspectionRequest
	actives       map[utils.SixID]models.ActiveInspection
	cancellations []models.InspectionCancellation
}

func newMemoryInspectionStore() *memoryInspectionStore {
	return &memoryInspectionStore{
		requests: map[utils.SixID]models.InspectionRequest{},
		actives:  map[utils.SixID]models.ActiveInspection{},
	}
}

func (s *memoryInspectionStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memoryInspectionStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make(map[utils.SixID]models.InspectionRequest, len(s.requests))
	for k, v := range s.requests {
		requests[k] = v
	}
	actives := make(map[utils.SixID]models.ActiveInspection, len(s.actives))
	for k, v := range s.actives {
		actives[k] = v
	}
	cancellations := append([]models.InspectionCancellation(nil), s.cancellations...)

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.requests, s.actives, s.cancellations = requests, actives, cancellations
		return err
	}
	return nil
}

func (s *memoryInspectionStore) EnsureIndexes(context.Context) error { return nil }

func (s *memoryInspectionStore) InsertRequest(ctx context.Context, req *models.InspectionRequest) error {
	defer s.lock(ctx)()
	req.GenIDIfEmpty()
	s.requests[req.ID] = *req
	return nil
}

func (s *memoryInspectionStore) FindRequestByID(ctx context.Context, id utils.SixID) (*models.InspectionRequest, error) {
	defer s.lock(ctx)()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: inspection request %s", ErrNotFound, id)
	}
	return &req, nil
}

func (s *memoryInspectionStore) FindLatestRequest(ctx context.Context, listingID, requesterID utils.SixID) (*models.InspectionRequest, error) {
	defer s.lock(ctx)()
	var latest *models.InspectionRequest
	for _, r := range s.requests {
		r := r
		if r.ListingID != listingID || r.RequesterID != requesterID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no inspection request for listing %s", ErrNotFound, listingID)
	}
	return latest, nil
}

func (s *memoryInspectionStore) sortedRequests(match func(models.InspectionRequest) bool) []models.InspectionRequest {
	out := []models.InspectionRequest{}
	for _, r := range s.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memoryInspectionStore) ListRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.InspectionRequest, error) {
	defer s.lock(ctx)()
	return s.sortedRequests(func(r models.InspectionRequest) bool { return r.Status == status }), nil
}

func (s *memoryInspectionStore) ListRequestsByRequester(ctx context.Context, requesterID utils.SixID, status models.RequestStatus) ([]models.InspectionRequest, error) {
	defer s.lock(ctx)()
	return s.sortedRequests(func(r models.InspectionRequest) bool {
		return r.RequesterID == requesterID && r.Status == status
	}), nil
}

func (s *memoryInspectionStore) FindRequestsByIDs(ctx context.Context, ids []utils.SixID) ([]models.InspectionRequest, error) {
	defer s.lock(ctx)()
	out := []models.InspectionRequest{}
	for _, id := range ids {
		if r, ok := s.requests[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryInspectionStore) TransitionRequest(ctx context.Context, id utils.SixID, t RequestTransition) (*models.InspectionRequest, error) {
	if err := checkTransition(t); err != nil {
		return nil, err
	}
	defer s.lock(ctx)()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: inspection request %s", ErrNotFound, id)
	}
	if req.Status != t.From {
		return nil, fmt.Errorf("%w: inspection request %s is %s, not %s", ErrConflict, id, req.Status, t.From)
	}
	if t.ExpectAgentID != nil && (req.AgentID == nil || *req.AgentID != *t.ExpectAgentID) {
		return nil, fmt.Errorf("%w: inspection request %s is held by another agent", ErrConflict, id)
	}

	req.Status = t.To
	switch t.To {
	case models.RequestStatusAccepted:
		at := t.At
		req.AcceptedAt = &at
		if t.AgentID != nil {
			agentID := *t.AgentID
			req.AgentID = &agentID
		}
	case models.RequestStatusCompleted:
		at := t.At
		req.CompletedAt = &at
	}
	if t.ClearAgent {
		req.AgentID = nil
		req.AcceptedAt = nil
	}
	s.requests[id] = req
	return &req, nil
}

func (s *memoryInspectionStore) InsertActive(ctx context.Context, active *models.ActiveInspection) error {
	defer s.lock(ctx)()
	for _, a := range s.actives {
		if a.RequestID == active.RequestID {
			return fmt.Errorf("%w: request %s already has an active inspection", ErrConflict, active.RequestID)
		}
	}
	active.GenIDIfEmpty()
	s.actives[active.ID] = *active
	return nil
}

func (s *memoryInspectionStore) FindActiveByID(ctx context.Context, id utils.SixID) (*models.ActiveInspection, error) {
	defer s.lock(ctx)()
	a, ok := s.actives[id]
	if !ok {
		return nil, fmt.Errorf("%w: active inspection %s", ErrNotFound, id)
	}
	return &a, nil
}

func (s *memoryInspectionStore) FindActiveByRequestID(ctx context.Context, requestID utils.SixID) (*models.ActiveInspection, error) {
	defer s.lock(ctx)()
	for _, a := range s.actives {
		if a.RequestID == requestID {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: active inspection %s", ErrNotFound, requestID)
}

func (s *memoryInspectionStore) ListActive(ctx context.Context, f ActiveFilter) ([]models.ActiveInspection, error) {
	defer s.lock(ctx)()
	var requestIDs map[utils.SixID]bool
	if f.RequestIDs != nil {
		requestIDs = map[utils.SixID]bool{}
		for _, id := range f.RequestIDs {
			requestIDs[id] = true
		}
	}
	out := []models.ActiveInspection{}
	for _, a := range s.actives {
		if f.AgentID != nil && a.AgentID != *f.AgentID {
			continue
		}
		if f.Finalized != nil && a.ReportFinalized != *f.Finalized {
			continue
		}
		if requestIDs != nil && !requestIDs[a.RequestID] {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memoryInspectionStore) UpdateActive(ctx context.Context, id utils.SixID, u ActiveUpdate) (*models.ActiveInspection, error) {
	defer s.lock(ctx)()
	a, ok := s.actives[id]
	if !ok {
		return nil, fmt.Errorf("%w: active inspection %s", ErrNotFound, id)
	}
	if (u.ExpectAgentID != nil && a.AgentID != *u.ExpectAgentID) ||
		(u.RequireUnfinalized && a.ReportFinalized) ||
		(u.ExpectFloorplanVersion != nil && a.FloorplanVersion != *u.ExpectFloorplanVersion) {
		return nil, activeUpdateConflict(&a, u)
	}

	a.UpdatedAt = u.At
	if u.Progress != nil {
		a.Progress = *u.Progress
	}
	if u.Checklist != nil {
		c := *u.Checklist
		a.Checklist = &c
	}
	if u.AgentNotes != nil {
		a.AgentNotes = u.AgentNotes
	}
	if u.FloorplanData != nil {
		a.FloorplanData = u.FloorplanData
	}
	if u.FloorplanImage != nil {
		a.FloorplanImage = u.FloorplanImage
	}
	if u.BumpFloorplanVersion {
		a.FloorplanVersion++
		a.FloorplanURL = nil
	}
	if u.FloorplanURL != nil {
		a.FloorplanURL = u.FloorplanURL
	}
	if u.FinalOpinion != nil {
		a.FinalOpinion = u.FinalOpinion
	}
	if u.Recommendation != nil {
		a.Recommendation = u.Recommendation
	}
	if u.Finalize {
		at := u.At
		a.ReportFinalized = true
		a.FinalizedAt = &at
	}
	s.actives[id] = a
	return &a, nil
}

func (s *memoryInspectionStore) DeleteActive(ctx context.Context, id utils.SixID) error {
	defer s.lock(ctx)()
	if _, ok := s.actives[id]; !ok {
		return fmt.Errorf("%w: active inspection %s", ErrNotFound, id)
	}
	delete(s.actives, id)
	return nil
}

func (s *memoryInspectionStore) InsertCancellation(ctx context.Context, c *models.InspectionCancellation) error {
	defer s.lock(ctx)()
	c.GenIDIfEmpty()
	s.cancellations = append(s.cancellations, *c)
	return nil
}

func (s *memoryInspectionStore) ListCancellations(ctx context.Context, inspectionID utils.SixID) ([]models.InspectionCancellation, error) {
	defer s.lock(ctx)()
	out := []models.InspectionCancellation{}
	for _, c := range s.cancellations {
		if c.InspectionID == inspectionID {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeIdentities resolves consumers and agents from maps keyed by account id.
type fakeIdentities struct {
	users  map[utils.SixID]*models.UserProfile
	agents map[utils.SixID]*models.Agent // keyed by user id
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{users: map[utils.SixID]*models.UserProfile{}, agents: map[utils.SixID]*models.Agent{}}
}

func (f *fakeIdentities) addConsumer(name string) *models.UserProfile {
	u := &models.UserProfile{Base: models.NewBase(), Name: name, Email: name + "@example.com", UserType: models.UserTypeUser, Active: true}
	f.users[u.ID] = u
	return u
}

// addAgent returns the account id the agent logs in with.
func (f *fakeIdentities) addAgent(name, office string) (utils.SixID, *models.Agent) {
	userID := utils.NewSixID()
	a := &models.Agent{Base: models.NewBase(), UserID: userID, RepresentativeName: name, OfficeName: office, Verified: true, Active: true}
	f.agents[userID] = a
	return userID, a
}

func (f *fakeIdentities) ResolveConsumer(_ context.Context, userID utils.SixID) (*models.UserProfile, error) {
	u, ok := f.users[userID]
	if !ok || !u.Active {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return u, nil
}

func (f *fakeIdentities) ResolveAgent(_ context.Context, userID utils.SixID) (*models.Agent, error) {
	a, ok := f.agents[userID]
	if !ok || !a.Active {
		return nil, fmt.Errorf("%w: no agent profile for user %s", ErrForbidden, userID)
	}
	return a, nil
}

func (f *fakeIdentities) FindAgentByID(_ context.Context, agentID utils.SixID) (*models.Agent, error) {
	for _, a := range f.agents {
		if a.ID == agentID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
}

func (f *fakeIdentities) FindUserByID(_ context.Context, userID utils.SixID) (*models.UserProfile, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return u, nil
}

type fakeListings map[utils.SixID]*models.Listing

func (f fakeListings) FindListingByID(_ context.Context, id utils.SixID) (*models.Listing, error) {
	l, ok := f[id]
	if !ok || l.Deleted {
		return nil, fmt.Errorf("%w: listing %s", ErrNotFound, id)
	}
	return l, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu         sync.Mutex
	events     []models.InspectionEvent
	floorplans []int
	err        error
}

func (p *recordingPublisher) PublishStatusChange(_ context.Context, event models.InspectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) PublishFloorplanSaved(_ context.Context, _ utils.SixID, version int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.floorplans = append(p.floorplans, version)
	return p.err
}

func (p *recordingPublisher) types() []models.InspectionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.InspectionEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeStorage presigns deterministic URLs.
type fakeStorage struct{}

func (fakeStorage) GeneratePresignedPutURL(_ context.Context, prefix, filename, _ string) (string, string, error) {
	key := prefix + "/" + filename
	return "https://upload.example.com/" + key + "?sig=1", key, nil
}

func (fakeStorage) PutObject(context.Context, string, []byte, string) error { return nil }

func (fakeStorage) PublicURL(key string) string { return "https://cdn.example.com/" + key }

// workflowFixture wires an inspection service over in-memory fakes.
type workflowFixture struct {
	svc        IInspectionService
	store      *memoryInspectionStore
	identities *fakeIdentities
	listings   fakeListings
	publisher  *recordingPublisher

	clockMu sync.Mutex
	clock   time.Time

	consumer  *models.UserProfile
	agentUser utils.SixID
	agent     *models.Agent
	listing   *models.Listing
}

func newWorkflowFixture() *workflowFixture {
	f := &workflowFixture{
		store:      newMemoryInspectionStore(),
		identities: newFakeIdentities(),
		listings:   fakeListings{},
		publisher:  &recordingPublisher{},
		clock:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	cfg := &config.Config{InspectionFeeWon: 150000}
	svc := NewInspectionService(cfg, f.store, f.listings, f.identities, fakeStorage{}, f.publisher,
		zerolog.Nop(), observability.NewMetrics("test", nil))
	impl := svc.(*inspectionService)
	impl.now = func() time.Time {
		f.clockMu.Lock()
		defer f.clockMu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.svc = svc

	f.consumer = f.identities.addConsumer("minji")
	f.agentUser, f.agent = f.identities.addAgent("Park Jisoo", "Mangwon Realty")
	f.listing = f.addListing()
	return f
}

func (f *workflowFixture) addListing() *models.Listing {
	price := int64(320000000)
	l := &models.Listing{
		ID:          utils.NewSixID(),
		ListingType: models.ListingTypeSale,
		SalePrice:   &price,
		Address:     "서울 마포구 망원동 123-4",
		ImageURLs:   []string{"https://cdn.example.com/l/1.jpg", "https://cdn.example.com/l/2.jpg"},
	}
	f.listings[l.ID] = l
	return l
}
