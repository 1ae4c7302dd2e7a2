package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"imjang/api/internal/config"
	"imjang/api/internal/models"
	"imjang/api/internal/observability"
	"imjang/api/internal/storage"
	"imjang/api/internal/utils"
)

// IInspectionService defines the inspection request lifecycle.
// userID is always the authenticated account; consumer and agent identities are resolved from it.
type IInspectionService interface {
	// Consumer side
	CreateRequest(ctx context.Context, userID utils.SixID, in CreateRequestInput) (*models.InspectionRequest, error)
	GetStatus(ctx context.Context, userID, listingID utils.SixID) (*models.DerivedStatus, error)
	ListMyReports(ctx context.Context, userID utils.SixID) ([]MyReportItem, error)
	ViewReport(ctx context.Context, userID, inspectionID utils.SixID) (*ConsumerReportView, error)

	// Agent side
	ListOpenRequests(ctx context.Context, userID utils.SixID) ([]RequestCard, error)
	GetRequest(ctx context.Context, userID, requestID utils.SixID) (*RequestDetail, error)
	Accept(ctx context.Context, userID, requestID utils.SixID) (*models.ActiveInspection, error)
	Reject(ctx context.Context, userID, requestID utils.SixID) (*models.InspectionRequest, error)
	ListActive(ctx context.Context, userID utils.SixID, mine bool) ([]ActiveCard, error)
	ListCompleted(ctx context.Context, userID utils.SixID) ([]ActiveCard, error)
	Cancel(ctx context.Context, userID, inspectionID utils.SixID, reason string, requeue bool) (*models.InspectionCancellation, error)
	SaveProgress(ctx context.Context, userID, inspectionID utils.SixID, in ProgressInput) (*ProgressView, error)
	GetProgress(ctx context.Context, userID, inspectionID utils.SixID) (*ProgressView, error)
	SaveFloorplan(ctx context.Context, userID, inspectionID utils.SixID, in FloorplanInput) (*FloorplanView, error)
	GetFloorplan(ctx context.Context, userID, inspectionID utils.SixID) (*FloorplanView, error)
	FinalizeReport(ctx context.Context, userID, inspectionID utils.SixID, in ReportInput) (*ReportView, error)
	GetReport(ctx context.Context, userID, inspectionID utils.SixID) (*ReportView, error)
	CreatePhotoUploadURL(ctx context.Context, userID, inspectionID utils.SixID, filename, contentType string) (*PhotoUpload, error)
}

// IInspectionEventPublisher hands committed workflow events to asynchronous consumers.
// Calls happen after the transaction commits; a failure never undoes the transition.
type IInspectionEventPublisher interface {
	PublishStatusChange(ctx context.Context, event models.InspectionEvent) error
	PublishFloorplanSaved(ctx context.Context, inspectionID utils.SixID, version int) error
}

type nopEventPublisher struct{}

func (nopEventPublisher) PublishStatusChange(context.Context, models.InspectionEvent) error {
	return nil
}

func (nopEventPublisher) PublishFloorplanSaved(context.Context, utils.SixID, int) error {
	return nil
}

// NopEventPublisher discards all events.
var NopEventPublisher IInspectionEventPublisher = nopEventPublisher{}

const (
	preferredDateLayout = "2006-01-02"
	maxFinalOpinionLen  = 5000
	maxCancelReasonLen  = 1000
)

type inspectionService struct {
	cfg        *config.Config
	store      IInspectionStore
	listings   IListingService
	identities IIdentityResolver
	storage    storage.IS3Storage
	publisher  IInspectionEventPublisher
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewInspectionService creates the inspection workflow service.
// storageService may be nil, in which case photo upload URLs are unavailable.
func NewInspectionService(
	cfg *config.Config,
	store IInspectionStore,
	listings IListingService,
	identities IIdentityResolver,
	storageService storage.IS3Storage,
	publisher IInspectionEventPublisher,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) IInspectionService {
	if publisher == nil {
		publisher = NopEventPublisher
	}
	return &inspectionService{
		cfg:        cfg,
		store:      store,
		listings:   listings,
		identities: identities,
		storage:    storageService,
		publisher:  publisher,
		logger:     logger.With().Str("component", "inspection_service").Logger(),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// track records duration and, on failure, the refusal reason of one operation.
func (s *inspectionService) track(operation, transition string, start time.Time, err error) {
	s.metrics.ObserveOperation(operation, start)
	if err == nil {
		if transition != "" {
			s.metrics.RecordTransition(transition)
		}
		return
	}
	if transition == "" {
		transition = operation
	}
	reason := errorReason(err)
	s.metrics.RecordTransitionFailure(transition, reason)
	if reason == "internal" {
		s.logger.Error().Err(err).Str("operation", operation).Msg("inspection operation failed")
	}
}

func (s *inspectionService) publish(ctx context.Context, event models.InspectionEvent) {
	if err := s.publisher.PublishStatusChange(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("event", string(event.Type)).
			Str("request_id", event.RequestID.String()).
			Msg("failed to publish inspection event")
	}
}

// ownedActive loads an inspection and checks that agent holds it.
func (s *inspectionService) ownedActive(ctx context.Context, agent *models.Agent, inspectionID utils.SixID) (*models.ActiveInspection, error) {
	active, err := s.store.FindActiveByID(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if active.AgentID != agent.ID {
		return nil, fmt.Errorf("%w: inspection %s belongs to another agent", ErrForbidden, inspectionID)
	}
	return active, nil
}

// CreateRequest snapshots the listing and records a new request in status requested.
func (s *inspectionService) CreateRequest(ctx context.Context, userID utils.SixID, in CreateRequestInput) (req *models.InspectionRequest, err error) {
	defer func(start time.Time) { s.track("create_request", "", start, err) }(time.Now())

	consumer, err := s.identities.ResolveConsumer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.ListingID.IsZero() {
		return nil, fmt.Errorf("%w: listing_id is required", ErrValidation)
	}
	if _, perr := time.Parse(preferredDateLayout, in.PreferredDate); perr != nil {
		return nil, fmt.Errorf("%w: preferred_date must be YYYY-MM-DD", ErrValidation)
	}
	phone := strings.TrimSpace(in.ContactPhone)
	if phone == "" {
		return nil, fmt.Errorf("%w: contact_phone is required", ErrValidation)
	}
	listing, err := s.listings.FindListingByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}

	req = &models.InspectionRequest{
		ListingID:     listing.ID,
		RequesterID:   consumer.ID,
		Title:         listing.DisplayTitle(),
		Address:       listing.Address,
		PriceText:     listing.PriceText(),
		ImageURL:      listing.CoverImage(),
		Description:   listing.Description,
		Highlights:    listing.Highlights,
		PhotoURLs:     listing.ImageURLs,
		PreferredDate: in.PreferredDate,
		ContactPhone:  phone,
		RequestNote:   in.RequestNote,
		FeeWon:        s.cfg.InspectionFeeWon,
		Status:        models.RequestStatusRequested,
		CreatedAt:     s.now(),
	}
	if err := s.store.InsertRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", req.ID.String()).Str("listing_id", listing.ID.String()).Msg("inspection requested")
	return req, nil
}

// GetStatus derives the requester-visible status of the latest request for a listing.
// Only "requested" and "active" are ever reported; every other situation yields nil.
func (s *inspectionService) GetStatus(ctx context.Context, userID, listingID utils.SixID) (*models.DerivedStatus, error) {
	consumer, err := s.identities.ResolveConsumer(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.FindLatestRequest(ctx, listingID, consumer.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var status models.DerivedStatus
	switch latest.Status {
	case models.RequestStatusRequested:
		status = models.DerivedStatusRequested
	case models.RequestStatusAccepted:
		if _, err := s.store.FindActiveByRequestID(ctx, latest.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		status = models.DerivedStatusActive
	default:
		return nil, nil
	}
	return &status, nil
}

// ListOpenRequests returns requests waiting for an agent, newest first.
func (s *inspectionService) ListOpenRequests(ctx context.Context, userID utils.SixID) ([]RequestCard, error) {
	if _, err := s.identities.ResolveAgent(ctx, userID); err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequestsByStatus(ctx, models.RequestStatusRequested)
	if err != nil {
		return nil, err
	}
	cards := make([]RequestCard, 0, len(requests))
	for i := range requests {
		cards = append(cards, newRequestCard(&requests[i]))
	}
	return cards, nil
}

// GetRequest returns the full detail of one request.
func (s *inspectionService) GetRequest(ctx context.Context, userID, requestID utils.SixID) (*RequestDetail, error) {
	if _, err := s.identities.ResolveAgent(ctx, userID); err != nil {
		return nil, err
	}
	req, err := s.store.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return newRequestDetail(req), nil
}

// Accept moves a request to accepted and opens its ActiveInspection in one transaction.
func (s *inspectionService) Accept(ctx context.Context, userID, requestID utils.SixID) (active *models.ActiveInspection, err error) {
	defer func(start time.Time) { s.track("accept", "requested_accepted", start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.store.TransitionRequest(txCtx, requestID, RequestTransition{
			From:    models.RequestStatusRequested,
			To:      models.RequestStatusAccepted,
			AgentID: &agent.ID,
			At:      now,
		})
		if err != nil {
			return err
		}
		active = &models.ActiveInspection{
			RequestID: requestID,
			AgentID:   agent.ID,
			Progress:  0,
			StartedAt: now,
			UpdatedAt: now,
		}
		return s.store.InsertActive(txCtx, active)
	})
	if err != nil {
		return nil, err
	}

	logger := observability.WithInspectionContext(s.logger, requestID.String(), active.ID.String())
	logger.Info().
		Str("agent_id", agent.ID.String()).Msg("inspection request accepted")
	s.publish(ctx, models.InspectionEvent{
		Type:         models.InspectionEventAccepted,
		RequestID:    requestID,
		InspectionID: &active.ID,
		AgentID:      &agent.ID,
		OccurredAt:   now,
	})
	return active, nil
}

// Reject closes a request that is still waiting for an agent.
// The rejecting agent is carried on the event only; the request keeps no agent.
func (s *inspectionService) Reject(ctx context.Context, userID, requestID utils.SixID) (req *models.InspectionRequest, err error) {
	defer func(start time.Time) { s.track("reject", "requested_rejected", start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	req, err = s.store.TransitionRequest(ctx, requestID, RequestTransition{
		From: models.RequestStatusRequested,
		To:   models.RequestStatusRejected,
		At:   now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("request_id", requestID.String()).Str("agent_id", agent.ID.String()).Msg("inspection request rejected")
	s.publish(ctx, models.InspectionEvent{
		Type:       models.InspectionEventRejected,
		RequestID:  requestID,
		AgentID:    &agent.ID,
		OccurredAt: now,
	})
	return req, nil
}

// ListActive lists every non-finalized inspection, or only the caller's when mine is set.
func (s *inspectionService) ListActive(ctx context.Context, userID utils.SixID, mine bool) ([]ActiveCard, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	finalized := false
	filter := ActiveFilter{Finalized: &finalized}
	if mine {
		filter.AgentID = &agent.ID
	}
	return s.activeCards(ctx, filter)
}

// ListCompleted lists the caller's finalized inspections.
func (s *inspectionService) ListCompleted(ctx context.Context, userID utils.SixID) ([]ActiveCard, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	finalized := true
	return s.activeCards(ctx, ActiveFilter{AgentID: &agent.ID, Finalized: &finalized})
}

func (s *inspectionService) activeCards(ctx context.Context, filter ActiveFilter) ([]ActiveCard, error) {
	actives, err := s.store.ListActive(ctx, filter)
	if err != nil {
		return nil, err
	}
	requestIDs := make([]utils.SixID, 0, len(actives))
	for _, a := range actives {
		requestIDs = append(requestIDs, a.RequestID)
	}
	requests, err := s.store.FindRequestsByIDs(ctx, requestIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[utils.SixID]*models.InspectionRequest, len(requests))
	for i := range requests {
		byID[requests[i].ID] = &requests[i]
	}

	cards := make([]ActiveCard, 0, len(actives))
	for i := range actives {
		cards = append(cards, newActiveCard(&actives[i], byID[actives[i].RequestID]))
	}
	return cards, nil
}

// Cancel abandons an inspection: the cancellation is logged, the request goes back to
// requested (requeue) or to cancelled, and the ActiveInspection is deleted, all in one transaction.
func (s *inspectionService) Cancel(ctx context.Context, userID, inspectionID utils.SixID, reason string, requeue bool) (record *models.InspectionCancellation, err error) {
	target := models.RequestStatusCancelled
	if requeue {
		target = models.RequestStatusRequested
	}
	defer func(start time.Time) { s.track("cancel", "accepted_"+string(target), start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCancelReasonLen {
		return nil, fmt.Errorf("%w: reason is too long", ErrValidation)
	}

	now := s.now()
	var requestID utils.SixID
	err = s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		active, err := s.ownedActive(txCtx, agent, inspectionID)
		if err != nil {
			return err
		}
		if active.ReportFinalized {
			return fmt.Errorf("%w: inspection %s is already finalized", ErrConflict, inspectionID)
		}
		requestID = active.RequestID

		// The audit row must exist before the inspection it points to is removed.
		record = &models.InspectionCancellation{
			InspectionID: active.ID,
			RequestID:    active.RequestID,
			AgentID:      agent.ID,
			Reason:       reason,
			Requeue:      requeue,
			CancelledAt:  now,
		}
		if err := s.store.InsertCancellation(txCtx, record); err != nil {
			return err
		}
		if _, err := s.store.TransitionRequest(txCtx, active.RequestID, RequestTransition{
			From:          models.RequestStatusAccepted,
			To:            target,
			ExpectAgentID: &agent.ID,
			ClearAgent:    requeue,
			At:            now,
		}); err != nil {
			return err
		}
		return s.store.DeleteActive(txCtx, active.ID)
	})
	if err != nil {
		return nil, err
	}

	eventType := models.InspectionEventCancelled
	if requeue {
		eventType = models.InspectionEventRequeued
	}
	logger := observability.WithInspectionContext(s.logger, requestID.String(), inspectionID.String())
	logger.Info().
		Bool("requeue", requeue).Msg("inspection cancelled")
	s.publish(ctx, models.InspectionEvent{
		Type:         eventType,
		RequestID:    requestID,
		InspectionID: &inspectionID,
		AgentID:      &agent.ID,
		OccurredAt:   now,
	})
	return record, nil
}

func validateChecklist(c *models.Checklist) error {
	if c == nil {
		return nil
	}
	for _, section := range [][]models.ChecklistItem{c.External, c.Internal} {
		for _, item := range section {
			if strings.TrimSpace(item.ID) == "" {
				return fmt.Errorf("%w: checklist item id is required", ErrValidation)
			}
			if len(item.Photos) > models.MaxChecklistPhotos {
				return fmt.Errorf("%w: checklist item %s has more than %d photos", ErrValidation, item.ID, models.MaxChecklistPhotos)
			}
		}
	}
	return nil
}

// SaveProgress merges a partial checklist and progress into the working document.
func (s *inspectionService) SaveProgress(ctx context.Context, userID, inspectionID utils.SixID, in ProgressInput) (view *ProgressView, err error) {
	defer func(start time.Time) { s.track("save_progress", "", start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Progress != nil && (*in.Progress < 0 || *in.Progress > 100) {
		return nil, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
	}
	if err := validateChecklist(in.Checklist); err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		active, err := s.ownedActive(txCtx, agent, inspectionID)
		if err != nil {
			return err
		}
		if active.ReportFinalized {
			return fmt.Errorf("%w: inspection %s is already finalized", ErrConflict, inspectionID)
		}

		update := ActiveUpdate{
			Progress:           in.Progress,
			AgentNotes:         in.AgentNotes,
			ExpectAgentID:      &agent.ID,
			RequireUnfinalized: true,
			At:                 s.now(),
		}
		if in.Checklist != nil {
			merged := in.Checklist
			if active.Checklist != nil {
				m := active.Checklist.Merge(*in.Checklist)
				merged = &m
			}
			update.Checklist = merged
		}
		updated, err := s.store.UpdateActive(txCtx, inspectionID, update)
		if err != nil {
			return err
		}
		view = newProgressView(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// GetProgress loads the working document.
func (s *inspectionService) GetProgress(ctx context.Context, userID, inspectionID utils.SixID) (*ProgressView, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.ownedActive(ctx, agent, inspectionID)
	if err != nil {
		return nil, err
	}
	return newProgressView(active), nil
}

// SaveFloorplan stores the floorplan data and image. A new image bumps the floorplan
// version and clears the normalized URL; normalization happens asynchronously against that version.
func (s *inspectionService) SaveFloorplan(ctx context.Context, userID, inspectionID utils.SixID, in FloorplanInput) (view *FloorplanView, err error) {
	defer func(start time.Time) { s.track("save_floorplan", "", start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Data == nil && in.Image == nil {
		return nil, fmt.Errorf("%w: floorplanData or floorplanImage is required", ErrValidation)
	}

	updated, err := s.store.UpdateActive(ctx, inspectionID, ActiveUpdate{
		FloorplanData:        in.Data,
		FloorplanImage:       in.Image,
		BumpFloorplanVersion: in.Image != nil,
		ExpectAgentID:        &agent.ID,
		RequireUnfinalized:   true,
		At:                   s.now(),
	})
	if err != nil {
		return nil, err
	}

	if in.Image != nil && strings.HasPrefix(*in.Image, "data:image/") {
		if perr := s.publisher.PublishFloorplanSaved(ctx, inspectionID, updated.FloorplanVersion); perr != nil {
			s.logger.Warn().Err(perr).Str("inspection_id", inspectionID.String()).Msg("failed to enqueue floorplan processing")
		}
	}
	return newFloorplanView(updated), nil
}

// GetFloorplan loads the stored floorplan artifact.
func (s *inspectionService) GetFloorplan(ctx context.Context, userID, inspectionID utils.SixID) (*FloorplanView, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.ownedActive(ctx, agent, inspectionID)
	if err != nil {
		return nil, err
	}
	return newFloorplanView(active), nil
}

// FinalizeReport records the verdict and completes the parent request in one transaction.
// The first finalize wins; any later attempt is a conflict and leaves the report untouched.
func (s *inspectionService) FinalizeReport(ctx context.Context, userID, inspectionID utils.SixID, in ReportInput) (view *ReportView, err error) {
	defer func(start time.Time) { s.track("finalize_report", "accepted_completed", start, err) }(time.Now())

	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	opinion := strings.TrimSpace(in.FinalOpinion)
	if opinion == "" {
		return nil, fmt.Errorf("%w: finalOpinion is required", ErrValidation)
	}
	if len(opinion) > maxFinalOpinionLen {
		return nil, fmt.Errorf("%w: finalOpinion is too long", ErrValidation)
	}
	if !in.Recommendation.IsValid() {
		return nil, fmt.Errorf("%w: invalid recommendation %q", ErrValidation, in.Recommendation)
	}
	if err := validateChecklist(in.Checklist); err != nil {
		return nil, err
	}

	now := s.now()
	progress := 100
	recommendation := in.Recommendation
	var active *models.ActiveInspection
	var req *models.InspectionRequest
	err = s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		active, err = s.store.UpdateActive(txCtx, inspectionID, ActiveUpdate{
			Progress:           &progress,
			Checklist:          in.Checklist,
			FinalOpinion:       &opinion,
			Recommendation:     &recommendation,
			Finalize:           true,
			ExpectAgentID:      &agent.ID,
			RequireUnfinalized: true,
			At:                 now,
		})
		if err != nil {
			return err
		}
		req, err = s.store.TransitionRequest(txCtx, active.RequestID, RequestTransition{
			From:          models.RequestStatusAccepted,
			To:            models.RequestStatusCompleted,
			ExpectAgentID: &agent.ID,
			At:            now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := observability.WithInspectionContext(s.logger, active.RequestID.String(), inspectionID.String())
	logger.Info().
		Str("recommendation", string(recommendation)).Msg("inspection report finalized")
	s.publish(ctx, models.InspectionEvent{
		Type:         models.InspectionEventCompleted,
		RequestID:    active.RequestID,
		InspectionID: &inspectionID,
		AgentID:      &agent.ID,
		OccurredAt:   now,
	})
	return newReportView(active, req), nil
}

// GetReport returns a finalized report to the agent that wrote it.
func (s *inspectionService) GetReport(ctx context.Context, userID, inspectionID utils.SixID) (*ReportView, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.ownedActive(ctx, agent, inspectionID)
	if err != nil {
		return nil, err
	}
	if !active.ReportFinalized {
		return nil, fmt.Errorf("%w: report for inspection %s is not finalized", ErrNotFound, inspectionID)
	}
	req, err := s.store.FindRequestByID(ctx, active.RequestID)
	if err != nil {
		return nil, err
	}
	return newReportView(active, req), nil
}

// ListMyReports lists the consumer's completed requests with their finalized reports.
func (s *inspectionService) ListMyReports(ctx context.Context, userID utils.SixID) ([]MyReportItem, error) {
	consumer, err := s.identities.ResolveConsumer(ctx, userID)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequestsByRequester(ctx, consumer.ID, models.RequestStatusCompleted)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return []MyReportItem{}, nil
	}

	requestIDs := make([]utils.SixID, 0, len(requests))
	for _, r := range requests {
		requestIDs = append(requestIDs, r.ID)
	}
	finalized := true
	actives, err := s.store.ListActive(ctx, ActiveFilter{RequestIDs: requestIDs, Finalized: &finalized})
	if err != nil {
		return nil, err
	}
	byRequest := make(map[utils.SixID]*models.ActiveInspection, len(actives))
	for i := range actives {
		byRequest[actives[i].RequestID] = &actives[i]
	}

	agentNames := map[utils.SixID]string{}
	items := make([]MyReportItem, 0, len(requests))
	for i := range requests {
		r := &requests[i]
		a, ok := byRequest[r.ID]
		if !ok {
			continue
		}
		if _, seen := agentNames[a.AgentID]; !seen {
			agentNames[a.AgentID] = s.agentName(ctx, a.AgentID)
		}
		view := newReportView(a, r)
		items = append(items, MyReportItem{
			ID:             r.ID,
			InspectionID:   a.ID,
			Title:          r.Title,
			Address:        r.Address,
			PriceText:      r.PriceText,
			Recommendation: view.Recommendation,
			ConfirmedAt:    view.ConfirmedAt,
			Img:            r.ImageURL,
			AgentName:      agentNames[a.AgentID],
		})
	}
	return items, nil
}

func (s *inspectionService) agentName(ctx context.Context, agentID utils.SixID) string {
	agent, err := s.identities.FindAgentByID(ctx, agentID)
	if err != nil {
		s.logger.Debug().Err(err).Str("agent_id", agentID.String()).Msg("agent lookup failed")
		return ""
	}
	return agent.RepresentativeName
}

// ViewReport returns a finalized report to the consumer who requested it.
func (s *inspectionService) ViewReport(ctx context.Context, userID, inspectionID utils.SixID) (*ConsumerReportView, error) {
	consumer, err := s.identities.ResolveConsumer(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.FindActiveByID(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	req, err := s.store.FindRequestByID(ctx, active.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != consumer.ID {
		return nil, fmt.Errorf("%w: report %s belongs to another requester", ErrForbidden, inspectionID)
	}
	if !active.ReportFinalized {
		return nil, fmt.Errorf("%w: report for inspection %s is not finalized", ErrNotFound, inspectionID)
	}

	report := newReportView(active, req)
	view := &ConsumerReportView{
		Title:          req.Title,
		Address:        req.Address,
		PriceText:      req.PriceText,
		FinalOpinion:   report.FinalOpinion,
		Recommendation: report.Recommendation,
		ChecklistData:  report.ChecklistData,
		FloorplanURL:   report.FloorplanURL,
		ConfirmedAt:    report.ConfirmedAt,
	}
	if agent, err := s.identities.FindAgentByID(ctx, active.AgentID); err == nil {
		view.AgentName = agent.RepresentativeName
		view.AgentCompany = agent.OfficeName
	}
	return view, nil
}

// CreatePhotoUploadURL presigns an S3 upload for a checklist photo of an open inspection.
func (s *inspectionService) CreatePhotoUploadURL(ctx context.Context, userID, inspectionID utils.SixID, filename, contentType string) (*PhotoUpload, error) {
	agent, err := s.identities.ResolveAgent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: content_type must be an image type", ErrValidation)
	}
	active, err := s.ownedActive(ctx, agent, inspectionID)
	if err != nil {
		return nil, err
	}
	if active.ReportFinalized {
		return nil, fmt.Errorf("%w: inspection %s is already finalized", ErrConflict, inspectionID)
	}
	if s.storage == nil {
		return nil, errors.New("photo storage is not configured")
	}

	prefix := fmt.Sprintf("inspections/%s/photos", inspectionID)
	url, key, err := s.storage.GeneratePresignedPutURL(ctx, prefix, filename, contentType)
	if err != nil {
		return nil, err
	}
	return &PhotoUpload{URL: url, Key: key, PublicURL: s.storage.PublicURL(key)}, nil
}
