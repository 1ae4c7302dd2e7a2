package tasks

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // floorplans are usually drawn as PNG
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imjang/api/internal/config"
	"imjang/api/internal/email"
	"imjang/api/internal/models"
	"imjang/api/internal/services"
	"imjang/api/internal/storage"
	"imjang/api/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery    = "email:deliver"
	TypeInspectionNotify = "inspection:notify"
	TypeFloorplanProcess = "floorplan:process"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueImages   = "images"
)

// --- Task Client (Enqueuing tasks) ---

func redisClientOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisClientOpt(rdb))
}

// Enqueuer is the part of *asynq.Client the publisher and processor need.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// InspectionNotifyPayload is the payload of TypeInspectionNotify.
type InspectionNotifyPayload struct {
	Event models.InspectionEvent `json:"event"`
}

// FloorplanTaskPayload is the payload of TypeFloorplanProcess.
type FloorplanTaskPayload struct {
	InspectionID string `json:"inspection_id"`
	Version      int    `json:"version"`
}

// EventPublisher enqueues workflow events as asynq tasks.
type EventPublisher struct {
	client Enqueuer
}

// NewEventPublisher creates an EventPublisher implementing services.IInspectionEventPublisher.
func NewEventPublisher(client Enqueuer) *EventPublisher {
	return &EventPublisher{client: client}
}

var _ services.IInspectionEventPublisher = (*EventPublisher)(nil)

// PublishStatusChange enqueues a requester notification for event.
func (p *EventPublisher) PublishStatusChange(ctx context.Context, event models.InspectionEvent) error {
	payload, err := json.Marshal(InspectionNotifyPayload{Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal inspection notify payload: %w", err)
	}
	task := asynq.NewTask(TypeInspectionNotify, payload)
	if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", TypeInspectionNotify, err)
	}
	return nil
}

// PublishFloorplanSaved enqueues normalization of one floorplan version. Re-publishing the same
// version is a no-op.
func (p *EventPublisher) PublishFloorplanSaved(ctx context.Context, inspectionID utils.SixID, version int) error {
	payload, err := json.Marshal(FloorplanTaskPayload{InspectionID: inspectionID.String(), Version: version})
	if err != nil {
		return fmt.Errorf("failed to marshal floorplan payload: %w", err)
	}
	task := asynq.NewTask(TypeFloorplanProcess, payload)
	taskID := fmt.Sprintf("floorplan:%s:%d", inspectionID, version)
	_, err = p.client.EnqueueContext(ctx, task, asynq.Queue(QueueImages), asynq.TaskID(taskID), asynq.MaxRetry(3))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue %s: %w", TypeFloorplanProcess, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	storageService       storage.IS3Storage
	store                services.IInspectionStore
	identities           services.IIdentityResolver
	emailTemplateService services.IEmailTemplateService
	taskClient           Enqueuer
	logger               zerolog.Logger
	now                  func() time.Time
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	store services.IInspectionStore,
	identities services.IIdentityResolver,
	emailTemplateService services.IEmailTemplateService,
	taskClient Enqueuer,
	logger zerolog.Logger,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		storageService:       storageService,
		store:                store,
		identities:           identities,
		emailTemplateService: emailTemplateService,
		taskClient:           taskClient,
		logger:               logger.With().Str("component", "tasks").Logger(),
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// SetupServer builds the asynq server and registers the handlers of the requested worker roles.
// It returns nil when neither role is requested.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !isBgWorker && !isImageWorker {
		processor.logger.Info().Msg("running in API mode, no task server started")
		return nil, nil
	}

	queues := map[string]int{}
	mux := asynq.NewServeMux()

	if isBgWorker {
		queues[QueueCritical] = 6
		queues[QueueDefault] = 3
		mux.HandleFunc(TypeInspectionNotify, processor.HandleInspectionNotifyTask)
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		processor.logger.Info().Msg("registered background task handlers")
	}
	if isImageWorker {
		queues[QueueImages] = 5
		mux.HandleFunc(TypeFloorplanProcess, processor.HandleFloorplanProcessTask)
		processor.logger.Info().Msg("registered image processing task handlers")
	}

	logger := processor.logger
	srv := asynq.NewServer(
		redisClientOpt(rdb),
		asynq.Config{
			Queues: queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error().Err(err).Str("task_type", task.Type()).Bytes("payload", task.Payload()).Msg("task failed")
			}),
		},
	)
	return srv, mux
}

// --- Task Handlers ---

// EmailTaskPayload is the payload of TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"` // Optional locale
	Data       map[string]interface{} `json:"data"`
}

// HandleInspectionNotifyTask turns a workflow event into an email to the requester.
func (p *TaskProcessor) HandleInspectionNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload InspectionNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal inspection notify payload: %v: %w", err, asynq.SkipRetry)
	}
	event := payload.Event
	logger := p.logger.With().Str("event", string(event.Type)).Str("request_id", event.RequestID.String()).Logger()

	req, err := p.store.FindRequestByID(ctx, event.RequestID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	requester, err := p.identities.FindUserByID(ctx, req.RequesterID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if requester.Email == "" {
		logger.Warn().Msg("requester has no email address, skipping notification")
		return nil
	}

	data := map[string]interface{}{
		"app_name":       p.cfg.AppName,
		"name":           requester.Name,
		"title":          req.Title,
		"address":        req.Address,
		"preferred_date": req.PreferredDate,
		"request_id":     req.ID.String(),
	}
	if event.InspectionID != nil {
		data["inspection_id"] = event.InspectionID.String()
	}
	if event.AgentID != nil {
		if agent, err := p.identities.FindAgentByID(ctx, *event.AgentID); err == nil {
			data["agent_name"] = agent.RepresentativeName
			data["agent_office"] = agent.OfficeName
		} else {
			logger.Debug().Err(err).Msg("agent lookup failed")
		}
	}

	emailPayload, err := json.Marshal(EmailTaskPayload{
		To:         requester.Email,
		TemplateID: services.EmailTemplateID(event.Type),
		Locale:     p.cfg.NotifyLocale,
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := p.taskClient.EnqueueContext(ctx, asynq.NewTask(TypeEmailDelivery, emailPayload), asynq.Queue(QueueCritical)); err != nil {
		return fmt.Errorf("failed to enqueue email delivery: %w", err)
	}
	logger.Info().Msg("inspection notification queued")
	return nil
}

// HandleEmailDeliveryTask renders a template and sends it.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	locale := payload.Locale
	if locale == "" {
		locale = services.DefaultEmailLocale
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("email template %s/%s not found: %w", payload.TemplateID, locale, asynq.SkipRetry)
		}
		return err
	}
	subject, body, err := services.RenderEmailTemplate(tmpl, payload.Data)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString(fmt.Sprintf("%s: %s\r\n", email.TemplateHeader, payload.TemplateID))
	sb.WriteString("Date: " + p.now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, subject, []byte(sb.String())); err != nil {
		return err
	}

	p.logger.Info().Str("to", payload.To).Str("template_id", payload.TemplateID).Msg("email delivered")
	return nil
}

// decodeDataURL returns the bytes of a base64 "data:image/...;base64," URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	header, encoded, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, errors.New("not a base64 image data URL")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return data, nil
}

// HandleFloorplanProcessTask normalizes a submitted floorplan image to a bounded JPEG in S3
// and records its URL, provided the floorplan has not been replaced in the meantime.
func (p *TaskProcessor) HandleFloorplanProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload FloorplanTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal floorplan task payload: %v: %w", err, asynq.SkipRetry)
	}
	inspectionID, err := utils.ParseSixID(payload.InspectionID)
	if err != nil {
		return fmt.Errorf("invalid inspection ID in payload: %w", asynq.SkipRetry)
	}
	logger := p.logger.With().Str("inspection_id", payload.InspectionID).Int("version", payload.Version).Logger()

	active, err := p.store.FindActiveByID(ctx, inspectionID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			logger.Info().Msg("inspection gone, skipping floorplan")
			return nil
		}
		return err
	}
	if active.FloorplanVersion != payload.Version {
		logger.Info().Int("current_version", active.FloorplanVersion).Msg("floorplan superseded, skipping")
		return nil
	}
	if active.FloorplanImage == nil {
		return nil
	}

	imgData, err := decodeDataURL(*active.FloorplanImage)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	maxSizeBytes := int64(p.cfg.FloorplanMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		return fmt.Errorf("floorplan image exceeds max size (%d > %d bytes): %w", len(imgData), maxSizeBytes, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.FloorplanMaxDimension)
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		logger.Debug().Str("format", format).Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("resizing floorplan")
		img = resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to encode floorplan: %w", err)
	}

	key := fmt.Sprintf("inspections/%s/floorplan/v%d.jpg", inspectionID, payload.Version)
	if err := p.storageService.PutObject(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		return fmt.Errorf("failed to upload floorplan: %w", err)
	}

	url := p.storageService.PublicURL(key)
	version := payload.Version
	_, err = p.store.UpdateActive(ctx, inspectionID, services.ActiveUpdate{
		FloorplanURL:           &url,
		ExpectFloorplanVersion: &version,
		RequireUnfinalized:     true,
		At:                     p.now(),
	})
	if err != nil {
		if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
			logger.Info().Err(err).Msg("floorplan changed or report finalized during processing, discarding result")
			return nil
		}
		return err
	}

	logger.Info().Str("key", key).Msg("floorplan processed")
	return nil
}
