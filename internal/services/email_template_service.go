package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imjang/api/internal/models"
	"imjang/api/internal/utils"
)

// DefaultEmailLocale is used when neither the task nor the config names one.
const DefaultEmailLocale = "ko-KR"

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	"inspection_accepted": {
		TemplateID: "inspection_accepted",
		Locale:     DefaultEmailLocale,
		Subject:    "[{{.app_name}}] 임장 요청이 수락되었습니다",
		Body:       "{{.title}} ({{.address}}) 임장 요청을 {{.agent_office}} {{.agent_name}} 중개사가 수락했습니다. 희망일: {{.preferred_date}}",
	},
	"inspection_rejected": {
		TemplateID: "inspection_rejected",
		Locale:     DefaultEmailLocale,
		Subject:    "[{{.app_name}}] 임장 요청이 거절되었습니다",
		Body:       "{{.title}} ({{.address}}) 임장 요청이 거절되었습니다.",
	},
	"inspection_requeued": {
		TemplateID: "inspection_requeued",
		Locale:     DefaultEmailLocale,
		Subject:    "[{{.app_name}}] 임장 담당 중개사가 변경됩니다",
		Body:       "{{.title}} ({{.address}}) 임장이 취소되어 다른 중개사에게 다시 요청됩니다.",
	},
	"inspection_cancelled": {
		TemplateID: "inspection_cancelled",
		Locale:     DefaultEmailLocale,
		Subject:    "[{{.app_name}}] 임장이 취소되었습니다",
		Body:       "{{.title}} ({{.address}}) 임장이 취소되었습니다.",
	},
	"inspection_completed": {
		TemplateID: "inspection_completed",
		Locale:     DefaultEmailLocale,
		Subject:    "[{{.app_name}}] 임장 리포트가 도착했습니다",
		Body:       "{{.title}} ({{.address}}) 임장 리포트가 확정되었습니다. 확인하기: /my/reports/{{.inspection_id}}",
	},
}

// EmailTemplateID returns the template used to notify about an event type.
func EmailTemplateID(eventType models.InspectionEventType) string {
	return "inspection_" + string(eventType)
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, template *models.EmailTemplate) error
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{
		db: db,
	}
}

// GetTemplate retrieves an email template by ID and locale, falling back to the built-in default.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var tmpl models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, filter).Decode(&tmpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if defaultTemplate, ok := defaultEmailTemplates[templateID]; ok {
				return &defaultTemplate, nil
			}
			return nil, fmt.Errorf("%w: template %s (locale: %s)", ErrNotFound, templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	return &tmpl, nil
}

// SaveTemplate upserts an email template keyed by template id and locale.
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	if tmpl.TemplateID == "" || tmpl.Locale == "" {
		return fmt.Errorf("%w: template_id and locale are required", ErrValidation)
	}
	if _, _, err := RenderEmailTemplate(tmpl, map[string]interface{}{}); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	filter := bson.M{
		"template_id": tmpl.TemplateID,
		"locale":      tmpl.Locale,
	}

	update := bson.M{
		"$set": bson.M{
			"template_id": tmpl.TemplateID,
			"locale":      tmpl.Locale,
			"subject":     tmpl.Subject,
			"body":        tmpl.Body,
		},
		"$setOnInsert": bson.M{"_id": utils.NewSixID()},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}

	return nil
}

// RenderEmailTemplate executes the subject and body of tmpl against data.
func RenderEmailTemplate(tmpl *models.EmailTemplate, data map[string]interface{}) (subject, body string, err error) {
	render := func(name, text string) (string, error) {
		t, err := template.New(name).Option("missingkey=zero").Parse(text)
		if err != nil {
			return "", fmt.Errorf("invalid %s template %s: %w", name, tmpl.TemplateID, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("failed to render %s of %s: %w", name, tmpl.TemplateID, err)
		}
		return buf.String(), nil
	}

	if subject, err = render("subject", tmpl.Subject); err != nil {
		return "", "", err
	}
	if body, err = render("body", tmpl.Body); err != nil {
		return "", "", err
	}
	return subject, body, nil
}
