package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imjang/api/internal/api/handlers"
	"imjang/api/internal/api/middleware"
	"imjang/api/internal/config"
	"imjang/api/internal/email"
	"imjang/api/internal/models"
	"imjang/api/internal/services"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, inspectionService services.IInspectionService, rateLimiter *middleware.RateLimiterMiddleware) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.Default()

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware(cfg.CorsOrigin))
	if rateLimiter != nil {
		r.Use(rateLimiter.Limit())
	}

	inspectionHandler := handlers.NewRestInspectionHandler(inspectionService)
	adminInspectionHandler := handlers.NewRestAdminInspectionHandler(inspectionService)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Consumer routes
		authRequired := apiGroup.Group("/inspections")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/requests", inspectionHandler.CreateRequest)
			authRequired.GET("/status", inspectionHandler.GetStatus)
			authRequired.GET("/my-reports", inspectionHandler.ListMyReports)
			authRequired.GET("/:id/view-report", inspectionHandler.ViewReport)
		}

		// Agent routes; the services re-check the agent profile behind the role claim.
		agentRequired := apiGroup.Group("/admin/inspections")
		agentRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AgentMiddleware())
		{
			agentRequired.GET("/requests", adminInspectionHandler.ListRequests)
			agentRequired.GET("/requests/:id", adminInspectionHandler.GetRequest)
			agentRequired.GET("/active", adminInspectionHandler.ListActive)
			agentRequired.GET("/completed", adminInspectionHandler.ListCompleted)

			agentRequired.POST("/:id/accept", adminInspectionHandler.Accept)
			agentRequired.POST("/:id/reject", adminInspectionHandler.Reject)
			agentRequired.POST("/:id/cancel", adminInspectionHandler.Cancel)

			agentRequired.POST("/:id/save-progress", adminInspectionHandler.SaveProgress)
			agentRequired.GET("/:id/progress", adminInspectionHandler.GetProgress)
			agentRequired.POST("/:id/floorplan", adminInspectionHandler.SaveFloorplan)
			agentRequired.GET("/:id/floorplan", adminInspectionHandler.GetFloorplan)
			agentRequired.POST("/:id/submit-report", adminInspectionHandler.SubmitReport)
			agentRequired.GET("/:id/report", adminInspectionHandler.GetReport)
			agentRequired.POST("/:id/photo-upload-url", adminInspectionHandler.CreatePhotoUploadURL)
		}
	}

	return r, nil
}

const (
	testEmailPollAttempts = 10
	testEmailPollInterval = 200 * time.Millisecond
)

// SetupServiceRouter configures the internal service API: process control, email templates,
// captured test emails and Prometheus metrics. It must not be exposed publicly.
func SetupServiceRouter(rdb *redis.Client, emailTemplates services.IEmailTemplateService, shutdownChan chan<- struct{}, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			logger.Info().Msg("received shutdown command via service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				logger.Warn().Msg("shutdown already signaled")
			}
		case "getTestEmail":
			var args []string // [templateID, email]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateID, email]"})
				return
			}
			redisKey := email.MockEmailKey(args[1], args[0])

			emailData, err := pollTestEmail(c.Request.Context(), rdb, redisKey)
			switch {
			case errors.Is(err, redis.Nil):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
			case err != nil:
				logger.Error().Err(err).Str("key", redisKey).Msg("failed to read test email")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to read test email"})
			default:
				c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})
			}

		case "saveEmailTemplate":
			var tmpl models.EmailTemplate
			if err := json.Unmarshal(req.Arguments, &tmpl); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected an email template object"})
				return
			}
			if err := emailTemplates.SaveTemplate(c.Request.Context(), &tmpl); err != nil {
				if errors.Is(err, services.ErrValidation) {
					c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
					return
				}
				logger.Error().Err(err).Str("template_id", tmpl.TemplateID).Msg("failed to save email template")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save email template"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "result": tmpl.TemplateID})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// pollTestEmail waits briefly for a captured email, deletes it and returns its decoded body.
// It returns redis.Nil if the email never shows up.
func pollTestEmail(ctx context.Context, rdb *redis.Client, key string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for i := 0; i < testEmailPollAttempts; i++ {
		raw, err := rdb.GetDel(ctx, key).Result()
		if err == nil {
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return nil, fmt.Errorf("failed to parse stored email data: %w", err)
			}
			return data, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, redis.Nil
		case <-time.After(testEmailPollInterval):
		}
	}
	return nil, redis.Nil
}
