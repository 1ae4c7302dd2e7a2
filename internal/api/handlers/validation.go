package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"imjang/api/internal/models"
)

// RegisterValidators adds the custom binding tags used by the inspection request bodies
// to gin's validator engine.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("recommendation", func(fl validator.FieldLevel) bool {
		return models.Recommendation(fl.Field().String()).IsValid()
	}); err != nil {
		return fmt.Errorf("failed to register recommendation validator: %w", err)
	}
	return nil
}
