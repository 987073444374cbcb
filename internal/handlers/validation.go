package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/services"
	appErrors "github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/response"
	appValidator "github.com/charlesng35/parkpal/pkg/validator"
)

const radiusPresetTag = "radius_preset"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerValidators installs the custom tags used by request payloads.
func registerValidators() error {
	registerOnce.Do(func() {
		registerErr = appValidator.RegisterFloatSet(radiusPresetTag, services.RadiusPresets)
	})
	return registerErr
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			field := prettifyFieldName(failure.Field)
			switch failure.Tag {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", field))
			case "min", "gte":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", field, failure.Param))
			case "max", "lte":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", field, failure.Param))
			case radiusPresetTag:
				messages = append(messages, fmt.Sprintf("%s must be one of %s", field, formatPresets()))
			default:
				if failure.Param != "" {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
				} else {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
				}
			}
		}
		return strings.Join(messages, "; ")
	}

	return "invalid request payload"
}

func formatPresets() string {
	parts := make([]string, len(services.RadiusPresets))
	for i, preset := range services.RadiusPresets {
		parts[i] = strconv.FormatFloat(preset, 'f', 1, 64)
	}
	return strings.Join(parts, ", ")
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
