// Package validation validates request bodies with go-playground/validator.
// It keeps one validator instance, reports fields by their JSON names and
// turns failures into INVALID_INPUT errors carrying per-field details.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Timestamps are persisted as Unix nanoseconds, which bounds the
// representable range to roughly 1678..2262.
var (
	MinStorableTime = time.Unix(0, math.MinInt64).UTC()
	MaxStorableTime = time.Unix(0, math.MaxInt64).UTC()
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		// jsondoc: a syntactically valid JSON document that is not null.
		_ = validate.RegisterValidation("jsondoc", func(fl validator.FieldLevel) bool {
			raw := fl.Field().Bytes()
			trimmed := bytes.TrimSpace(raw)
			return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && json.Valid(trimmed)
		})

		// storabletime: a time that survives the Unix-nanosecond round trip.
		_ = validate.RegisterValidation("storabletime", func(fl validator.FieldLevel) bool {
			t, ok := fl.Field().Interface().(time.Time)
			if !ok {
				return false
			}
			return !t.Before(MinStorableTime) && !t.After(MaxStorableTime)
		})
	})
	return validate
}

// Struct validates s. It returns nil or an *apperr.Error of kind INVALID_INPUT.
func Struct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return apperr.ErrInvalidInput.Wrap(err, "invalid request")
	}

	fields := make([]FieldError, len(validationErrs))
	messages := make([]string, len(validationErrs))
	for i, fe := range validationErrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translateError(fe),
		}
		messages[i] = fields[i].Message
	}

	return &apperr.Error{
		Kind:    apperr.KindInvalidInput,
		Message: strings.Join(messages, "; "),
		Details: map[string]any{"fields": fields},
	}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"jsondoc":  "%s must be a JSON document",
	"uuid":     "%s must be a UUID",

	"storabletime": "%s is outside the supported date range",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind() == reflect.String
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
