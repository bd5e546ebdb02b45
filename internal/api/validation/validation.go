// Package validation provides request decoding, validation and custom validators.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/models"
)

var (
	// validate and decoder are package-level singletons that are safe for concurrent
	// read-only access. All registrations MUST happen in init() only.
	validate *validator.Validate
	decoder  *form.Decoder
)

// ErrInvalidBody is returned when a JSON body cannot be decoded.
var ErrInvalidBody = errors.New("invalid request body")

func init() {
	validate = validator.New()
	decoder = form.NewDecoder()

	// report JSON field names instead of Go field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}

		return f.Name
	})

	registrations := map[string]validator.Func{
		"content_category": validateContentCategory,
		"content_type":     validateContentType,
		"audience":         validateAudience,
		"no_null_bytes":    validateNoNullBytes,
	}

	for tag, fn := range registrations {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			slog.Error("Failed to register validator", "tag", tag, "error", err)
		}
	}

	decoder.RegisterCustomTypeFunc(func(vals []string) (any, error) {
		if len(vals) == 0 {
			return models.AudienceGeneral, nil
		}

		a, err := models.ParseAudience(vals[0])
		if err != nil {
			return nil, fmt.Errorf("invalid audience: %w", err)
		}

		return a, nil
	}, models.Audience(""))

	decoder.RegisterCustomTypeFunc(func(vals []string) (any, error) {
		if len(vals) == 0 || vals[0] == "" {
			return models.ContentType(""), nil
		}

		t, err := models.ParseContentType(vals[0])
		if err != nil {
			return nil, fmt.Errorf("invalid content type: %w", err)
		}

		return t, nil
	}, models.ContentType(""))
}

// ValidateStruct validates a struct using go-playground/validator
// Returns validation errors formatted for RFC 7807 Problem Details.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// DecodeJSON decodes a JSON request body into dst, rejecting unknown fields, then validates it.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("decode body: %w", err)
		}

		return fmt.Errorf("%w: %s", ErrInvalidBody, err.Error())
	}

	return ValidateStruct(dst)
}

// validationFailure keeps the validator errors so field details survive formatting.
type validationFailure struct {
	msg  string
	errs validator.ValidationErrors
}

func (e *validationFailure) Error() string { return e.msg }

func (e *validationFailure) Unwrap() error { return e.errs }

// formatValidationErrors converts validator errors to a formatted error message
// that can be used in RFC 7807 Problem Details responses.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			messages = append(messages, formatFieldError(fieldError))
		}

		return &validationFailure{
			msg:  "validation failed: " + strings.Join(messages, "; "),
			errs: validationErrors,
		}
	}

	return err
}

// formatFieldError formats a single field validation error.
func formatFieldError(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fieldError.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fieldError.Param())
	case "content_category":
		return field + " must be one of: summary, indications, full_text"
	case "content_type":
		return field + " must be one of: title, summary, faq, explanation, related-content"
	case "audience":
		return field + " must be one of: provider, patient, general"
	case "no_null_bytes":
		return field + " must not contain NULL bytes"
	default:
		return field + " is invalid"
	}
}

// GetValidationErrorDetails extracts field-level error details from validation errors
// Returns a slice of ErrorDetail for RFC 7807 Problem Details.
func GetValidationErrorDetails(err error) []response.ErrorDetail {
	var details []response.ErrorDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			details = append(details, response.ErrorDetail{
				Location: fieldError.Field(),
				Message:  formatFieldError(fieldError),
				Value:    fieldError.Value(),
			})
		}
	}

	return details
}

// RespondValidationError writes a validation error response with RFC 7807 Problem Details.
func RespondValidationError(w http.ResponseWriter, err error) {
	response.RespondProblem(w, response.ProblemDetails{
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
		Errors: GetValidationErrorDetails(err),
	})
}

// DecodeQueryParams decodes URL query parameters into a struct.
func DecodeQueryParams(r *http.Request, dst any) error {
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("failed to decode query parameters: %w", err)
	}

	return nil
}

// ValidateAndDecodeQueryParams decodes and validates query parameters in one step.
func ValidateAndDecodeQueryParams(r *http.Request, dst any) error {
	if err := DecodeQueryParams(r, dst); err != nil {
		return err
	}

	return ValidateStruct(dst)
}

// stringValue returns the string behind a string or *string field; ok is false for nil pointers
// and non-string kinds.
func stringValue(fl validator.FieldLevel) (string, bool) {
	field := fl.Field()

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return "", false
		}

		field = field.Elem()
	}

	if field.Kind() != reflect.String {
		return "", false
	}

	return field.String(), true
}

func validateContentCategory(fl validator.FieldLevel) bool {
	s, ok := stringValue(fl)

	return !ok || s == "" || models.ContentCategory(s).IsValid()
}

// validateContentType accepts every content type except answer, which is only produced by /qa.
func validateContentType(fl validator.FieldLevel) bool {
	s, ok := stringValue(fl)
	if !ok || s == "" {
		return true
	}

	t := models.ContentType(s)

	return t.IsValid() && t != models.ContentTypeAnswer
}

func validateAudience(fl validator.FieldLevel) bool {
	s, ok := stringValue(fl)

	return !ok || s == "" || models.Audience(s).IsValid()
}

// validateNoNullBytes checks that a string field does not contain NULL bytes.
func validateNoNullBytes(fl validator.FieldLevel) bool {
	s, ok := stringValue(fl)

	return !ok || !strings.Contains(s, "\x00")
}
