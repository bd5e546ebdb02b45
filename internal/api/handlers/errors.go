package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/api/validation"
	"github.com/rxlabels/labelhub/internal/generation"
	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/service"
)

// Codes sent in the "code" member of problem responses.
const (
	CodeValidationFailed    = "validation_failed"
	CodeNotFound            = "not_found"
	CodeLimitExceeded       = "limit_exceeded"
	CodeNoUsableFields      = "no_usable_fields"
	CodeProviderRejected    = "provider_rejected"
	CodeStoreUnavailable    = "store_unavailable"
	CodeProviderUnavailable = "provider_unavailable"
	CodeRateLimited         = "rate_limited"
	CodeRequestCancelled    = "request_cancelled"
	CodeInternal            = "internal_error"
)

const (
	statusClientClosedRequest = 499
	retryAfterSeconds         = 5
)

// errorClass is one row of the error mapping. match reports whether err belongs to the class.
type errorClass struct {
	match  func(error) bool
	status int
	title  string
	code   string
	// detail replaces err.Error() when set, for errors whose text must not leak.
	detail string
	// warn logs the error, for conditions operators should see.
	warn bool
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

var errorClasses = []errorClass{
	{match: is(service.ErrEmptyQuery), status: http.StatusBadRequest, title: "Bad Request", code: CodeValidationFailed},
	{match: is(huberrors.ErrNotFound), status: http.StatusNotFound, title: "Not Found", code: CodeNotFound},
	{
		match: is(huberrors.ErrLimitExceeded), status: http.StatusUnprocessableEntity,
		title: "Unprocessable Entity", code: CodeLimitExceeded,
	},
	{
		match: is(generation.ErrNoUsableFields), status: http.StatusUnprocessableEntity,
		title: "Unprocessable Entity", code: CodeNoUsableFields,
	},
	{
		match: is(huberrors.ErrStoreUnavailable), status: http.StatusServiceUnavailable,
		title: "Service Unavailable", code: CodeStoreUnavailable,
		detail: "storage is temporarily unavailable", warn: true,
	},
	{
		match: is(huberrors.ErrRateLimited), status: http.StatusServiceUnavailable,
		title: "Service Unavailable", code: CodeRateLimited,
		detail: "provider rate limit reached", warn: true,
	},
	{
		match: is(huberrors.ErrProviderUnavailable), status: http.StatusServiceUnavailable,
		title: "Service Unavailable", code: CodeProviderUnavailable,
		detail: "provider is temporarily unavailable", warn: true,
	},
	{
		match: is(huberrors.ErrProviderRejected), status: http.StatusUnprocessableEntity,
		title: "Unprocessable Entity", code: CodeProviderRejected,
	},
	{
		match: is(context.Canceled), status: statusClientClosedRequest,
		title: "Client Closed Request", code: CodeRequestCancelled, detail: "request cancelled",
	},
}

// respondServiceError maps service and domain errors to problem details. Unknown errors are
// logged and reported as 500 without leaking their text.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	problem := response.ProblemDetails{Instance: r.URL.Path}

	var validationErr *huberrors.ValidationError
	if errors.As(err, &validationErr) {
		problem.Title = "Validation Error"
		problem.Status = http.StatusBadRequest
		problem.Code = CodeValidationFailed
		problem.Detail = validationErr.Error()
		problem.Errors = []response.ErrorDetail{{Location: validationErr.Field, Message: validationErr.Message}}
		response.RespondProblem(w, problem)

		return
	}

	for _, class := range errorClasses {
		if !class.match(err) {
			continue
		}

		if class.warn {
			slog.WarnContext(r.Context(), op+": "+class.code, "error", err)
		}

		problem.Title = class.title
		problem.Status = class.status
		problem.Code = class.code

		problem.Detail = class.detail
		if problem.Detail == "" {
			problem.Detail = err.Error()
		}

		if class.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		}

		response.RespondProblem(w, problem)

		return
	}

	slog.ErrorContext(r.Context(), op+" failed", "error", err)

	problem.Title = "Internal Server Error"
	problem.Status = http.StatusInternalServerError
	problem.Code = CodeInternal
	problem.Detail = op + " failed"
	response.RespondProblem(w, problem)
}

// decodeBody decodes and validates a JSON body, writing the error response itself.
// It reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := validation.DecodeJSON(r, dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxErr):
		// MaxBody middleware replaces this response with a 413
		response.RespondError(w, http.StatusRequestEntityTooLarge,
			"Request Entity Too Large", "request body exceeds maximum allowed size")
	case errors.Is(err, validation.ErrInvalidBody):
		response.RespondBadRequest(w, "Invalid request body")
	default:
		validation.RespondValidationError(w, err)
	}

	return false
}
