package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "kycvault/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validatable lets request types normalize and check themselves after decoding.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v with the given status. Encoding failures are not reported
// because the header has already been sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"success": false, "error": code, "error_description": msg}.
// Internal errors never expose a description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]any{
		"success": false,
		"error":   string(code),
	}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUpstream:
		return http.StatusBadGateway
	case dErrors.CodeUnavailable, dErrors.CodeAlignment, dErrors.CodeInvalidState:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes a JSON body into T, runs struct tag validation and
// then T's own Validate. On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if err := validate.Struct(req); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeValidation, describeValidation(err)))
		return nil, false
	}

	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			WriteError(w, err)
			return nil, false
		}
	}
	return req, true
}

// ValidateStruct runs tag validation on values that do not come from a body,
// such as query parameters.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return dErrors.New(dErrors.CodeValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
