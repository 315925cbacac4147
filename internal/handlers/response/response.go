// Package response writes JSON bodies and maps domain errors to HTTP statuses
// for every router in the service.
package response

import (
	"errors"
	"net/http"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/pkg/encoding"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// StatusCode maps an error to the HTTP status it is reported with
func StatusCode(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeInvalidTransition:
		return http.StatusConflict
	case domain.ErrorCodeQuotaExceeded:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorCodeGatewayError, domain.ErrorCodeGatewayDeclined:
		return http.StatusBadGateway
	case domain.ErrorCodeSignatureInvalid:
		return http.StatusUnauthorized
	case domain.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case domain.ErrorCodeValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	body, err := encoding.EncodeJSON(v)
	if err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

// Error writes err as an ErrorBody. Internal errors are logged and their
// message is not exposed.
func Error(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := StatusCode(err)
	body := ErrorBody{Code: string(domain.ErrorCodeInternalError), Message: "internal error"}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) && status != http.StatusInternalServerError {
		body.Code = string(domainErr.Code)
		body.Message = domainErr.Message
		body.Details = domainErr.Details
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	JSON(w, status, body, logger)
}

// Message writes a plain error body for failures detected in the handler
func Message(w http.ResponseWriter, status int, code domain.ErrorCode, message string, logger *zap.Logger) {
	JSON(w, status, ErrorBody{Code: string(code), Message: message}, logger)
}
