package http

import (
	"errors"
	"log"
	"net/http"

	"decertify/internal/domain"
	"decertify/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pipelineErrorResponse struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Step    domain.IssuanceStep  `json:"step"`
	Request *usecase.RequestView `json:"request,omitempty"`
}

// writeError maps err to a response. view is attached to pipeline failures
// so callers see the persisted attempt.
func writeError(c *gin.Context, err error, view *usecase.RequestView) {
	if issuanceErr, ok := domain.AsIssuanceError(err); ok {
		status, code := pipelineStatus(issuanceErr.Kind)
		if view != nil && view.ID == "" {
			view = nil
		}
		c.JSON(status, pipelineErrorResponse{
			Code:    code,
			Message: issuanceErr.Error(),
			Step:    issuanceErr.Step,
			Request: view,
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		status, code = http.StatusBadRequest, "INVALID_STATUS"
	case errors.Is(err, domain.ErrPolicyDenied):
		status, code = http.StatusBadRequest, "POLICY_DENIED"
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyInProgress):
		status, code = http.StatusConflict, "ALREADY_IN_PROGRESS"
	case errors.Is(err, domain.ErrTerminalState):
		status, code = http.StatusConflict, "TERMINAL_STATE"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrQuotaExceeded):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		status, code = http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func pipelineStatus(kind error) (int, string) {
	switch kind {
	case domain.ErrProcessingFailed:
		return http.StatusUnprocessableEntity, "PROCESSING_FAILED"
	case domain.ErrStoreFailed:
		return http.StatusServiceUnavailable, "STORE_FAILED"
	case domain.ErrQuotaExceeded:
		return http.StatusInsufficientStorage, "QUOTA_EXCEEDED"
	case domain.ErrLedgerUnavailable:
		return http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"
	case domain.ErrLedgerRejected:
		return http.StatusBadGateway, "LEDGER_REJECTED"
	case domain.ErrLedgerTimeout:
		return http.StatusAccepted, "LEDGER_TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
