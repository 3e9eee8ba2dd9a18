package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/paymentsvc/internal/billing/domain"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// validationErrors pairs each rejected input with the field it reports.
var validationErrors = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{billingdomain.ErrInvalidIdentity, "identityToken"},
	{billingdomain.ErrInvalidCustomerRef, "customerRef"},
	{billingdomain.ErrInvalidCard, "card"},
	{billingdomain.ErrInvalidContact, "value"},
	{paymentdomain.ErrInvalidAmount, "amount"},
	{paymentdomain.ErrInvalidRefundAmount, "refundAmount"},
	{paymentdomain.ErrInvalidScheduleTime, "scheduleAt"},
	{paymentdomain.ErrInvalidPaymentID, "paymentId"},
	{paymentdomain.ErrInvalidDomainToken, "domainToken"},
	{paymentdomain.ErrInvalidPaymentName, "paymentName"},
	{paymentdomain.ErrInvalidReason, "reason"},
	{paymentdomain.ErrInvalidGatewayEvent, "event"},
	{pagination.ErrInvalidPageToken, "page_token"},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel, field, ok := matchValidationError(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    sentinel.Error(),
					Message: validationErrorMessage(sentinel),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrConflict),
		errors.Is(err, billingdomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, paymentdomain.ErrInvalidStateTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state_transition",
			Message: "payment is not in a state that allows this operation",
		}
	case errors.Is(err, paymentdomain.ErrPaymentFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payment_failed",
			Message: "payment failed",
		}
	case errors.Is(err, paymentdomain.ErrManualRefundRequired):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "manual_refund_required",
			Message: "manual refund required",
		}
	case paymentdomain.IsGatewayFailure(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: gatewayErrorCode(err),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if paymentdomain.IsCritical(err) {
		return "critical", criticalErrorCode(err)
	}
	status, payload := mapError(err)
	if status == http.StatusBadRequest && len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if status == http.StatusBadGateway {
		return payload.Type, payload.Message
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchValidationError(err error) (error, string, bool) {
	for _, candidate := range validationErrors {
		if errors.Is(err, candidate.err) {
			return candidate.err, candidate.field, true
		}
	}
	return nil, "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, billingdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func gatewayErrorCode(err error) string {
	for _, sentinel := range []error{
		paymentdomain.ErrGatewayRejected,
		paymentdomain.ErrGatewayNotApproved,
		paymentdomain.ErrScheduleResultMismatch,
		paymentdomain.ErrMissingMerchantRef,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "gateway_error"
}

func criticalErrorCode(err error) string {
	if errors.Is(err, paymentdomain.ErrUnexpectedGatewayState) {
		return paymentdomain.ErrUnexpectedGatewayState.Error()
	}
	return paymentdomain.ErrInvariantViolation.Error()
}

func validationErrorMessage(sentinel error) string {
	switch sentinel {
	case ErrInvalidRequest:
		return "invalid request"
	case paymentdomain.ErrInvalidScheduleTime:
		return "scheduleAt must be in the future"
	case paymentdomain.ErrInvalidRefundAmount:
		return "refundAmount must be positive and not exceed the paid amount"
	default:
		return "invalid value"
	}
}
