package domain

import "errors"

var (
	ErrNotFound               = errors.New("payment_not_found")
	ErrConflict               = errors.New("payment_conflict")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInvariantViolation     = errors.New("invariant_violation")
	ErrUnexpectedGatewayState = errors.New("unexpected_gateway_state")

	ErrGatewayRejected        = errors.New("gateway_rejected")
	ErrGatewayNotApproved     = errors.New("gateway_not_approved")
	ErrScheduleResultMismatch = errors.New("schedule_result_mismatch")
	ErrMissingMerchantRef     = errors.New("missing_merchant_ref")

	ErrPaymentFailed        = errors.New("payment_failed")
	ErrManualRefundRequired = errors.New("manual_refund_required")

	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidRefundAmount = errors.New("invalid_refund_amount")
	ErrInvalidScheduleTime = errors.New("invalid_schedule_time")
	ErrInvalidPaymentID    = errors.New("invalid_payment_id")
	ErrInvalidDomainToken  = errors.New("invalid_domain_token")
	ErrInvalidPaymentName  = errors.New("invalid_payment_name")
	ErrInvalidReason       = errors.New("invalid_refund_reason")
	ErrInvalidGatewayEvent = errors.New("invalid_gateway_event")

	ErrProviderNotFound = errors.New("gateway_provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_gateway_config")
)

// IsCritical reports whether err signals inconsistent data or a broken
// gateway contract rather than an ordinary rejection.
func IsCritical(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrUnexpectedGatewayState)
}

// IsGatewayFailure reports whether err was raised by the gateway client.
func IsGatewayFailure(err error) bool {
	return errors.Is(err, ErrGatewayRejected) ||
		errors.Is(err, ErrGatewayNotApproved) ||
		errors.Is(err, ErrScheduleResultMismatch) ||
		errors.Is(err, ErrMissingMerchantRef)
}
