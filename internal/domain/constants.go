package domain

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

const (
	MethodVNPay = "VNPAY"
	MethodMoMo  = "MOMO"
	MethodCOD   = "COD"
)

var PaymentMethods = []string{MethodVNPay, MethodMoMo, MethodCOD}

const (
	RefundStatusProcessing = "PROCESSING"
	RefundStatusSucceeded  = "SUCCEEDED"
	RefundStatusFailed     = "FAILED"
)

// Order payment states pushed to the order service.
const (
	OrderPaymentPaid     = "PAID"
	OrderPaymentFailed   = "PAYMENT_FAILED"
	OrderPaymentRefunded = "REFUNDED"
)

const (
	NotificationPaymentConfirmed = "PAYMENT_CONFIRMED"
	NotificationPaymentFailed    = "PAYMENT_FAILED"
	NotificationPaymentRefunded  = "PAYMENT_REFUNDED"
)

const (
	AuditCallbackNotFound         = "payment.callback.not_found"
	AuditCallbackInvalidSignature = "payment.callback.invalid_signature"
	AuditCallbackAmountMismatch   = "payment.callback.amount_mismatch"
	AuditTransitionConflict       = "payment.transition.conflict"
	AuditRefundUnverified         = "payment.refund.unverified_response"
)

// TransitionOutcome is the result of a ledger transition.
type TransitionOutcome string

const (
	TransitionApplied         TransitionOutcome = "APPLIED"
	TransitionAlreadyInTarget TransitionOutcome = "ALREADY_IN_TARGET"
	TransitionConflict        TransitionOutcome = "CONFLICT"
)

// TransitionSource returns the only status a payment may leave to reach target.
func TransitionSource(target string) (string, bool) {
	switch target {
	case PaymentStatusCompleted, PaymentStatusFailed:
		return PaymentStatusPending, true
	case PaymentStatusRefunded:
		return PaymentStatusCompleted, true
	}
	return "", false
}

// SatisfiesTarget reports whether current already fulfils a request for target.
// A refunded payment was completed first, so it satisfies COMPLETED.
func SatisfiesTarget(current, target string) bool {
	if current == target {
		return true
	}
	return target == PaymentStatusCompleted && current == PaymentStatusRefunded
}

func IsTerminal(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func ValidMethod(m string) bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}
