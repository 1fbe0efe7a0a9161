package audithook

// Action constants for audit events.
const (
	// Authorization actions
	ActionAuthorizationGranted = "authorization.granted"
	ActionAuthorizationRevoked = "authorization.revoked"

	// Charge actions
	ActionChargeSucceeded = "charge.succeeded"
	ActionChargeDenied    = "charge.denied"
	ActionChargeFailed    = "charge.failed"

	// ActionChargeUncommitted marks funds moved without the spent amount
	// being recorded.
	ActionChargeUncommitted = "charge.uncommitted"
)

// Resource constants for audit events.
const (
	ResourceAuthorization = "authorization"
	ResourceCharge        = "charge"
)

// Category constants for audit events.
const (
	CategoryAuthorization = "authorization"
	CategoryPayment       = "payment"
	CategorySecurity      = "security"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
