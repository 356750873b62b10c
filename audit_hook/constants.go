package audithook

// Action constants for audit events.
const (
	// Download actions
	ActionDownloadAuthorized = "download.authorized"
	ActionDownloadDenied     = "download.denied"
	ActionDailyReset         = "daily.reset"

	// Gate progress actions
	ActionAdWatched      = "ad.watched"
	ActionEmailCollected = "email.collected"

	// Point ledger actions
	ActionPointsCredited = "points.credited"
	ActionPointsDebited  = "points.debited"
	ActionPointsRefunded = "points.refunded"
	ActionRefundRejected = "refund.rejected"

	// Operational actions
	ActionContention = "engine.contention"
	ActionReconciled = "ledger.reconciled"
)

// Resource constants for audit events.
const (
	ResourceAccount = "account"
	ResourceGrant   = "grant"
	ResourceEntry   = "entry"
	ResourceLedger  = "ledger"
)

// Category constants for audit events.
const (
	CategoryEntitlement = "entitlement"
	CategoryPayment     = "payment"
	CategoryAccess      = "access"
	CategoryIntegrity   = "integrity"
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
	OutcomePartial = "partial"
)
