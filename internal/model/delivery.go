package model

// EmailRequest describes the optional email leg of a delivery. Template
// rendering happens inside the email channel; the engine passes the template
// name and data through as-is.
type EmailRequest struct {
	To       string                 `json:"to" validate:"omitempty,email"`
	Template string                 `json:"template" validate:"required"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Priority Priority               `json:"priority,omitempty"`
}

// DeliveryOptions tunes a single delivery run.
type DeliveryOptions struct {
	EnableRollback bool `json:"enable_rollback"`
}

// DeliveryRequest represents one trio delivery: optional email, a persisted
// message, and a realtime push to every recipient.
type DeliveryRequest struct {
	Email      *EmailRequest   `json:"email,omitempty"`
	Record     MessageCreate   `json:"record" validate:"required"`
	Recipients []string        `json:"recipients" validate:"required,min=1"`
	Creator    *Creator        `json:"creator,omitempty"`
	Options    DeliveryOptions `json:"options"`
}

// DeliveryMetrics carries timing for a completed or failed delivery.
type DeliveryMetrics struct {
	DurationMs int64 `json:"duration_ms"`
}

// DeliveryResult is the structured outcome of a delivery run. On failure
// NotificationsSent is always zero: pushes that landed before the aborting
// failure referenced a message that was rolled back.
type DeliveryResult struct {
	Success           bool            `json:"success"`
	MessageID         string          `json:"message_id,omitempty"`
	EmailID           string          `json:"email_id,omitempty"`
	NotificationsSent int             `json:"notifications_sent"`
	Error             string          `json:"error,omitempty"`
	RollbackCompleted bool            `json:"rollback_completed"`
	Metrics           DeliveryMetrics `json:"metrics"`
}

// CleanupReasons counts deletions per retention rule for one cleanup run.
type CleanupReasons struct {
	AllRecipientsDismissed int `json:"all_recipients_dismissed"`
	LowPriorityExpired     int `json:"low_priority_expired"`
	MediumPriorityExpired  int `json:"medium_priority_expired"`
	HighPriorityExpired    int `json:"high_priority_expired"`
	ReadAndAged            int `json:"read_and_aged"`
}

// CleanupReport summarizes one retention cleanup run. ExecutionTimeMs is
// recorded even when the scan or batch delete fails, so callers learn how
// long the attempt ran before the error is re-raised.
type CleanupReport struct {
	DeletedCount      int            `json:"deleted_count"`
	ScannedCount      int            `json:"scanned_count"`
	DeletionsByReason CleanupReasons `json:"deletions_by_reason"`
	ExecutionTimeMs   int64          `json:"execution_time_ms"`
}
