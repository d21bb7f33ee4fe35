package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldUser       = "user"
	FieldDepositID  = "deposit_id"
	FieldAmount     = "amount"
	FieldIsTotal    = "is_total"
	FieldAnnualRate = "annual_rate"
	FieldSheetRef   = "sheet_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
)
