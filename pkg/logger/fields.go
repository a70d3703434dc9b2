package logger

// Standard field names for consistent logging.
const (
	FieldService   = "service"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldAccount   = "account"
	FieldSession   = "session_id"
	FieldRole      = "role"
	FieldMethod    = "method"
	FieldTxHash    = "tx_hash"
)
