package observations

import "codeberg.org/mutker/weatherd/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig     = errors.ErrorCode("observations_invalid_config")
	ErrInvalidDBPath     = errors.ErrorCode("observations_invalid_db_path")
	ErrInvalidResolution = errors.ErrorCode("observations_invalid_resolution")

	// Input errors
	ErrInvalidQuantity = errors.ErrorCode("observations_invalid_quantity")
	ErrInvalidReading  = errors.ErrorCode("observations_invalid_reading")
	ErrInvalidCriteria = errors.ErrorCode("observations_invalid_criteria")

	// Domain errors
	ErrDuplicateSlot   = errors.ErrorCode("observations_duplicate_slot")
	ErrReadingNotFound = errors.ErrorCode("observations_reading_not_found")
	ErrRollupNotFound  = errors.ErrorCode("observations_rollup_not_found")

	// Storage errors
	ErrStorageInit       = errors.ErrorCode("observations_storage_init_failed")
	ErrStorageAccess     = errors.ErrorCode("observations_storage_access_failed")
	ErrStorageClose      = errors.ErrorCode("observations_storage_close_failed")
	ErrTransactionFailed = errors.ErrorCode("observations_transaction_failed")
	ErrSchemaInitFailed  = errors.ErrorCode("observations_schema_init_failed")

	// Operation errors
	ErrOperationTimeout = errors.ErrorCode("observations_operation_timeout")
	ErrServiceShutdown  = errors.ErrorCode("observations_service_shutdown_failed")
)

// conflictData is attached to ErrDuplicateSlot errors so callers can point
// at the reading already occupying the slot.
type conflictData struct {
	ExistingID int64
}

// ConflictingID extracts the id of the existing reading from a duplicate
// slot error.
func ConflictingID(err error) (int64, bool) {
	data, ok := errors.DataFor(err, ErrDuplicateSlot)
	if !ok {
		return 0, false
	}

	conflict, ok := data.(conflictData)
	if !ok {
		return 0, false
	}

	return conflict.ExistingID, true
}

// IsNotFound reports whether err signals a missing reading or rollup.
func IsNotFound(err error) bool {
	return errors.HasCode(err, ErrReadingNotFound) || errors.HasCode(err, ErrRollupNotFound)
}

// IsValidation reports whether err signals malformed or missing input.
func IsValidation(err error) bool {
	return errors.HasCode(err, ErrInvalidQuantity) ||
		errors.HasCode(err, ErrInvalidReading) ||
		errors.HasCode(err, ErrInvalidCriteria)
}
