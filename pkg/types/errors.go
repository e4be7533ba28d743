package types

import "errors"

// Recovery and integrity errors.
var (
	ErrStoreUnhealthy       = errors.New("store failed integrity checks")
	ErrVerificationFailed   = errors.New("post-rebuild verification failed")
	ErrValidationFailed     = errors.New("initializer validation failed")
	ErrInitInProgress       = errors.New("initialization already in progress")
	ErrRepairFailed         = errors.New("automatic repair failed")
	ErrRestoreVerification  = errors.New("restored data failed integrity checks")
	ErrBackupInvalid        = errors.New("backup image failed validation")
	ErrBackupNotFound       = errors.New("backup not found")
	ErrChecksumMismatch     = errors.New("backup checksum mismatch")
	ErrNotWAL               = errors.New("engine did not switch to write-ahead logging")
	ErrForeignKeyViolation  = errors.New("FOREIGN KEY constraint failed")
	ErrSerializeUnsupported = errors.New("driver does not support image serialization")
)
