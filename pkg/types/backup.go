package types

import "time"

// BackupMetadata describes one point-in-time byte image. Validated is true
// only after the image was re-opened and passed the integrity scan.
type BackupMetadata struct {
	ID        string    `json:"id" yaml:"id"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Size      int64     `json:"size" yaml:"size"`
	Validated bool      `json:"validated" yaml:"validated"`
	Emergency bool      `json:"emergency,omitempty" yaml:"emergency,omitempty"`
}

// RestoreResult is the outcome of a restore. EmergencyBackupID names the
// safety snapshot taken before the overwrite.
type RestoreResult struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
	EmergencyBackupID string    `json:"emergency_backup_id,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Stage is a step of the restore flow.
type Stage string

// Restore stages in emission order.
const (
	StageValidate Stage = "validate"
	StageSnapshot Stage = "snapshot"
	StageRestore  Stage = "restore"
	StageVerify   Stage = "verify"
	StageUIUpdate Stage = "ui-update"
	StageComplete Stage = "complete"
	StageFailed   Stage = "failed"
)

// ProgressEvent is pushed to restore observers; it is never stored.
type ProgressEvent struct {
	Stage      Stage     `json:"stage"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	// BackupID is set on the completion event to the emergency backup id.
	BackupID string `json:"backup_id,omitempty"`
}
