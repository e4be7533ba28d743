// Package types defines the data model shared by the integrity and recovery
// subsystem: health verdicts, diagnostic reports, backup metadata, restore
// progress, recovery outcomes, configuration and the standard errors.
package types
