// Package metrics defines the prometheus collectors of the integrity and
// recovery subsystem.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons.
const (
	PulsesTotalKey        = "ledgerkeep_monitor_pulses_total"
	StorageUtilizationKey = "ledgerkeep_storage_utilization_ratio"
	IntegritySuitesKey    = "ledgerkeep_integrity_suites_total"
	RecoveriesTotalKey    = "ledgerkeep_recoveries_total"
	RebuildsTotalKey      = "ledgerkeep_rebuilds_total"
	BackupsTotalKey       = "ledgerkeep_backups_total"
	BackupBytesTotalKey   = "ledgerkeep_backup_bytes_total"
	RestoresTotalKey      = "ledgerkeep_restores_total"
	CheckpointsTotalKey   = "ledgerkeep_checkpoints_total"
	InitializationsKey    = "ledgerkeep_initializations_total"

	Fail = "fail"
	Ok   = "ok"
)

// Collectors for ledgerkeep metrics.
var (
	PulsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: PulsesTotalKey,
		Help: "Cumulative number of integrity monitor pulses.",
	}, []string{"status"})
	StorageUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: StorageUtilizationKey,
		Help: "Fraction of the data volume in use at the last pulse.",
	})
	IntegritySuitesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: IntegritySuitesKey,
		Help: "Cumulative number of integrity test suite runs.",
	}, []string{"status"})
	RecoveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RecoveriesTotalKey,
		Help: "Cumulative number of intercepted errors by recovery outcome.",
	}, []string{"outcome"})
	RebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RebuildsTotalKey,
		Help: "Cumulative number of nuclear rebuilds.",
	}, []string{"status"})
	BackupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: BackupsTotalKey,
		Help: "Cumulative number of backups attempted.",
	}, []string{"kind", "status"})
	BackupBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: BackupBytesTotalKey,
		Help: "Cumulative number of image bytes exported to backups.",
	})
	RestoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RestoresTotalKey,
		Help: "Cumulative number of restores.",
	}, []string{"status"})
	CheckpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CheckpointsTotalKey,
		Help: "Cumulative number of write-ahead log checkpoints.",
	}, []string{"mode", "status"})
	InitializationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: InitializationsKey,
		Help: "Cumulative number of emergency initializations.",
	}, []string{"status"})
)

// Collectors lists every ledgerkeep collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PulsesTotal,
		StorageUtilization,
		IntegritySuitesTotal,
		RecoveriesTotal,
		RebuildsTotal,
		BackupsTotal,
		BackupBytesTotal,
		RestoresTotal,
		CheckpointsTotal,
		InitializationsTotal,
	}
}

// Status maps an error to the Ok/Fail label.
func Status(err error) string {
	if err != nil {
		return Fail
	}
	return Ok
}
