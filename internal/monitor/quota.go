package monitor

import "errors"

// ErrQuotaUnsupported is returned where volume usage cannot be sampled.
var ErrQuotaUnsupported = errors.New("storage quota sampling unsupported on this platform")

// Usage is the capacity of a volume in bytes.
type Usage struct {
	Total uint64
	Free  uint64
}

// Used returns the bytes in use.
func (u Usage) Used() uint64 {
	if u.Free > u.Total {
		return 0
	}
	return u.Total - u.Free
}

// Ratio returns the fraction of the volume in use.
func (u Usage) Ratio() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used()) / float64(u.Total)
}
