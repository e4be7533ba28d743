//go:build !unix

package monitor

// SampleQuota is unsupported on this platform.
func SampleQuota(string) (Usage, error) {
	return Usage{}, ErrQuotaUnsupported
}
