//go:build !linux

package worker

// defaultSampler reports zero usage on platforms without a /proc-backed
// reading. A real implementation (e.g. via gopsutil) can be substituted by
// constructing the Manager with a different ResourceSampler.
type defaultSampler struct{}

func (defaultSampler) Sample(pid int) (cpuPercent, memoryMB float64, err error) {
	return 0, 0, nil
}
